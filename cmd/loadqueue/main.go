// Command loadqueue seeds the update queue: it queries the centroid layer for
// every stored reach and produces one update request per reach to the source
// topic. Run it to force a full re-trace, e.g. after a hydrography release.
//
// Usage:
//
//	go run ./cmd/loadqueue           # all reaches
//	go run ./cmd/loadqueue -where "difficulty = 'V'"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/reach-trace-service/internal/config"
	"github.com/couchcryptid/reach-trace-service/internal/domain"
	"github.com/couchcryptid/reach-trace-service/internal/features"
	"github.com/couchcryptid/reach-trace-service/internal/observability"
)

func main() {
	where := flag.String("where", "1=1", "attribute predicate selecting reaches to enqueue")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *where); err != nil {
		logger.Error("load queue failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, where string) error {
	featureClient := features.NewClient(cfg.FeatureServiceURL,
		cfg.FeatureUsername, cfg.FeaturePassword, cfg.FeatureTimeout, logger)
	centroids := featureClient.Layer(cfg.CentroidLayerID)

	feats, err := centroids.Query(ctx, where)
	if err != nil {
		return err
	}
	logger.Info("queried centroid layer", "where", where, "reaches", len(feats))

	producer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSourceTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	defer producer.Close()

	msgs := make([]kafkago.Message, 0, len(feats))
	skipped := 0
	for _, feat := range feats {
		reachID := feat.StringAttr("reach_id")
		if reachID == "" {
			skipped++
			continue
		}
		objectID := 0
		if v, ok := feat.Attributes["OBJECTID"].(float64); ok {
			objectID = int(v)
		}

		payload, err := json.Marshal(domain.UpdateRequest{
			Attributes: domain.UpdateAttributes{ObjectID: objectID, ReachID: reachID},
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafkago.Message{Key: []byte(reachID), Value: payload})
	}
	if skipped > 0 {
		logger.Warn("skipped centroid features without reach_id", "count", skipped)
	}
	if len(msgs) == 0 {
		logger.Info("nothing to enqueue")
		return nil
	}

	if err := producer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	logger.Info("enqueued update requests", "topic", cfg.KafkaSourceTopic, "count", len(msgs))
	return nil
}
