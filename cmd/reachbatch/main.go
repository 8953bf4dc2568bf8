// Command reachbatch runs the snap-trace-publish cycle for a set of reaches
// without going through the update queue. Reaches come either from ids given
// as arguments (accesses loaded from the point layer) or from an access-point
// CSV.
//
// Usage:
//
//	go run ./cmd/reachbatch 2270 3351
//	go run ./cmd/reachbatch -csv accesses.csv
//
// Processing is sequential and continues past failed reaches; the exit code
// is non-zero when any reach failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/reach-trace-service/internal/accessdata"
	"github.com/couchcryptid/reach-trace-service/internal/config"
	"github.com/couchcryptid/reach-trace-service/internal/domain"
	"github.com/couchcryptid/reach-trace-service/internal/features"
	"github.com/couchcryptid/reach-trace-service/internal/observability"
	"github.com/couchcryptid/reach-trace-service/internal/pipeline"
	"github.com/couchcryptid/reach-trace-service/internal/publisher"
	"github.com/couchcryptid/reach-trace-service/internal/waters"
)

func main() {
	csvPath := flag.String("csv", "", "access-point CSV to trace instead of reach ids")
	flag.Parse()

	if *csvPath == "" && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: reachbatch [-csv accesses.csv] [reach-id ...]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetricsForTesting()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watersClient := waters.NewClient(cfg.WatersBaseURL, cfg.WatersTimeout,
		cfg.SnapSearchDistKm, cfg.TraceMaxAttempts, metrics, logger)

	featureClient := features.NewClient(cfg.FeatureServiceURL,
		cfg.FeatureUsername, cfg.FeaturePassword, cfg.FeatureTimeout, logger)
	pointLayer := featureClient.Layer(cfg.PointLayerID)
	centroidLayer := featureClient.Layer(cfg.CentroidLayerID)

	pub := publisher.New(featureClient.Layer(cfg.LineLayerID), centroidLayer, pointLayer, metrics, logger)
	processor := pipeline.NewReachProcessor(pointLayer, centroidLayer,
		watersClient, watersClient, pub, logger)

	failed := 0
	if *csvPath != "" {
		failed = runCSV(ctx, processor, logger, *csvPath)
	} else {
		failed = runIDs(ctx, processor, logger, flag.Args())
	}

	if failed > 0 {
		logger.Error("batch finished with failures", "failed", failed)
		os.Exit(1)
	}
	logger.Info("batch finished")
}

// runIDs re-traces reaches whose accesses already live in the point layer.
func runIDs(ctx context.Context, processor *pipeline.ReachProcessor, logger *slog.Logger, ids []string) int {
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			logger.Warn("batch interrupted")
			return failed + 1
		}
		req := domain.UpdateRequest{Attributes: domain.UpdateAttributes{ReachID: id}}
		result, err := processor.Process(ctx, req)
		if err != nil {
			logger.Error("reach failed", "reach_id", id, "error", err)
			failed++
			continue
		}
		logger.Info("reach done", "reach_id", id, "traced", result.Traced)
	}
	return failed
}

// runCSV traces reaches assembled from an access-point CSV.
func runCSV(ctx context.Context, processor *pipeline.ReachProcessor, logger *slog.Logger, path string) int {
	f, err := os.Open(path)
	if err != nil {
		logger.Error("open csv", "path", path, "error", err)
		return 1
	}
	defer f.Close()

	reaches, err := accessdata.ReadReaches(f)
	if err != nil {
		logger.Error("read csv", "path", path, "error", err)
		return 1
	}
	logger.Info("loaded access csv", "path", path, "reaches", len(reaches))

	failed := 0
	for _, reach := range reaches {
		if ctx.Err() != nil {
			logger.Warn("batch interrupted")
			return failed + 1
		}
		if err := processor.UpdateReach(ctx, reach); err != nil {
			logger.Error("reach failed", "reach_id", reach.ID, "error", err)
			failed++
			continue
		}
		logger.Info("reach done", "reach_id", reach.ID, "traced", reach.Traced())
	}
	return failed
}
