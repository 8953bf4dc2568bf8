package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/reach-trace-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/reach-trace-service/internal/adapter/kafka"
	"github.com/couchcryptid/reach-trace-service/internal/config"
	"github.com/couchcryptid/reach-trace-service/internal/features"
	"github.com/couchcryptid/reach-trace-service/internal/observability"
	"github.com/couchcryptid/reach-trace-service/internal/pipeline"
	"github.com/couchcryptid/reach-trace-service/internal/publisher"
	"github.com/couchcryptid/reach-trace-service/internal/waters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	watersClient := waters.NewClient(cfg.WatersBaseURL, cfg.WatersTimeout,
		cfg.SnapSearchDistKm, cfg.TraceMaxAttempts, metrics, logger)

	featureClient := features.NewClient(cfg.FeatureServiceURL,
		cfg.FeatureUsername, cfg.FeaturePassword, cfg.FeatureTimeout, logger)
	lineLayer := featureClient.Layer(cfg.LineLayerID)
	centroidLayer := featureClient.Layer(cfg.CentroidLayerID)
	pointLayer := featureClient.Layer(cfg.PointLayerID)

	pub := publisher.New(lineLayer, centroidLayer, pointLayer, metrics, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	processor := pipeline.NewReachProcessor(pointLayer, centroidLayer,
		watersClient, watersClient, pub, logger)

	p := pipeline.New(reader, processor, writer, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start update pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
