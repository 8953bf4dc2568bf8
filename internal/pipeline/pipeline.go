package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/reach-trace-service/internal/domain"
	"github.com/couchcryptid/reach-trace-service/internal/observability"
	"github.com/couchcryptid/reach-trace-service/internal/publisher"
	"github.com/couchcryptid/reach-trace-service/internal/waters"
)

// Extractor reads one raw update event from the source.
type Extractor interface {
	Extract(ctx context.Context) (domain.RawEvent, error)
}

// Processor runs the update cycle for one parsed request.
type Processor interface {
	Process(ctx context.Context, req domain.UpdateRequest) (domain.UpdateResult, error)
}

// Loader writes one update result to the destination.
type Loader interface {
	Load(ctx context.Context, result domain.UpdateResult) error
}

// Pipeline orchestrates the extract-process-load loop, one reach at a time.
//
// Reach updates are deliberately sequential: the EPA WATERS services are
// rate-sensitive and a single editor drives far less than one update per
// second, so there is nothing to gain from concurrency.
type Pipeline struct {
	extractor Extractor
	processor Processor
	loader    Loader
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, p Processor, l Loader, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor: e,
		processor: p,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil if the pipeline has processed at least one message,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// Run executes the update loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started")
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Only source extraction backs off; a failed reach never blocks the next.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processNext(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processNext runs one extract-process-load cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processNext(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	raw, err := p.extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.metrics.MessagesConsumed.Inc()
	*backoff = 200 * time.Millisecond

	req, err := domain.ParseUpdateRequest(raw)
	if err != nil {
		p.logger.Warn("unparseable update message, skipping",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.ReachUpdates.WithLabelValues("bad_message").Inc()
		p.commitOffset(ctx, raw)
		return true
	}

	start := time.Now()
	result, err := p.processor.Process(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		// A failed reach is logged and counted, then the loop moves on.
		p.logger.Error("reach update failed",
			"error", err,
			"reach_id", req.Attributes.ReachID,
		)
		p.metrics.ReachUpdates.WithLabelValues(failureOutcome(err)).Inc()
		p.commitOffset(ctx, raw)
		return true
	}

	if err := p.loader.Load(ctx, result); err != nil {
		// The layers are already updated; publishing the result event is
		// retried on redelivery, which the upsert tolerates.
		p.logger.Error("load result failed", "error", err, "reach_id", result.ReachID)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}
	p.metrics.EventsProduced.Inc()

	outcome := "traced"
	if !result.Traced {
		outcome = "empty_trace"
	}
	p.metrics.ReachUpdates.WithLabelValues(outcome).Inc()
	p.metrics.ReachProcessingDuration.Observe(time.Since(start).Seconds())

	p.commitOffset(ctx, raw)
	p.ready.Store(true)
	return true
}

// failureOutcome maps a processing error onto its metric label.
func failureOutcome(err error) string {
	var exhausted *waters.RetryExhaustedError
	var partial *publisher.PartialError
	switch {
	case errors.Is(err, waters.ErrNoSnap), errors.Is(err, domain.ErrAccessesIncomplete):
		return "snap_failed"
	case errors.As(err, &exhausted):
		return "trace_failed"
	case errors.As(err, &partial):
		return "publish_failed"
	default:
		return "error"
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
