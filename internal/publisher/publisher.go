// Package publisher upserts processed reaches into the three hosted feature
// layers: traced line, centroid, and access points.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/couchcryptid/reach-trace-service/internal/domain"
	"github.com/couchcryptid/reach-trace-service/internal/features"
	"github.com/couchcryptid/reach-trace-service/internal/observability"
)

// Layer is the slice of the feature-service surface the publisher needs.
// *features.Layer satisfies it.
type Layer interface {
	AddFeatures(ctx context.Context, feats []features.Feature) error
	DeleteByReachID(ctx context.Context, reachID string) (int, error)
}

// Layer names used in errors and metrics.
const (
	layerLine     = "line"
	layerCentroid = "centroid"
	layerPoint    = "point"
)

// PartialError reports a publish where at least one layer upsert failed.
// The record set is left inconsistent across layers; callers must surface
// this, not swallow it.
type PartialError struct {
	ReachID string
	Failed  map[string]error
}

func (e *PartialError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, e.Failed[name])
	}
	return fmt.Sprintf("publish reach %s partially failed: %s", e.ReachID, strings.Join(parts, "; "))
}

// Publisher upserts reach records keyed by reach id.
type Publisher struct {
	line     Layer
	centroid Layer
	point    Layer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New wires a publisher to the three reach layers.
func New(line, centroid, point Layer, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		line:     line,
		centroid: centroid,
		point:    point,
		metrics:  metrics,
		logger:   logger,
	}
}

// Publish upserts the reach into all three layers: any existing records for
// its id are deleted, then the fresh ones inserted. Each layer is attempted
// regardless of earlier failures; a *PartialError reports whatever failed.
// There is no cross-layer transaction.
//
// A reach with no traced geometry still has its stale line records removed,
// but no new line is written; the centroid and points are published either
// way.
func (p *Publisher) Publish(ctx context.Context, reach *domain.Reach) error {
	failed := make(map[string]error)

	var lineFeats []features.Feature
	if reach.Traced() {
		lineFeats = []features.Feature{lineFeature(reach)}
	}
	if err := p.upsert(ctx, p.line, reach.ID, lineFeats); err != nil {
		failed[layerLine] = err
	}

	var centroidFeats []features.Feature
	if feat, ok := centroidFeature(reach); ok {
		centroidFeats = []features.Feature{feat}
	}
	if err := p.upsert(ctx, p.centroid, reach.ID, centroidFeats); err != nil {
		failed[layerCentroid] = err
	}

	if err := p.upsert(ctx, p.point, reach.ID, accessFeatures(reach)); err != nil {
		failed[layerPoint] = err
	}

	if len(failed) > 0 {
		for name := range failed {
			p.metrics.PublishFailures.WithLabelValues(name).Inc()
		}
		return &PartialError{ReachID: reach.ID, Failed: failed}
	}

	p.logger.Info("reach published",
		"reach_id", reach.ID,
		"traced", reach.Traced(),
		"points", len(reach.Points),
	)
	return nil
}

func (p *Publisher) upsert(ctx context.Context, layer Layer, reachID string, feats []features.Feature) error {
	deleted, err := layer.DeleteByReachID(ctx, reachID)
	if err != nil {
		return fmt.Errorf("delete existing: %w", err)
	}
	if deleted > 0 {
		p.logger.Debug("removed existing records", "reach_id", reachID, "count", deleted)
	}
	if err := layer.AddFeatures(ctx, feats); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}
