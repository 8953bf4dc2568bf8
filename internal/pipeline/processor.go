package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/reach-trace-service/internal/domain"
	"github.com/couchcryptid/reach-trace-service/internal/features"
	"github.com/couchcryptid/reach-trace-service/internal/waters"
)

// Snapper indexes a point against the hydrographic network.
type Snapper interface {
	Snap(ctx context.Context, pt orb.Point) (waters.SnapResult, error)
}

// Tracer computes the flow path between two snapped points.
type Tracer interface {
	Trace(ctx context.Context, start, stop waters.LinearRef) (waters.TraceResult, error)
}

// AccessSource yields the stored access-point features for a reach.
type AccessSource interface {
	QueryByReachID(ctx context.Context, reachID string) ([]features.Feature, error)
}

// ReachPublisher upserts a processed reach into the feature layers.
type ReachPublisher interface {
	Publish(ctx context.Context, reach *domain.Reach) error
}

// ReachProcessor runs the snap-trace-publish cycle for one reach at a time.
type ReachProcessor struct {
	accesses  AccessSource
	centroids AccessSource
	snapper   Snapper
	tracer    Tracer
	publisher ReachPublisher
	logger    *slog.Logger
}

// NewReachProcessor wires the processing stages together. accesses is the
// point layer; centroids is the centroid layer, read so that river and
// difficulty attributes survive a republish.
func NewReachProcessor(accesses, centroids AccessSource, snapper Snapper, tracer Tracer, publisher ReachPublisher, logger *slog.Logger) *ReachProcessor {
	return &ReachProcessor{
		accesses:  accesses,
		centroids: centroids,
		snapper:   snapper,
		tracer:    tracer,
		publisher: publisher,
		logger:    logger,
	}
}

// Process loads the reach's accesses from the point layer, runs the update
// cycle, and reports the outcome for the sink topic.
func (p *ReachProcessor) Process(ctx context.Context, req domain.UpdateRequest) (domain.UpdateResult, error) {
	reachID := req.Attributes.ReachID

	feats, err := p.accesses.QueryByReachID(ctx, reachID)
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("load accesses for reach %s: %w", reachID, err)
	}

	reach := domain.NewReach(reachID)
	for _, feat := range feats {
		pt, convErr := accessFromFeature(reachID, feat)
		if convErr != nil {
			return domain.UpdateResult{}, fmt.Errorf("reach %s: %w", reachID, convErr)
		}
		reach.SetAccess(pt)
	}

	if err := p.loadReachInfo(ctx, reach); err != nil {
		return domain.UpdateResult{}, err
	}

	if err := p.UpdateReach(ctx, reach); err != nil {
		return domain.UpdateResult{}, err
	}
	return domain.NewUpdateResult(reach), nil
}

// UpdateReach snaps the reach's put-in and take-out, traces the connecting
// flow path, and publishes the result. The reach is mutated in place.
//
// An empty trace is a valid outcome: the reach is published without a line
// and its stale line records are cleared.
func (p *ReachProcessor) UpdateReach(ctx context.Context, reach *domain.Reach) error {
	if err := reach.ValidateForTrace(); err != nil {
		return fmt.Errorf("reach %s: %w", reach.ID, err)
	}

	putin, _ := reach.Putin()
	takeout, _ := reach.Takeout()

	if err := p.snapAccess(ctx, reach.ID, putin); err != nil {
		return err
	}
	if err := p.snapAccess(ctx, reach.ID, takeout); err != nil {
		return err
	}

	trace, err := p.tracer.Trace(ctx,
		waters.LinearRef{FlowlineID: putin.FlowlineID, Measure: putin.Measure},
		waters.LinearRef{FlowlineID: takeout.FlowlineID, Measure: takeout.Measure},
	)
	if err != nil {
		return fmt.Errorf("trace reach %s: %w", reach.ID, err)
	}

	if trace.Empty() {
		p.logger.Info("trace found no flowlines between accesses", "reach_id", reach.ID)
		reach.SetGeometry(nil)
	} else {
		reach.SetGeometry(domain.ConcatenateSegments(trace.Segments()))
	}

	if err := p.publisher.Publish(ctx, reach); err != nil {
		return err
	}

	p.logger.Info("reach updated",
		"reach_id", reach.ID,
		"traced", reach.Traced(),
		"flowlines", len(trace.Flowlines),
		"trace_attempts", trace.Attempts,
	)
	return nil
}

// loadReachInfo copies the descriptive attributes of the reach's existing
// centroid record, if one exists, so a republish does not blank them.
func (p *ReachProcessor) loadReachInfo(ctx context.Context, reach *domain.Reach) error {
	feats, err := p.centroids.QueryByReachID(ctx, reach.ID)
	if err != nil {
		return fmt.Errorf("load reach info for reach %s: %w", reach.ID, err)
	}
	if len(feats) == 0 {
		return nil
	}

	feat := feats[0]
	reach.RiverName = feat.StringAttr("name_river")
	reach.SectionName = feat.StringAttr("name_section")
	reach.Difficulty = domain.ParseDifficulty(feat.StringAttr("difficulty"))
	reach.Notes = feat.StringAttr("notes")
	return nil
}

func (p *ReachProcessor) snapAccess(ctx context.Context, reachID string, pt *domain.AccessPoint) error {
	snapped, err := p.snapper.Snap(ctx, pt.Geometry)
	if err != nil {
		return fmt.Errorf("snap %s for reach %s: %w", pt.Kind, reachID, err)
	}
	pt.SetLinearReference(snapped.Geometry, snapped.FlowlineID, snapped.Measure)
	return nil
}

// accessFromFeature rebuilds a domain access point from its stored feature,
// failing fast on missing required fields.
func accessFromFeature(reachID string, feat features.Feature) (domain.AccessPoint, error) {
	kind := domain.AccessKind(feat.StringAttr("kind"))
	switch kind {
	case domain.AccessPutin, domain.AccessTakeout, domain.AccessIntermediate:
	default:
		return domain.AccessPoint{}, fmt.Errorf("access feature has unknown kind %q", feat.StringAttr("kind"))
	}

	geom, ok := feat.Geometry.Point()
	if !ok {
		return domain.AccessPoint{}, fmt.Errorf("%s access feature has no point geometry", kind)
	}

	pt := domain.NewAccessPoint(reachID, kind, geom[0], geom[1])
	if uid := feat.StringAttr("uid"); uid != "" {
		pt.UID = uid
	}
	pt.Name = feat.StringAttr("name")
	if err := pt.SetSideOfRiver(feat.StringAttr("side_of_river")); err != nil {
		return domain.AccessPoint{}, err
	}
	return pt, nil
}
