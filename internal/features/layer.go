package features

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// wgs84 is the spatial reference all reach layers are published in.
var wgs84 = &SpatialReference{WKID: 4326}

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID int `json:"wkid"`
}

// Geometry is the platform's JSON geometry: a point carries x/y, a polyline
// carries paths.
type Geometry struct {
	X                *float64          `json:"x,omitempty"`
	Y                *float64          `json:"y,omitempty"`
	Paths            [][][]float64     `json:"paths,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// PointGeometry builds a WGS-84 point geometry.
func PointGeometry(pt orb.Point) *Geometry {
	x, y := pt[0], pt[1]
	return &Geometry{X: &x, Y: &y, SpatialReference: wgs84}
}

// PolylineGeometry builds a single-path WGS-84 polyline geometry.
func PolylineGeometry(line orb.LineString) *Geometry {
	path := make([][]float64, len(line))
	for i, pt := range line {
		path[i] = []float64{pt[0], pt[1]}
	}
	return &Geometry{Paths: [][][]float64{path}, SpatialReference: wgs84}
}

// Point returns the geometry as an orb.Point when it carries x/y.
func (g *Geometry) Point() (orb.Point, bool) {
	if g == nil || g.X == nil || g.Y == nil {
		return orb.Point{}, false
	}
	return orb.Point{*g.X, *g.Y}, true
}

// Feature is one record of a layer: attribute map plus optional geometry.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
}

// StringAttr returns a string attribute, tolerating absent or null values.
func (f Feature) StringAttr(name string) string {
	v, ok := f.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Layer is a handle to one layer of a feature service.
type Layer struct {
	client *Client
	id     int
}

func (l *Layer) url(op string) string {
	return fmt.Sprintf("%s/%d/%s", l.client.baseURL, l.id, op)
}

type queryResponse struct {
	Features  []Feature `json:"features"`
	ObjectIDs []int64   `json:"objectIds"`
	Error     *apiError `json:"error"`
}

// Query returns the features matching a where clause.
func (l *Layer) Query(ctx context.Context, where string) ([]Feature, error) {
	form := url.Values{
		"where":     {where},
		"outFields": {"*"},
	}

	var resp queryResponse
	if err := l.client.do(ctx, l.url("query"), form, &resp); err != nil {
		return nil, fmt.Errorf("query layer %d: %w", l.id, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("query layer %d: %w", l.id, resp.Error)
	}
	return resp.Features, nil
}

// QueryByReachID returns the features whose reach_id attribute equals the
// given id.
func (l *Layer) QueryByReachID(ctx context.Context, reachID string) ([]Feature, error) {
	return l.Query(ctx, reachIDWhere(reachID))
}

// QueryIDs returns only the object ids matching a where clause.
func (l *Layer) QueryIDs(ctx context.Context, where string) ([]int64, error) {
	form := url.Values{
		"where":         {where},
		"returnIdsOnly": {"true"},
	}

	var resp queryResponse
	if err := l.client.do(ctx, l.url("query"), form, &resp); err != nil {
		return nil, fmt.Errorf("query ids layer %d: %w", l.id, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("query ids layer %d: %w", l.id, resp.Error)
	}
	return resp.ObjectIDs, nil
}

type editResult struct {
	ObjectID int64 `json:"objectId"`
	Success  bool  `json:"success"`
}

type editResponse struct {
	AddResults    []editResult `json:"addResults"`
	DeleteResults []editResult `json:"deleteResults"`
	Error         *apiError    `json:"error"`
}

// AddFeatures inserts new features into the layer, failing when any
// individual add is rejected.
func (l *Layer) AddFeatures(ctx context.Context, feats []Feature) error {
	if len(feats) == 0 {
		return nil
	}

	payload, err := json.Marshal(feats)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	var resp editResponse
	if err := l.client.do(ctx, l.url("applyEdits"), url.Values{"adds": {string(payload)}}, &resp); err != nil {
		return fmt.Errorf("add features layer %d: %w", l.id, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("add features layer %d: %w", l.id, resp.Error)
	}
	for _, r := range resp.AddResults {
		if !r.Success {
			return fmt.Errorf("add features layer %d: add of object %d rejected", l.id, r.ObjectID)
		}
	}
	return nil
}

// DeleteFeatures removes features by object id. A no-op for an empty list.
func (l *Layer) DeleteFeatures(ctx context.Context, objectIDs []int64) error {
	if len(objectIDs) == 0 {
		return nil
	}

	ids := make([]string, len(objectIDs))
	for i, id := range objectIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}

	var resp editResponse
	form := url.Values{"deletes": {strings.Join(ids, ",")}}
	if err := l.client.do(ctx, l.url("applyEdits"), form, &resp); err != nil {
		return fmt.Errorf("delete features layer %d: %w", l.id, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("delete features layer %d: %w", l.id, resp.Error)
	}
	for _, r := range resp.DeleteResults {
		if !r.Success {
			return fmt.Errorf("delete features layer %d: delete of object %d rejected", l.id, r.ObjectID)
		}
	}
	return nil
}

// DeleteByReachID removes every feature carrying the given reach_id,
// returning how many were deleted.
func (l *Layer) DeleteByReachID(ctx context.Context, reachID string) (int, error) {
	ids, err := l.QueryIDs(ctx, reachIDWhere(reachID))
	if err != nil {
		return 0, err
	}
	if err := l.DeleteFeatures(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// reachIDWhere builds the equality predicate for a reach id, doubling any
// embedded quotes.
func reachIDWhere(reachID string) string {
	return fmt.Sprintf("reach_id = '%s'", strings.ReplaceAll(reachID, "'", "''"))
}
