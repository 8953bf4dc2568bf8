package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/reach-trace-service/internal/domain"
	"github.com/couchcryptid/reach-trace-service/internal/features"
	"github.com/couchcryptid/reach-trace-service/internal/pipeline"
	"github.com/couchcryptid/reach-trace-service/internal/publisher"
	"github.com/couchcryptid/reach-trace-service/internal/waters"
)

// fakeLayerStore is an in-memory feature service speaking just enough of the
// REST dialect for the update flow: per-layer query, returnIdsOnly, and
// applyEdits with adds/deletes.
type fakeLayerStore struct {
	t      *testing.T
	nextID int64
	layers map[int][]storedFeature
}

type storedFeature struct {
	objectID int64
	feature  features.Feature
}

func newFakeLayerStore(t *testing.T) *fakeLayerStore {
	return &fakeLayerStore{t: t, nextID: 1, layers: map[int][]storedFeature{}}
}

func (s *fakeLayerStore) add(layerID int, feat features.Feature) {
	s.layers[layerID] = append(s.layers[layerID], storedFeature{objectID: s.nextID, feature: feat})
	s.nextID++
}

func (s *fakeLayerStore) byReachID(layerID int, reachID string) []storedFeature {
	var out []storedFeature
	for _, sf := range s.layers[layerID] {
		if sf.feature.StringAttr("reach_id") == reachID {
			out = append(out, sf)
		}
	}
	return out
}

func (s *fakeLayerStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(s.t, r.ParseForm())

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		require.Len(s.t, parts, 2, "unexpected path %s", r.URL.Path)
		layerID, err := strconv.Atoi(parts[0])
		require.NoError(s.t, err)

		switch parts[1] {
		case "query":
			s.handleQuery(w, r, layerID)
		case "applyEdits":
			s.handleApplyEdits(w, r, layerID)
		default:
			s.t.Errorf("unexpected operation %s", parts[1])
			http.NotFound(w, r)
		}
	})
}

func (s *fakeLayerStore) handleQuery(w http.ResponseWriter, r *http.Request, layerID int) {
	where := r.FormValue("where")
	var matched []storedFeature
	if where == "1=1" {
		matched = s.layers[layerID]
	} else {
		// Only reach_id equality predicates are issued by the client.
		reachID := strings.Trim(strings.TrimPrefix(where, "reach_id = "), "'")
		matched = s.byReachID(layerID, reachID)
	}

	if r.FormValue("returnIdsOnly") == "true" {
		ids := make([]int64, len(matched))
		for i, sf := range matched {
			ids[i] = sf.objectID
		}
		writeQueryJSON(w, map[string]any{"objectIds": ids})
		return
	}

	feats := make([]features.Feature, len(matched))
	for i, sf := range matched {
		feats[i] = sf.feature
	}
	writeQueryJSON(w, map[string]any{"features": feats})
}

func (s *fakeLayerStore) handleApplyEdits(w http.ResponseWriter, r *http.Request, layerID int) {
	results := map[string]any{}

	if deletes := r.FormValue("deletes"); deletes != "" {
		var deleteResults []map[string]any
		for _, idStr := range strings.Split(deletes, ",") {
			id, err := strconv.ParseInt(idStr, 10, 64)
			require.NoError(s.t, err)
			kept := s.layers[layerID][:0]
			for _, sf := range s.layers[layerID] {
				if sf.objectID != id {
					kept = append(kept, sf)
				}
			}
			s.layers[layerID] = kept
			deleteResults = append(deleteResults, map[string]any{"objectId": id, "success": true})
		}
		results["deleteResults"] = deleteResults
	}

	if adds := r.FormValue("adds"); adds != "" {
		var feats []features.Feature
		require.NoError(s.t, json.Unmarshal([]byte(adds), &feats))
		var addResults []map[string]any
		for _, feat := range feats {
			s.add(layerID, feat)
			addResults = append(addResults, map[string]any{"objectId": s.nextID - 1, "success": true})
		}
		results["addResults"] = addResults
	}

	writeQueryJSON(w, results)
}

func writeQueryJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// fakeWaters serves canned PointIndexing and UpstreamDownStream responses.
func fakeWaters(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/PointIndexing.Service":
			geom := r.URL.Query().Get("pGeometry")
			comid, measure := int64(23770411), 44.1
			if strings.Contains(geom, "-121.6072") {
				comid, measure = int64(23770417), 12.9
			}
			fmt.Fprintf(w, `{"output":{
				"end_point":{"coordinates":[-121.63305,45.79531]},
				"ary_flowlines":[{"comid":%d,"fmeasure":%g}]
			}}`, comid, measure)
		case "/UpstreamDownStream.Service":
			fmt.Fprint(w, `{"output":{"flowlines_traversed":[
				{"comid":23770411,"shape":{"type":"LineString","coordinates":[[-121.6330,45.7953],[-121.6200,45.7800]]}},
				{"comid":23770417,"shape":{"type":"LineString","coordinates":[[-121.6200,45.7800],[-121.6072,45.7523]]}}
			]}}`)
		default:
			t.Errorf("unexpected waters path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

// TestUpdateFlow_EndToEnd drives one queue-style update for reach 2270
// through the real WATERS and feature-service clients against fakes: both
// accesses snap, the trace yields a line, and all three layers end up with
// fresh records keyed by the reach id.
func TestUpdateFlow_EndToEnd(t *testing.T) {
	const (
		lineLayer     = 0
		centroidLayer = 1
		pointLayer    = 2
	)

	store := newFakeLayerStore(t)
	// Existing state: stale line + centroid from an earlier trace, and the
	// two access points that drive the update.
	store.add(lineLayer, features.Feature{Attributes: map[string]any{"reach_id": "2270", "name_river": "stale"}})
	store.add(centroidLayer, features.Feature{Attributes: map[string]any{
		"reach_id":     "2270",
		"name_river":   "White Salmon",
		"name_section": "Farmlands",
		"difficulty":   "IV-V",
	}})
	store.add(pointLayer, accessFeature("putin", -121.633094, 45.79532367))
	store.add(pointLayer, accessFeature("takeout", -121.607200, 45.75231000))

	featureSrv := httptest.NewServer(store.handler())
	defer featureSrv.Close()
	watersSrv := fakeWaters(t)
	defer watersSrv.Close()

	metrics := newTestMetrics()
	logger := slog.Default()

	watersClient := waters.NewClient(watersSrv.URL, 5*time.Second, 5, 10, metrics, logger)
	featureClient := features.NewClient(featureSrv.URL, "", "", 5*time.Second, logger)

	pub := publisher.New(
		featureClient.Layer(lineLayer),
		featureClient.Layer(centroidLayer),
		featureClient.Layer(pointLayer),
		metrics, logger,
	)
	proc := pipeline.NewReachProcessor(
		featureClient.Layer(pointLayer),
		featureClient.Layer(centroidLayer),
		watersClient, watersClient, pub, logger,
	)

	result, err := proc.Process(context.Background(),
		domain.UpdateRequest{Attributes: domain.UpdateAttributes{ObjectID: 7, ReachID: "2270"}})
	require.NoError(t, err)

	assert.True(t, result.Traced)
	assert.NotEmpty(t, result.EncodedLine)
	require.NotNil(t, result.Putin)
	assert.Equal(t, int64(23770411), result.Putin.FlowlineID)
	require.NotNil(t, result.Takeout)
	assert.Equal(t, int64(23770417), result.Takeout.FlowlineID)

	// One fresh record per layer (two for the point layer), all keyed by the
	// reach id; the stale line is gone.
	lines := store.byReachID(lineLayer, "2270")
	require.Len(t, lines, 1)
	assert.Equal(t, "White Salmon", lines[0].feature.StringAttr("name_river"))
	assert.NotEmpty(t, lines[0].feature.Geometry.Paths)

	centroids := store.byReachID(centroidLayer, "2270")
	require.Len(t, centroids, 1)
	assert.Equal(t, "Farmlands", centroids[0].feature.StringAttr("name_section"))

	points := store.byReachID(pointLayer, "2270")
	require.Len(t, points, 2)
	for _, sf := range points {
		assert.NotEmpty(t, sf.feature.Attributes["nhdplus_comid"], "access should carry its snap result")
	}
}
