package waters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/reach-trace-service/internal/observability"
)

const (
	pointIndexingPath = "/PointIndexing.Service"
	upstreamDownPath  = "/UpstreamDownStream.Service"

	// crs84 pins both request and response coordinates to WGS-84 lon/lat.
	crs84 = "SRSNAME=urn:ogc:def:crs:OGC::CRS84"
)

// ErrNoSnap indicates the indexing service found no flowline within the
// search radius. Terminal for the reach being processed.
var ErrNoSnap = errors.New("no flowline within search radius")

// LinearRef locates a point on the hydrographic network as a flowline
// identifier plus a measure along it.
type LinearRef struct {
	FlowlineID int64
	Measure    float64
}

// SnapResult is a successfully indexed point: the snapped geometry plus the
// linear reference needed for tracing.
type SnapResult struct {
	Geometry   orb.Point
	FlowlineID int64
	Measure    float64
}

// Ref returns the linear reference of the snapped point.
func (s SnapResult) Ref() LinearRef {
	return LinearRef{FlowlineID: s.FlowlineID, Measure: s.Measure}
}

// Flowline is one traversed segment of a trace result.
type Flowline struct {
	FlowlineID int64
	Geometry   orb.LineString
}

// TraceResult is the ordered list of flowlines connecting two snapped
// points. An empty result is a valid no-path outcome, not an error.
type TraceResult struct {
	Flowlines []Flowline
	Attempts  int
}

// Empty reports whether the trace traversed no flowlines.
func (t TraceResult) Empty() bool {
	return len(t.Flowlines) == 0
}

// Segments returns the flowline geometries in traversal order.
func (t TraceResult) Segments() []orb.LineString {
	segments := make([]orb.LineString, len(t.Flowlines))
	for i, fl := range t.Flowlines {
		segments[i] = fl.Geometry
	}
	return segments
}

// Client calls the EPA WATERS point indexing and upstream/downstream
// navigation services.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	searchDistKm float64
	maxAttempts  int
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a WATERS client. searchDistKm bounds the snap radius and
// maxAttempts caps the flat retry loop around trace calls.
func NewClient(baseURL string, timeout time.Duration, searchDistKm float64, maxAttempts int, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		searchDistKm: searchDistKm,
		maxAttempts:  maxAttempts,
		metrics:      metrics,
		logger:       logger,
	}
}

// Snap indexes a WGS-84 point against the nearest flowline. Returns
// ErrNoSnap when nothing is found within the search radius.
func (c *Client) Snap(ctx context.Context, pt orb.Point) (SnapResult, error) {
	params := url.Values{
		"pGeometry":               {wkt.MarshalString(pt)},
		"pGeometryMod":            {"WKT," + crs84},
		"pPointIndexingMethod":    {"DISTANCE"},
		"pPointIndexingMaxDist":   {strconv.FormatFloat(c.searchDistKm, 'f', -1, 64)},
		"pOutputPathFlag":         {"TRUE"},
		"pReturnFlowlineGeomFlag": {"FALSE"},
		"optOutCS":                {crs84},
		"optOutPrettyPrint":       {"0"},
		"f":                       {"json"},
	}

	var parsed snapResponse
	if err := c.getJSON(ctx, pointIndexingPath, params, &parsed); err != nil {
		c.metrics.SnapRequests.WithLabelValues("error").Inc()
		return SnapResult{}, err
	}

	// A null output means the point is outside network coverage or too far
	// from any flowline.
	if parsed.Output == nil || len(parsed.Output.Flowlines) == 0 {
		c.metrics.SnapRequests.WithLabelValues("not_found").Inc()
		return SnapResult{}, fmt.Errorf("snap %s: %w", wkt.MarshalString(pt), ErrNoSnap)
	}

	out := parsed.Output
	if out.EndPoint == nil || len(out.EndPoint.Coordinates) < 2 {
		c.metrics.SnapRequests.WithLabelValues("error").Inc()
		return SnapResult{}, errors.New("snap response missing end_point coordinates")
	}

	fl := out.Flowlines[0]
	c.metrics.SnapRequests.WithLabelValues("success").Inc()
	return SnapResult{
		Geometry:   orb.Point{out.EndPoint.Coordinates[0], out.EndPoint.Coordinates[1]},
		FlowlineID: fl.ComID,
		Measure:    fl.FMeasure,
	}, nil
}

// Trace runs a point-to-point upstream/downstream navigation between two
// snapped points. Non-2xx responses are retried immediately up to the
// configured attempt budget; exhaustion surfaces as *RetryExhaustedError.
// A response with zero traversed flowlines is returned as an empty
// TraceResult, not an error.
func (c *Client) Trace(ctx context.Context, start, stop LinearRef) (TraceResult, error) {
	params := url.Values{
		"pNavigationType": {"PP"},
		"pStartComID":     {strconv.FormatInt(start.FlowlineID, 10)},
		"pStartMeasure":   {strconv.FormatFloat(start.Measure, 'f', -1, 64)},
		"pStopComID":      {strconv.FormatInt(stop.FlowlineID, 10)},
		"pStopMeasure":    {strconv.FormatFloat(stop.Measure, 'f', -1, 64)},
		"pFlowlinelist":   {"TRUE"},
		"f":               {"json"},
	}

	attempts := 0
	parsed, err := retry(ctx, c.maxAttempts, func(ctx context.Context) (traceResponse, bool, error) {
		attempts++
		var resp traceResponse
		err := c.getJSON(ctx, upstreamDownPath, params, &resp)
		if err != nil {
			c.logger.Warn("trace attempt failed",
				"attempt", attempts,
				"start_comid", start.FlowlineID,
				"stop_comid", stop.FlowlineID,
				"error", err,
			)
			var statusErr *statusError
			return traceResponse{}, errors.As(err, &statusErr), err
		}
		return resp, false, nil
	})
	if err != nil {
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			c.metrics.TraceRequests.WithLabelValues("exhausted").Inc()
		} else {
			c.metrics.TraceRequests.WithLabelValues("error").Inc()
		}
		return TraceResult{}, err
	}

	result := TraceResult{Attempts: attempts}
	if parsed.Output != nil {
		for _, fl := range parsed.Output.Flowlines {
			line, convErr := flowlineGeometry(fl.Shape)
			if convErr != nil {
				c.metrics.TraceRequests.WithLabelValues("error").Inc()
				return TraceResult{}, fmt.Errorf("flowline %d: %w", fl.ComID, convErr)
			}
			result.Flowlines = append(result.Flowlines, Flowline{FlowlineID: fl.ComID, Geometry: line})
		}
	}

	if result.Empty() {
		c.metrics.TraceRequests.WithLabelValues("empty").Inc()
	} else {
		c.metrics.TraceRequests.WithLabelValues("success").Inc()
	}
	c.metrics.TraceAttempts.Observe(float64(attempts))
	return result, nil
}

// statusError marks a non-2xx response, the retryable failure class for
// trace calls.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("waters API error: status %d: %s", e.status, e.body)
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("waters request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// flowlineGeometry converts a GeoJSON shape into a single line. Multi-part
// shapes are flattened in part order.
func flowlineGeometry(shape *geojson.Geometry) (orb.LineString, error) {
	if shape == nil {
		return nil, errors.New("missing shape")
	}
	switch g := shape.Geometry().(type) {
	case orb.LineString:
		return g, nil
	case orb.MultiLineString:
		var line orb.LineString
		for _, part := range g {
			line = append(line, part...)
		}
		return line, nil
	default:
		return nil, fmt.Errorf("unexpected shape type %T", g)
	}
}

// WATERS API response types.

type snapResponse struct {
	Output *snapOutput `json:"output"`
}

type snapOutput struct {
	EndPoint  *snapEndPoint  `json:"end_point"`
	Flowlines []snapFlowline `json:"ary_flowlines"`
}

type snapEndPoint struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

type snapFlowline struct {
	ComID    int64   `json:"comid"`
	FMeasure float64 `json:"fmeasure"`
}

type traceResponse struct {
	Output *traceOutput `json:"output"`
}

type traceOutput struct {
	Flowlines []traceFlowline `json:"flowlines_traversed"`
}

type traceFlowline struct {
	ComID int64             `json:"comid"`
	Shape *geojson.Geometry `json:"shape"`
}
