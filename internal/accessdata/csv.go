// Package accessdata loads reach access points from CSV exports, the input
// format for batch re-traces.
package accessdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/reach-trace-service/internal/domain"
)

// columns of an access-point CSV, by header name.
var required = []string{"reach_id", "kind", "lon", "lat"}

// ReadReaches parses an access-point CSV into reaches, preserving first-seen
// reach order. The header row names the columns; reach_id, kind, lon, and lat
// are required, name and side_of_river optional. Any malformed row aborts the
// whole read.
func ReadReaches(r io.Reader) ([]*domain.Reach, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	// Optional trailing columns may be omitted per row.
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Reach)
	var order []*domain.Reach

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		pt, reachID, err := parseRecord(cols, record)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		reach, ok := byID[reachID]
		if !ok {
			reach = domain.NewReach(reachID)
			byID[reachID] = reach
			order = append(order, reach)
		}
		reach.SetAccess(pt)
	}

	return order, nil
}

// columnIndex maps header names to positions, failing when a required column
// is absent.
func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing required column %q", name)
		}
	}
	return cols, nil
}

func parseRecord(cols map[string]int, record []string) (domain.AccessPoint, string, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	reachID := field("reach_id")
	if reachID == "" {
		return domain.AccessPoint{}, "", fmt.Errorf("empty reach_id")
	}

	kind := domain.AccessKind(field("kind"))
	switch kind {
	case domain.AccessPutin, domain.AccessTakeout, domain.AccessIntermediate:
	default:
		return domain.AccessPoint{}, "", fmt.Errorf("unknown access kind %q", field("kind"))
	}

	lon, err := strconv.ParseFloat(field("lon"), 64)
	if err != nil {
		return domain.AccessPoint{}, "", fmt.Errorf("parse lon %q: %w", field("lon"), err)
	}
	lat, err := strconv.ParseFloat(field("lat"), 64)
	if err != nil {
		return domain.AccessPoint{}, "", fmt.Errorf("parse lat %q: %w", field("lat"), err)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return domain.AccessPoint{}, "", fmt.Errorf("coordinates out of range: lon=%v lat=%v", lon, lat)
	}

	pt := domain.NewAccessPoint(reachID, kind, lon, lat)
	pt.Name = field("name")
	if err := pt.SetSideOfRiver(strings.ToLower(field("side_of_river"))); err != nil {
		return domain.AccessPoint{}, "", err
	}
	return pt, reachID, nil
}
