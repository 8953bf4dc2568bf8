package domain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-polyline"
)

// JoinTolerance is the maximum coordinate distance, in degrees, at which two
// segment endpoints are considered the same vertex when concatenating
// flowlines. NHDPlus segment endpoints agree to well below this.
const JoinTolerance = 1e-6

// ConcatenateSegments joins ordered flowline segments into one polyline,
// dropping a segment's leading vertex when it coincides with the previous
// segment's trailing vertex. Returns nil for an empty segment list.
func ConcatenateSegments(segments []orb.LineString) orb.LineString {
	if len(segments) == 0 {
		return nil
	}

	var line orb.LineString
	for _, seg := range segments {
		for _, pt := range seg {
			if n := len(line); n > 0 && pointsCoincide(line[n-1], pt, JoinTolerance) {
				continue
			}
			line = append(line, pt)
		}
	}
	return line
}

// SegmentsContinuous reports whether each segment's trailing vertex matches
// the next segment's leading vertex within tol degrees. Empty segments break
// continuity.
func SegmentsContinuous(segments []orb.LineString, tol float64) bool {
	for i := 1; i < len(segments); i++ {
		prev, next := segments[i-1], segments[i]
		if len(prev) == 0 || len(next) == 0 {
			return false
		}
		if !pointsCoincide(prev[len(prev)-1], next[0], tol) {
			return false
		}
	}
	return true
}

// LineCentroid returns the length-weighted centroid of a polyline.
func LineCentroid(line orb.LineString) orb.Point {
	centroid, _ := planar.CentroidArea(line)
	return centroid
}

// EncodePolyline returns the Google encoded-polyline form of the line,
// suitable for compact transport in result events.
func EncodePolyline(line orb.LineString) string {
	if len(line) == 0 {
		return ""
	}
	coords := make([][]float64, len(line))
	for i, pt := range line {
		coords[i] = []float64{pt[1], pt[0]} // encoded polylines are lat,lon
	}
	return string(polyline.EncodeCoords(coords))
}

func pointsCoincide(a, b orb.Point, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol
}
