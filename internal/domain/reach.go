package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// AccessKind distinguishes the roles an access point can play on a reach.
type AccessKind string

const (
	AccessPutin        AccessKind = "putin"
	AccessTakeout      AccessKind = "takeout"
	AccessIntermediate AccessKind = "intermediate"
)

// ErrAccessesIncomplete is returned when a reach does not have exactly one
// put-in and one take-out, which tracing requires.
var ErrAccessesIncomplete = errors.New("reach must have exactly one put-in and one take-out")

// AccessPoint is a single access location on a reach. Geometry is a WGS-84
// lon/lat point. The linear-reference fields stay zero until the point has
// been snapped to the hydrographic network.
type AccessPoint struct {
	ReachID     string     `json:"reach_id"`
	UID         string     `json:"uid"`
	Kind        AccessKind `json:"kind"`
	Name        string     `json:"name,omitempty"`
	SideOfRiver string     `json:"side_of_river,omitempty"` // "left", "right", or ""
	Geometry    orb.Point  `json:"geometry"`

	// Linear reference on the snapped flowline.
	FlowlineID int64   `json:"flowline_id,omitempty"`
	Measure    float64 `json:"measure,omitempty"`
	Snapped    bool    `json:"snapped"`
}

// NewAccessPoint creates an access point with a fresh uid.
func NewAccessPoint(reachID string, kind AccessKind, lon, lat float64) AccessPoint {
	return AccessPoint{
		ReachID:  reachID,
		UID:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		Kind:     kind,
		Geometry: orb.Point{lon, lat},
	}
}

// SetSideOfRiver records which bank the access sits on.
func (a *AccessPoint) SetSideOfRiver(side string) error {
	if side != "" && side != "left" && side != "right" {
		return fmt.Errorf("side of river must be \"left\" or \"right\", got %q", side)
	}
	a.SideOfRiver = side
	return nil
}

// SetLinearReference stores the snap result for the access.
func (a *AccessPoint) SetLinearReference(snapped orb.Point, flowlineID int64, measure float64) {
	a.Geometry = snapped
	a.FlowlineID = flowlineID
	a.Measure = measure
	a.Snapped = true
}

// Difficulty holds a whitewater rating and its parsed components, e.g.
// "II-IV(V)" has minimum II, maximum IV, and outlier V.
type Difficulty struct {
	Combined string `json:"combined,omitempty"`
	Minimum  string `json:"minimum,omitempty"`
	Maximum  string `json:"maximum,omitempty"`
	Outlier  string `json:"outlier,omitempty"`
}

// ParseDifficulty splits a combined rating string into its components.
func ParseDifficulty(combined string) Difficulty {
	d := Difficulty{Combined: combined}
	s := strings.TrimSpace(combined)
	if s == "" {
		return d
	}

	// Peel off a parenthesized outlier rating, e.g. "III-IV(V)".
	if open := strings.IndexByte(s, '('); open >= 0 {
		rest := s[open+1:]
		if end := strings.IndexByte(rest, ')'); end >= 0 {
			d.Outlier = rest[:end]
		} else {
			d.Outlier = rest
		}
		s = s[:open]
	}

	if lo, hi, found := strings.Cut(s, "-"); found && lo != "" && hi != "" {
		d.Minimum = lo
		d.Maximum = hi
	} else {
		d.Maximum = strings.Trim(s, "-")
	}
	return d
}

// Reach is a river segment between a put-in and a take-out, identified by a
// numeric id carried as a string. Geometry stays nil until the reach has
// been traced; an empty trace is a legitimate final state.
type Reach struct {
	ID          string     `json:"reach_id"`
	RiverName   string     `json:"river_name,omitempty"`
	SectionName string     `json:"section_name,omitempty"`
	Difficulty  Difficulty `json:"difficulty,omitempty"`
	Notes       string     `json:"notes,omitempty"`

	Points   []AccessPoint  `json:"points,omitempty"`
	Geometry orb.LineString `json:"-"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewReach creates an empty reach for the given id.
func NewReach(id string) *Reach {
	return &Reach{ID: id}
}

func (r *Reach) accessesOfKind(kind AccessKind) []AccessPoint {
	var out []AccessPoint
	for _, pt := range r.Points {
		if pt.Kind == kind {
			out = append(out, pt)
		}
	}
	return out
}

// Putin returns the put-in access point, or false if none is set.
func (r *Reach) Putin() (*AccessPoint, bool) {
	return r.firstOfKind(AccessPutin)
}

// Takeout returns the take-out access point, or false if none is set.
func (r *Reach) Takeout() (*AccessPoint, bool) {
	return r.firstOfKind(AccessTakeout)
}

func (r *Reach) firstOfKind(kind AccessKind) (*AccessPoint, bool) {
	for i := range r.Points {
		if r.Points[i].Kind == kind {
			return &r.Points[i], true
		}
	}
	return nil, false
}

// SetAccess adds or replaces the access of the given kind. Intermediate
// accesses accumulate; put-in and take-out are singular.
func (r *Reach) SetAccess(pt AccessPoint) {
	pt.ReachID = r.ID
	if pt.Kind == AccessIntermediate {
		r.Points = append(r.Points, pt)
		return
	}
	kept := r.Points[:0]
	for _, existing := range r.Points {
		if existing.Kind != pt.Kind {
			kept = append(kept, existing)
		}
	}
	r.Points = append(kept, pt)
}

// ValidateForTrace checks the tracing precondition: exactly one put-in and
// exactly one take-out.
func (r *Reach) ValidateForTrace() error {
	if len(r.accessesOfKind(AccessPutin)) != 1 || len(r.accessesOfKind(AccessTakeout)) != 1 {
		return ErrAccessesIncomplete
	}
	return nil
}

// SetGeometry stores the traced line and stamps the update time.
func (r *Reach) SetGeometry(line orb.LineString) {
	r.Geometry = line
	r.UpdatedAt = clock.Now().UTC()
}

// Traced reports whether the reach carries a non-empty traced line.
func (r *Reach) Traced() bool {
	return len(r.Geometry) >= 2
}

// Centroid derives the reach's representative point: the centroid of the
// traced line when one exists, otherwise the midpoint of the put-in and
// take-out. Returns false when neither is available.
func (r *Reach) Centroid() (orb.Point, bool) {
	if r.Traced() {
		return LineCentroid(r.Geometry), true
	}

	putin, okP := r.Putin()
	takeout, okT := r.Takeout()
	if !okP || !okT {
		return orb.Point{}, false
	}
	return orb.Point{
		(putin.Geometry[0] + takeout.Geometry[0]) / 2,
		(putin.Geometry[1] + takeout.Geometry[1]) / 2,
	}, true
}
