package publisher

import (
	"github.com/couchcryptid/reach-trace-service/internal/domain"
	"github.com/couchcryptid/reach-trace-service/internal/features"
)

// reachAttributes builds the attribute set shared by the line and centroid
// records. update_date is epoch milliseconds, the platform's date encoding.
func reachAttributes(r *domain.Reach) map[string]any {
	attrs := map[string]any{
		"reach_id":     r.ID,
		"name_river":   r.RiverName,
		"name_section": r.SectionName,
		"difficulty":   r.Difficulty.Combined,
		"notes":        r.Notes,
	}
	if r.Difficulty.Minimum != "" {
		attrs["difficulty_min"] = r.Difficulty.Minimum
	}
	if r.Difficulty.Maximum != "" {
		attrs["difficulty_max"] = r.Difficulty.Maximum
	}
	if r.Difficulty.Outlier != "" {
		attrs["difficulty_outlier"] = r.Difficulty.Outlier
	}
	if !r.UpdatedAt.IsZero() {
		attrs["update_date"] = r.UpdatedAt.UnixMilli()
	}
	return attrs
}

func lineFeature(r *domain.Reach) features.Feature {
	return features.Feature{
		Attributes: reachAttributes(r),
		Geometry:   features.PolylineGeometry(r.Geometry),
	}
}

func centroidFeature(r *domain.Reach) (features.Feature, bool) {
	centroid, ok := r.Centroid()
	if !ok {
		return features.Feature{}, false
	}
	return features.Feature{
		Attributes: reachAttributes(r),
		Geometry:   features.PointGeometry(centroid),
	}, true
}

func accessFeatures(r *domain.Reach) []features.Feature {
	feats := make([]features.Feature, 0, len(r.Points))
	for _, pt := range r.Points {
		attrs := map[string]any{
			"reach_id":      pt.ReachID,
			"uid":           pt.UID,
			"kind":          string(pt.Kind),
			"name":          pt.Name,
			"side_of_river": pt.SideOfRiver,
		}
		if pt.Snapped {
			attrs["nhdplus_comid"] = pt.FlowlineID
			attrs["nhdplus_measure"] = pt.Measure
		}
		feats = append(feats, features.Feature{
			Attributes: attrs,
			Geometry:   features.PointGeometry(pt.Geometry),
		})
	}
	return feats
}
