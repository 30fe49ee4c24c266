package verify

import (
	"sort"

	"geohint/internal/model"
)

// candidate pairs a match with its location and the anchor evidence used to
// order it.
type candidate struct {
	match *model.LocationMatch
	loc   *model.Location

	// nearest measured anchor that the candidate is feasible for.
	anchorRTTMs  float64
	anchorDistKm float64
}

// feasible reports whether the location is consistent with every measured
// sample: a packet cannot have traveled farther than the signal propagation
// bound allows, so any sample whose RTT is too small for the distance rules
// the location out.
func feasible(loc *model.Location, samples []model.AnchorSample, slackKmPerMs float64) bool {
	for _, s := range samples {
		if !s.RTT.IsMeasured() {
			continue
		}
		if loc.Coord.DistanceKm(s.Coord) > s.RTT.Ms*slackKmPerMs {
			return false
		}
	}
	return true
}

// rankCandidates prunes infeasible candidates and orders the survivors by
// the RTT of each candidate's nearest measured anchor. The sort is stable:
// candidates in the same anchor group keep their hint-specificity order.
// Survivors advance from unknown to possible.
func rankCandidates(matches []*model.LocationMatch, lookup func(id int) *model.Location, samples []model.AnchorSample, slackKmPerMs float64) []candidate {
	var out []candidate
	for _, m := range matches {
		loc := lookup(m.LocationID)
		if loc == nil {
			continue
		}
		if !feasible(loc, samples, slackKmPerMs) {
			continue
		}

		c := candidate{match: m, loc: loc, anchorDistKm: -1}
		for _, s := range samples {
			if !s.RTT.IsMeasured() {
				continue
			}
			d := loc.Coord.DistanceKm(s.Coord)
			if c.anchorDistKm < 0 || d < c.anchorDistKm {
				c.anchorDistKm = d
				c.anchorRTTMs = s.RTT.Ms
			}
		}
		if m.Status == model.MatchUnknown {
			m.Status = model.MatchPossible
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].anchorRTTMs < out[j].anchorRTTMs
	})
	return out
}
