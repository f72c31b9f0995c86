// Package route models the ordered stop sequence of a line variant and
// locates buses within it.
package route

import (
	"math"
	"sort"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

// StopRef is a stop together with its 1-based ordinal in a variant.
type StopRef struct {
	Stop    transit.Stop
	Ordinal int
}

// Variant is one directional service pattern of a line.
type Variant struct {
	ID          string
	LineNumber  string
	Origin      string
	Destination string
	Subline     string
	Special     bool
	Stops       []StopRef
}

// StopsInOrder returns the variant stops sorted by ordinal. The receiver is
// not modified.
func (v *Variant) StopsInOrder() []StopRef {
	out := make([]StopRef, len(v.Stops))
	copy(out, v.Stops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// EstimateNextStop returns the stop a bus at p is heading to: the
// destination stop of the nearest segment. Ties keep the earliest segment.
func (v *Variant) EstimateNextStop(p geo.Point) (transit.Stop, bool) {
	stops := v.StopsInOrder()
	switch len(stops) {
	case 0:
		return transit.Stop{}, false
	case 1:
		return stops[0].Stop, true
	}
	best := -1
	bestDist := math.Inf(1)
	for i := 0; i < len(stops)-1; i++ {
		d := geo.PointToSegmentDistance(p, stops[i].Stop.Location, stops[i+1].Stop.Location)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best < 0 {
		return stops[0].Stop, true
	}
	return stops[best+1].Stop, true
}

// Ordinal returns the ordinal of the first occurrence of stopID.
func (v *Variant) Ordinal(stopID string) (int, bool) {
	for _, s := range v.StopsInOrder() {
		if s.Stop.ID == stopID {
			return s.Ordinal, true
		}
	}
	return 0, false
}

// Serves reports whether stopID is part of the variant.
func (v *Variant) Serves(stopID string) bool {
	_, ok := v.Ordinal(stopID)
	return ok
}

// StopComesBeforeOrAt reports whether a is at or before b along the
// variant. It is false when either stop is not on the variant.
func (v *Variant) StopComesBeforeOrAt(a, b string) bool {
	oa, okA := v.Ordinal(a)
	ob, okB := v.Ordinal(b)
	if !okA || !okB {
		return false
	}
	return oa <= ob
}

// StopsBetween returns the stops strictly between from and to, in route
// order.
func (v *Variant) StopsBetween(from, to string) []transit.Stop {
	of, okF := v.Ordinal(from)
	ot, okT := v.Ordinal(to)
	if !okF || !okT || of >= ot {
		return nil
	}
	var out []transit.Stop
	for _, s := range v.StopsInOrder() {
		if s.Ordinal > of && s.Ordinal < ot {
			out = append(out, s.Stop)
		}
	}
	return out
}
