package eta

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"bus-tracker/internal/feed"
	"bus-tracker/internal/route"
	"bus-tracker/internal/transit"
)

// ApproachingBus is a live bus whose next stop is at or before the target.
type ApproachingBus struct {
	Bus      transit.Observation
	Variant  *route.Variant
	NextStop transit.Stop
	Estimate *Estimate // nil when routing failed
}

// LiveBus is a live bus annotated with the next stop on its variant.
type LiveBus struct {
	Bus      transit.Observation
	Variant  *route.Variant // nil when the variant is unknown
	NextStop *transit.Stop
}

// StopView answers stop-detail and line-search queries from live positions.
type StopView struct {
	catalog   *route.Catalog
	positions feed.Source
	estimator *Estimator
}

func NewStopView(catalog *route.Catalog, positions feed.Source, estimator *Estimator) *StopView {
	return &StopView{catalog: catalog, positions: positions, estimator: estimator}
}

// Approaching lists the buses heading to target on any variant serving it,
// soonest first. Buses without an estimate sort last.
func (v *StopView) Approaching(ctx context.Context, target transit.Stop) ([]ApproachingBus, error) {
	variants, err := v.catalog.VariantsForStop(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("variants for stop %s: %w", target.ID, err)
	}

	var lines []string
	seen := map[string]bool{}
	for _, vr := range variants {
		if !seen[vr.LineNumber] {
			seen[vr.LineNumber] = true
			lines = append(lines, vr.LineNumber)
		}
	}

	var out []ApproachingBus
	for _, line := range lines {
		buses, err := v.positions.FetchPositions(ctx, []string{line}, nil)
		if err != nil {
			log.Printf("approaching stop %s: line %s: %v", target.ID, line, err)
			continue
		}
		for _, bus := range buses {
			vr, err := v.catalog.Variant(ctx, bus.VariantID)
			if err != nil {
				if !errors.Is(err, transit.ErrNotFound) {
					log.Printf("approaching stop %s: %v", target.ID, err)
				}
				continue
			}
			if !vr.Serves(target.ID) {
				continue
			}
			next, ok := vr.EstimateNextStop(bus.Location)
			if !ok || !vr.StopComesBeforeOrAt(next.ID, target.ID) {
				continue
			}
			ab := ApproachingBus{Bus: bus, Variant: vr, NextStop: next}
			est, err := v.estimator.Estimate(ctx, bus.Location, vr.StopsBetween(next.ID, target.ID), target)
			if err != nil {
				log.Printf("eta for bus %s to stop %s: %v", bus.BusID, target.ID, err)
			} else {
				ab.Estimate = &est
			}
			out = append(out, ab)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return durationOrInf(out[i]) < durationOrInf(out[j])
	})
	return out, nil
}

func durationOrInf(ab ApproachingBus) float64 {
	if ab.Estimate == nil {
		return math.Inf(1)
	}
	return ab.Estimate.DurationSeconds
}

// LineBuses returns the live buses of a line with each one's next stop.
func (v *StopView) LineBuses(ctx context.Context, line string) ([]LiveBus, error) {
	buses, err := v.positions.FetchPositions(ctx, []string{line}, nil)
	if err != nil {
		return nil, err
	}
	return EnrichNextStop(ctx, v.catalog, buses), nil
}

// EnrichNextStop annotates each bus with the next stop of its variant.
// Buses on unknown variants are returned without one.
func EnrichNextStop(ctx context.Context, catalog *route.Catalog, buses []transit.Observation) []LiveBus {
	out := make([]LiveBus, 0, len(buses))
	for _, bus := range buses {
		lb := LiveBus{Bus: bus}
		if vr, err := catalog.Variant(ctx, bus.VariantID); err == nil {
			lb.Variant = vr
			if next, ok := vr.EstimateNextStop(bus.Location); ok {
				lb.NextStop = &next
			}
		}
		out = append(out, lb)
	}
	return out
}
