package eta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/osrm"
	"bus-tracker/internal/route"
	"bus-tracker/internal/transit"
)

type fakeRouter struct {
	calls [][]geo.Point
	route osrm.Route
	err   error
}

func (f *fakeRouter) Route(_ context.Context, pts []geo.Point) (osrm.Route, error) {
	f.calls = append(f.calls, pts)
	if f.err != nil {
		return osrm.Route{}, f.err
	}
	return f.route, nil
}

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func stop(id string, lat, lon float64) transit.Stop {
	return transit.Stop{ID: id, Location: geo.Point{Lat: lat, Lon: lon}}
}

func TestEstimateBlend(t *testing.T) {
	r := &fakeRouter{route: osrm.Route{DurationSec: 100, DistanceM: 1234}}
	e := NewEstimator(r, fixedNow)

	bus := geo.Point{Lat: -34.90, Lon: -56.20}
	between := []transit.Stop{stop("B", -34.90, -56.19), stop("C", -34.90, -56.18)}
	target := stop("D", -34.90, -56.17)

	est, err := e.Estimate(context.Background(), bus, between, target)
	require.NoError(t, err)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []geo.Point{bus, between[0].Location, between[1].Location, target.Location}, r.calls[0])

	assert.InDelta(t, 158.0, est.DurationSeconds, 1e-9) // 100*1.4 + 2*9
	assert.Equal(t, 3, est.DurationMinutes)
	assert.Equal(t, 1.23, est.DistanceKm)
	assert.Equal(t, 2, est.IntermediateStops)
	assert.Equal(t, t0.Add(158*time.Second), est.EstimatedArrival)
}

func TestEstimateWithoutIntermediateStops(t *testing.T) {
	r := &fakeRouter{route: osrm.Route{DurationSec: 60, DistanceM: 500}}
	est, err := NewEstimator(r, fixedNow).Estimate(context.Background(), geo.Point{Lat: 1, Lon: 1}, nil, stop("D", 1.001, 1))
	require.NoError(t, err)
	assert.Len(t, r.calls[0], 2)
	assert.InDelta(t, 84.0, est.DurationSeconds, 1e-9)
	assert.Equal(t, 1, est.DurationMinutes)
}

func TestEstimateFailures(t *testing.T) {
	r := &fakeRouter{err: osrm.ErrNoRoute}
	e := NewEstimator(r, fixedNow)

	_, err := e.Estimate(context.Background(), geo.Point{Lat: 1, Lon: 1}, nil, stop("D", 2, 2))
	assert.ErrorIs(t, err, osrm.ErrNoRoute)

	_, err = e.Estimate(context.Background(), geo.Point{}, nil, stop("D", 2, 2))
	assert.ErrorIs(t, err, ErrIncomplete)
	_, err = e.Estimate(context.Background(), geo.Point{Lat: 1, Lon: 1}, nil, transit.Stop{ID: "D"})
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Len(t, r.calls, 1, "incomplete input never reaches the router")
}

type mapSource map[string]*route.Variant

func (m mapSource) Variant(_ context.Context, id string) (*route.Variant, error) {
	if v, ok := m[id]; ok {
		return v, nil
	}
	return nil, transit.ErrNotFound
}

func (m mapSource) VariantsForStop(_ context.Context, stopID string) ([]*route.Variant, error) {
	var out []*route.Variant
	for _, v := range m {
		if v.Serves(stopID) {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeFeed struct {
	byLine map[string][]transit.Observation
	asked  []string
}

func (f *fakeFeed) Ready() error { return nil }

func (f *fakeFeed) FetchPositions(_ context.Context, lines, _ []string) ([]transit.Observation, error) {
	var out []transit.Observation
	for _, l := range lines {
		f.asked = append(f.asked, l)
		out = append(out, f.byLine[l]...)
	}
	return out, nil
}

// Stops A..E lie west to east along one parallel.
func eastbound() *route.Variant {
	ids := []string{"A", "B", "C", "D", "E"}
	v := &route.Variant{ID: "v1", LineNumber: "181"}
	for i, id := range ids {
		v.Stops = append(v.Stops, route.StopRef{Stop: stop(id, -34.90, -56.20+0.01*float64(i)), Ordinal: i + 1})
	}
	return v
}

func bus(id, variant string, lon float64) transit.Observation {
	return transit.Observation{BusID: id, Line: "181", VariantID: variant, Location: geo.Point{Lat: -34.9001, Lon: lon}, Timestamp: t0}
}

type durationRouter struct{}

// Route charges 60 seconds per leg.
func (durationRouter) Route(_ context.Context, pts []geo.Point) (osrm.Route, error) {
	return osrm.Route{DurationSec: 60 * float64(len(pts)-1), DistanceM: 100}, nil
}

func TestApproaching(t *testing.T) {
	variant := eastbound()
	other := &route.Variant{ID: "v9", LineNumber: "181", Stops: []route.StopRef{{Stop: stop("Z", -34.80, -56.00), Ordinal: 1}, {Stop: stop("Y", -34.81, -56.00), Ordinal: 2}}}
	catalog := route.NewCatalog(mapSource{"v1": variant, "v9": other}, 16, 0)

	positions := &fakeFeed{byLine: map[string][]transit.Observation{"181": {
		bus("far", "v1", -56.195),    // between A and B, next stop B
		bus("near", "v1", -56.175),   // between C and D, next stop D
		bus("passed", "v1", -56.165), // between D and E, next stop E
		bus("elsewhere", "v9", -56.0),
		bus("unknown", "v404", -56.18),
	}}}
	view := NewStopView(catalog, positions, NewEstimator(durationRouter{}, fixedNow))

	got, err := view.Approaching(context.Background(), variant.Stops[3].Stop)
	require.NoError(t, err)
	assert.Equal(t, []string{"181"}, positions.asked)

	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Bus.BusID)
	assert.Equal(t, "D", got[0].NextStop.ID)
	require.NotNil(t, got[0].Estimate)
	assert.Equal(t, 0, got[0].Estimate.IntermediateStops)
	assert.InDelta(t, 84.0, got[0].Estimate.DurationSeconds, 1e-9)

	assert.Equal(t, "far", got[1].Bus.BusID)
	assert.Equal(t, "B", got[1].NextStop.ID)
	require.NotNil(t, got[1].Estimate)
	assert.Equal(t, 1, got[1].Estimate.IntermediateStops)
	assert.InDelta(t, 60*2*1.4+9, got[1].Estimate.DurationSeconds, 1e-9)
}

func TestApproachingWithoutEstimateSortsLast(t *testing.T) {
	variant := eastbound()
	catalog := route.NewCatalog(mapSource{"v1": variant}, 16, 0)
	positions := &fakeFeed{byLine: map[string][]transit.Observation{"181": {bus("x", "v1", -56.195)}}}
	view := NewStopView(catalog, positions, NewEstimator(&fakeRouter{err: osrm.ErrNoRoute}, fixedNow))

	got, err := view.Approaching(context.Background(), variant.Stops[3].Stop)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Estimate)
	assert.Equal(t, "B", got[0].NextStop.ID)
}

func TestLineBuses(t *testing.T) {
	catalog := route.NewCatalog(mapSource{"v1": eastbound()}, 16, 0)
	positions := &fakeFeed{byLine: map[string][]transit.Observation{"181": {
		bus("a", "v1", -56.175),
		bus("b", "", -56.175),
	}}}
	view := NewStopView(catalog, positions, nil)

	got, err := view.LineBuses(context.Background(), "181")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].NextStop)
	assert.Equal(t, "D", got[0].NextStop.ID)
	assert.Nil(t, got[1].Variant)
	assert.Nil(t, got[1].NextStop)
}
