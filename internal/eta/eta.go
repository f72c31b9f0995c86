// Package eta estimates road-aware arrival times by blending a routing
// service's driving duration with per-stop dwell time.
package eta

import (
	"context"
	"errors"
	"math"
	"time"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/osrm"
	"bus-tracker/internal/transit"
)

const (
	// TrafficFactor scales the routing engine's free-flow duration.
	TrafficFactor = 1.4
	// DwellPerStop is added for every intermediate stop.
	DwellPerStop = 9 * time.Second
)

var ErrIncomplete = errors.New("bus position or target stop location missing")

// Router returns a driving route over the given points in order.
type Router interface {
	Route(ctx context.Context, points []geo.Point) (osrm.Route, error)
}

type Estimate struct {
	RouteSeconds      float64     `json:"routeSeconds"`
	DurationSeconds   float64     `json:"durationSeconds"`
	DurationMinutes   int         `json:"durationMinutes"`
	DistanceMeters    float64     `json:"distanceMeters"`
	DistanceKm        float64     `json:"distanceKm"`
	IntermediateStops int         `json:"intermediateStops"`
	EstimatedArrival  time.Time   `json:"estimatedArrival"`
	Path              []geo.Point `json:"-"`
}

type Estimator struct {
	router Router
	now    func() time.Time
}

func NewEstimator(router Router, now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{router: router, now: now}
}

// Estimate routes bus -> each intermediate stop -> target and adjusts the
// driving duration for traffic and dwell time.
func (e *Estimator) Estimate(ctx context.Context, bus geo.Point, intermediate []transit.Stop, target transit.Stop) (Estimate, error) {
	if bus.IsZero() || target.Location.IsZero() {
		return Estimate{}, ErrIncomplete
	}
	points := make([]geo.Point, 0, len(intermediate)+2)
	points = append(points, bus)
	for _, s := range intermediate {
		points = append(points, s.Location)
	}
	points = append(points, target.Location)

	r, err := e.router.Route(ctx, points)
	if err != nil {
		return Estimate{}, err
	}

	adjusted := r.DurationSec*TrafficFactor + DwellPerStop.Seconds()*float64(len(intermediate))
	return Estimate{
		RouteSeconds:      r.DurationSec,
		DurationSeconds:   adjusted,
		DurationMinutes:   int(math.Round(adjusted / 60)),
		DistanceMeters:    r.DistanceM,
		DistanceKm:        math.Round(r.DistanceM/10) / 100,
		IntermediateStops: len(intermediate),
		EstimatedArrival:  e.now().Add(time.Duration(adjusted * float64(time.Second))),
		Path:              r.Path,
	}, nil
}
