package tracking

import (
	"math"
	"time"
)

// Snapshot is the read model served to dashboards and published on the
// event bus.
type Snapshot struct {
	StopID           string     `json:"stopId"`
	BusID            string     `json:"busId"`
	Line             string     `json:"line"`
	VariantID        string     `json:"lineVariantId,omitempty"`
	Lat              float64    `json:"lat"`
	Lon              float64    `json:"lon"`
	DistanceToStop   *float64   `json:"distanceToStop"`
	Speed            *float64   `json:"speed"`
	EstimatedMinutes *int       `json:"estimatedMinutes"`
	EstimatedArrival *time.Time `json:"estimatedArrival,omitempty"`
	LastSeen         time.Time  `json:"lastSeen"`
	SampleTime       time.Time  `json:"sampleTime"`
	PositionsCount   int        `json:"positionsCount"`
	MissingCount     int        `json:"missingCount"`
	HasPassed        bool       `json:"hasPassed"`
	Active           bool       `json:"active"`
	DistanceText     string     `json:"distanceText"`
	SpeedText        string     `json:"speedText"`
	ETABucket        string     `json:"etaBucket"`
	Badge            string     `json:"badge,omitempty"`
}

func (t *Tracking) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		StopID:         t.StopID,
		BusID:          t.BusID,
		Line:           t.Line,
		VariantID:      t.VariantID,
		Lat:            t.Location.Lat,
		Lon:            t.Location.Lon,
		Speed:          t.Speed,
		LastSeen:       t.LastSeen,
		SampleTime:     t.SampleTime,
		PositionsCount: len(t.positions),
		MissingCount:   t.MissingCount,
		HasPassed:      t.HasPassed(),
		Active:         t.Active,
		DistanceText:   FormatDistance(t.DistanceToStop),
		SpeedText:      FormatSpeed(t.Speed),
		ETABucket:      t.ETABucket(now),
		Badge:          t.StatusBadge(),
	}
	if t.DistanceToStop != nil {
		d := math.Round(*t.DistanceToStop*100) / 100
		s.DistanceToStop = &d
	}
	if m, ok := t.EstimatedMinutes(now); ok {
		s.EstimatedMinutes = &m
	}
	if eta, ok := t.EstimatedArrival(now); ok {
		s.EstimatedArrival = &eta
	}
	return s
}
