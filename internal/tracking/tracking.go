// Package tracking holds the per (stop, bus) tracking state: a bounded
// history of position samples, the rolling closing speed derived from it,
// pass-through detection and the kinematic arrival estimate.
package tracking

import (
	"math"
	"sort"
	"time"

	"bus-tracker/internal/geo"
)

const (
	MaxPositions = 30
	MaxAge       = 10 * time.Minute

	// MaxMissingCount is informational only. Trackings are never
	// deactivated for going missing; operators stop them explicitly.
	MaxMissingCount = 3

	speedWindow = 20
	passWindow  = 5
	minForETA   = 3
)

// Position is one immutable feed sample.
type Position struct {
	Location       geo.Point
	DistanceToStop float64  // meters
	Speed          *float64 // as reported by the feed
	Timestamp      time.Time
}

// Tracking is the live state of one bus approaching one stop.
type Tracking struct {
	ID        int64
	StopID    string
	BusID     string
	Line      string
	VariantID string

	Location       geo.Point
	DistanceToStop *float64 // meters
	Speed          *float64 // rolling closing speed, km/h
	SampleTime     time.Time
	LastSeen       time.Time
	Active         bool
	MissingCount   int

	positions []Position // ascending by Timestamp
}

// New returns an active tracking with no samples.
func New(stopID, busID, line, variantID string, now time.Time) *Tracking {
	return &Tracking{
		StopID:    stopID,
		BusID:     busID,
		Line:      line,
		VariantID: variantID,
		Active:    true,
		LastSeen:  now,
	}
}

// Restore rebuilds the in-memory history from stored samples in any order.
func (t *Tracking) Restore(positions []Position) {
	t.positions = make([]Position, 0, len(positions))
	for _, p := range positions {
		t.insert(p)
	}
}

// Clone returns a copy that shares no mutable state with t.
func (t *Tracking) Clone() *Tracking {
	c := *t
	c.positions = t.Positions()
	if t.DistanceToStop != nil {
		d := *t.DistanceToStop
		c.DistanceToStop = &d
	}
	if t.Speed != nil {
		v := *t.Speed
		c.Speed = &v
	}
	return &c
}

// Positions returns a copy of the history, oldest first.
func (t *Tracking) Positions() []Position {
	out := make([]Position, len(t.positions))
	copy(out, t.positions)
	return out
}

// Len returns the number of retained samples.
func (t *Tracking) Len() int { return len(t.positions) }

// AddPosition ingests one sample. A sample whose timestamp is already
// stored is ignored and false is returned.
func (t *Tracking) AddPosition(p Position, now time.Time) bool {
	if t.has(p.Timestamp) {
		return false
	}
	t.insert(p)

	dist := p.DistanceToStop
	t.Location = p.Location
	t.DistanceToStop = &dist
	t.Speed = t.RollingSpeed()
	t.SampleTime = p.Timestamp
	t.LastSeen = now
	t.MissingCount = 0

	t.prune(now)
	return true
}

// MarkMissing records a poll cycle in which the bus was absent from the feed.
func (t *Tracking) MarkMissing() { t.MissingCount++ }

// RollingSpeed is the average rate, in km/h rounded to two decimals, at
// which the bus closed its distance to the stop over the latest samples.
// It is negative for a bus moving away and nil when it cannot be derived.
func (t *Tracking) RollingSpeed() *float64 {
	recent := t.latest(speedWindow)
	if len(recent) < 2 {
		return nil
	}
	var dist, secs float64
	for i := 1; i < len(recent); i++ {
		older, newer := recent[i-1], recent[i]
		dist += older.DistanceToStop - newer.DistanceToStop
		secs += newer.Timestamp.Sub(older.Timestamp).Seconds()
	}
	if secs == 0 {
		return nil
	}
	kmh := math.Round(dist/secs*3.6*100) / 100
	return &kmh
}

// HasPassed reports whether the distance grew across each of the last five
// samples, i.e. the bus went past its closest approach.
func (t *Tracking) HasPassed() bool {
	recent := t.latest(passWindow)
	if len(recent) < passWindow {
		return false
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].DistanceToStop <= recent[i-1].DistanceToStop {
			return false
		}
	}
	return true
}

// EstimatedArrival extrapolates the arrival time from the current distance
// and closing speed.
func (t *Tracking) EstimatedArrival(now time.Time) (time.Time, bool) {
	if !t.Active || len(t.positions) < minForETA || t.HasPassed() {
		return time.Time{}, false
	}
	if t.DistanceToStop == nil || *t.DistanceToStop <= 0 {
		return time.Time{}, false
	}
	speed := t.Speed
	if speed == nil {
		speed = t.RollingSpeed()
	}
	if speed == nil || *speed <= 0 {
		return time.Time{}, false
	}
	mps := *speed / 3.6
	secs := *t.DistanceToStop / mps
	return now.Add(time.Duration(secs * float64(time.Second))), true
}

// EstimatedMinutes is the rounded number of minutes until arrival, never
// negative.
func (t *Tracking) EstimatedMinutes(now time.Time) (int, bool) {
	eta, ok := t.EstimatedArrival(now)
	if !ok {
		return 0, false
	}
	m := int(math.Round(eta.Sub(now).Minutes()))
	if m < 0 {
		m = 0
	}
	return m, true
}

func (t *Tracking) has(ts time.Time) bool {
	i := t.search(ts)
	return i < len(t.positions) && t.positions[i].Timestamp.Equal(ts)
}

func (t *Tracking) search(ts time.Time) int {
	return sort.Search(len(t.positions), func(i int) bool {
		return !t.positions[i].Timestamp.Before(ts)
	})
}

// insert keeps the history sorted so late samples land in place.
func (t *Tracking) insert(p Position) {
	i := t.search(p.Timestamp)
	if i < len(t.positions) && t.positions[i].Timestamp.Equal(p.Timestamp) {
		return
	}
	t.positions = append(t.positions, Position{})
	copy(t.positions[i+1:], t.positions[i:])
	t.positions[i] = p
}

// latest returns up to n newest samples, oldest first.
func (t *Tracking) latest(n int) []Position {
	if len(t.positions) <= n {
		return t.positions
	}
	return t.positions[len(t.positions)-n:]
}

func (t *Tracking) prune(now time.Time) {
	cutoff := now.Add(-MaxAge)
	drop := sort.Search(len(t.positions), func(i int) bool {
		return !t.positions[i].Timestamp.Before(cutoff)
	})
	if excess := len(t.positions) - drop - MaxPositions; excess > 0 {
		drop += excess
	}
	if drop > 0 {
		t.positions = append([]Position(nil), t.positions[drop:]...)
	}
}
