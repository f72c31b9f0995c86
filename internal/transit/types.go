package transit

import (
	"errors"
	"strings"
	"time"

	"bus-tracker/internal/geo"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrSessionActive = errors.New("stop already has an active tracking session")
	ErrNoLines       = errors.New("at least one line is required")
)

type Stop struct {
	ID       string // external busstop id
	Street1  string
	Street2  string
	Location geo.Point
}

// Name joins both street labels the way the stop is announced on site.
func (s Stop) Name() string {
	a, b := s.Street1, s.Street2
	if a == "" {
		a = "unnamed"
	}
	if b == "" {
		b = "unnamed"
	}
	return a + " & " + b
}

type Line struct {
	Number     string
	ExternalID string
	Name       string
}

// Session is one operator-started watch on a stop.
type Session struct {
	ID         string
	StopID     string
	Lines      []string
	VariantIDs []string // empty means every variant of Lines
	Active     bool
	StartedAt  time.Time
	LastRunAt  time.Time // zero until the first cycle
}

func (s Session) LinesDisplay() string { return strings.Join(s.Lines, ", ") }

func (s Session) VariantsDisplay() string {
	if len(s.VariantIDs) == 0 {
		return "all"
	}
	return strings.Join(s.VariantIDs, ", ")
}

// Observation is one validated vehicle-position record from a live feed.
type Observation struct {
	BusID       string
	Line        string
	VariantID   string
	Destination string
	Location    geo.Point
	Speed       *float64 // km/h as reported by the feed, if any
	Timestamp   time.Time
}

// Valid reports whether the record carries everything ingestion needs.
func (o Observation) Valid() bool {
	return o.BusID != "" && !o.Location.IsZero() && !o.Timestamp.IsZero()
}
