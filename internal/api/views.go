package api

import (
	"time"

	"bus-tracker/internal/eta"
	"bus-tracker/internal/tracking"
	"bus-tracker/internal/transit"
)

type stopJSON struct {
	ID      string  `json:"busstopId"`
	Street1 string  `json:"street1"`
	Street2 string  `json:"street2"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func newStopJSON(s transit.Stop) stopJSON {
	return stopJSON{
		ID:      s.ID,
		Street1: s.Street1,
		Street2: s.Street2,
		Name:    s.Name(),
		Lat:     s.Location.Lat,
		Lon:     s.Location.Lon,
	}
}

type sessionJSON struct {
	ID             string     `json:"id"`
	StopID         string     `json:"busstopId"`
	Lines          []string   `json:"lines"`
	LineVariantIDs []string   `json:"lineVariantIds"`
	Active         bool       `json:"active"`
	StartedAt      time.Time  `json:"startedAt"`
	LastRunAt      *time.Time `json:"lastJobRunAt,omitempty"`
}

func newSessionJSON(s transit.Session) sessionJSON {
	out := sessionJSON{
		ID:             s.ID,
		StopID:         s.StopID,
		Lines:          s.Lines,
		LineVariantIDs: s.VariantIDs,
		Active:         s.Active,
		StartedAt:      s.StartedAt,
	}
	if out.LineVariantIDs == nil {
		out.LineVariantIDs = []string{}
	}
	if !s.LastRunAt.IsZero() {
		t := s.LastRunAt
		out.LastRunAt = &t
	}
	return out
}

type busJSON struct {
	BusID       string    `json:"busId"`
	Line        string    `json:"line"`
	VariantID   string    `json:"lineVariantId,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Speed       *float64  `json:"speed"`
	Timestamp   time.Time `json:"timestamp"`
}

func newBusJSON(o transit.Observation) busJSON {
	return busJSON{
		BusID:       o.BusID,
		Line:        o.Line,
		VariantID:   o.VariantID,
		Destination: o.Destination,
		Lat:         o.Location.Lat,
		Lon:         o.Location.Lon,
		Speed:       o.Speed,
		Timestamp:   o.Timestamp,
	}
}

type approachingJSON struct {
	busJSON
	NextStop stopJSON      `json:"nextStop"`
	Estimate *eta.Estimate `json:"estimate"`
	Path     [][2]float64  `json:"path"` // routed road geometry, [lat, lon] pairs
}

func newApproachingJSON(ab eta.ApproachingBus) approachingJSON {
	out := approachingJSON{
		busJSON:  newBusJSON(ab.Bus),
		NextStop: newStopJSON(ab.NextStop),
		Estimate: ab.Estimate,
		Path:     [][2]float64{},
	}
	if ab.Estimate != nil {
		for _, p := range ab.Estimate.Path {
			out.Path = append(out.Path, [2]float64{p.Lat, p.Lon})
		}
	}
	return out
}

type liveBusJSON struct {
	busJSON
	NextStop *stopJSON `json:"nextStop"`
}

func newLiveBusJSON(lb eta.LiveBus) liveBusJSON {
	out := liveBusJSON{busJSON: newBusJSON(lb.Bus)}
	if lb.NextStop != nil {
		ns := newStopJSON(*lb.NextStop)
		out.NextStop = &ns
	}
	return out
}

type stopDetailResponse struct {
	Stop        stopJSON          `json:"stop"`
	Approaching []approachingJSON `json:"approaching"`
	PolledAt    time.Time         `json:"polledAt"`
}

type dashboardResponse struct {
	Stop    stopJSON            `json:"stop"`
	Session *sessionJSON        `json:"session"`
	Buses   []tracking.Snapshot `json:"buses"`
}
