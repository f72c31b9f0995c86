// Package feed fetches live vehicle positions and the line catalogue from
// external transit APIs and turns them into validated records.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

var validate = validator.New()

// flexID accepts identifiers encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type pointRecord struct {
	Coordinates []float64 `json:"coordinates" validate:"len=2"`
}

func (p pointRecord) point() geo.Point {
	return geo.Point{Lon: p.Coordinates[0], Lat: p.Coordinates[1]}
}

// BusRecord is one entry of the /buses response.
type BusRecord struct {
	BusID         flexID      `json:"busId" validate:"required"`
	Line          string      `json:"line"`
	LineVariantID flexID      `json:"lineVariantId"`
	Destination   string      `json:"destination"`
	Location      pointRecord `json:"location"`
	Speed         *float64    `json:"speed"`
	Timestamp     string      `json:"timestamp" validate:"required"`
}

// LineVariantRecord is one entry of the /buses/linevariants response.
type LineVariantRecord struct {
	LineID        flexID `json:"lineId"`
	Line          string `json:"line" validate:"required"`
	LineVariantID flexID `json:"lineVariantId" validate:"required"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	Subline       string `json:"subline"`
	Special       bool   `json:"special"`
}

// StopRecord is one entry of the /buses/busstops response.
type StopRecord struct {
	BusstopID flexID      `json:"busstopId" validate:"required"`
	Street1   string      `json:"street1"`
	Street2   string      `json:"street2"`
	Location  pointRecord `json:"location"`
}

func (r StopRecord) Stop() transit.Stop {
	return transit.Stop{
		ID:       string(r.BusstopID),
		Street1:  r.Street1,
		Street2:  r.Street2,
		Location: r.Location.point(),
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts the layouts seen in the feed; zone-less values are
// read in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// toObservation validates the record once at the boundary.
func (r BusRecord) toObservation(loc *time.Location) (transit.Observation, error) {
	if err := validate.Struct(r); err != nil {
		return transit.Observation{}, err
	}
	ts, err := parseTimestamp(r.Timestamp, loc)
	if err != nil {
		return transit.Observation{}, err
	}
	o := transit.Observation{
		BusID:       string(r.BusID),
		Line:        strings.TrimSpace(r.Line),
		VariantID:   string(r.LineVariantID),
		Destination: r.Destination,
		Location:    r.Location.point(),
		Speed:       r.Speed,
		Timestamp:   ts,
	}
	if !o.Valid() {
		return transit.Observation{}, fmt.Errorf("bus %q: incomplete record", r.BusID)
	}
	return o, nil
}
