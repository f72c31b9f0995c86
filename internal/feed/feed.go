package feed

import (
	"context"
	"errors"

	"bus-tracker/internal/transit"
)

var ErrNotConfigured = errors.New("feed credentials are not configured")

// Source is a live vehicle-position feed.
type Source interface {
	// Ready returns an error when the source cannot fetch at all.
	Ready() error
	FetchPositions(ctx context.Context, lines, variantIDs []string) ([]transit.Observation, error)
}

var (
	_ Source = (*STMClient)(nil)
	_ Source = (*GTFSRTClient)(nil)
)
