package tracker

import (
	"context"
	"time"

	"bus-tracker/internal/tracking"
	"bus-tracker/internal/transit"
)

// Store persists stops, sessions and trackings. Implementations must be
// safe for concurrent use by several session runners.
type Store interface {
	Stop(ctx context.Context, id string) (transit.Stop, error)

	Session(ctx context.Context, id string) (transit.Session, error)
	// ActiveSession returns transit.ErrNotFound when the stop is idle.
	ActiveSession(ctx context.Context, stopID string) (transit.Session, error)
	// CreateSession fails with transit.ErrSessionActive, leaving state
	// untouched, if the stop already has an active session. Otherwise it
	// also reactivates the stop's existing trackings.
	CreateSession(ctx context.Context, s transit.Session) error
	// DeactivateStop marks every active session and tracking of the stop
	// inactive and returns how many sessions were stopped.
	DeactivateStop(ctx context.Context, stopID string) (int, error)
	MarkSessionRun(ctx context.Context, id string, at time.Time) error
	ActiveSessions(ctx context.Context) ([]transit.Session, error)

	// FindOrCreateTracking returns the (stop, bus) tracking with its
	// retained history, creating an active one if none exists.
	FindOrCreateTracking(ctx context.Context, stopID, busID, line, variantID string, now time.Time) (*tracking.Tracking, error)
	// SaveTracking stores derived fields and history. It never changes
	// the stored active flag.
	SaveTracking(ctx context.Context, t *tracking.Tracking) error
	// MarkMissing bumps the missing counter of the stored tracking in
	// place. Inactive or unknown trackings are left alone.
	MarkMissing(ctx context.Context, stopID, busID string) error
	ActiveTrackings(ctx context.Context, stopID string) ([]*tracking.Tracking, error)
	TrackingsSeenSince(ctx context.Context, stopID string, since time.Time) ([]*tracking.Tracking, error)
}
