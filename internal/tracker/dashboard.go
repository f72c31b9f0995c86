package tracker

import (
	"context"
	"errors"
	"sort"
	"time"

	"bus-tracker/internal/tracking"
	"bus-tracker/internal/transit"
)

// DashboardWindow bounds how recently a bus must have been seen to be listed.
const DashboardWindow = 5 * time.Minute

type Dashboard struct {
	Stop    transit.Stop
	Session *transit.Session // nil when the stop is not being tracked
	Buses   []tracking.Snapshot
}

// Dashboard lists the stop's recently seen buses that have not yet passed
// it, nearest first. Buses with unknown distance sort last.
func (m *Manager) Dashboard(ctx context.Context, stopID string) (Dashboard, error) {
	stop, err := m.store.Stop(ctx, stopID)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{Stop: stop}
	if s, err := m.store.ActiveSession(ctx, stopID); err == nil {
		d.Session = &s
	} else if !errors.Is(err, transit.ErrNotFound) {
		return Dashboard{}, err
	}

	now := m.now()
	ts, err := m.store.TrackingsSeenSince(ctx, stopID, now.Add(-DashboardWindow))
	if err != nil {
		return Dashboard{}, err
	}
	var visible []*tracking.Tracking
	for _, t := range ts {
		if !t.HasPassed() {
			visible = append(visible, t)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i].DistanceToStop, visible[j].DistanceToStop
		if a == nil || b == nil {
			return a != nil
		}
		return *a < *b
	})
	d.Buses = make([]tracking.Snapshot, 0, len(visible))
	for _, t := range visible {
		d.Buses = append(d.Buses, t.Snapshot(now))
	}
	return d, nil
}
