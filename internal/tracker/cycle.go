package tracker

import (
	"context"
	"errors"
	"log"
	"time"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/tracking"
	"bus-tracker/internal/transit"
)

// runCycle performs one poll for the session and reports whether the
// session should keep running. Only an inactive or deleted session stops
// the loop; every other failure is logged and retried next cycle.
func (m *Manager) runCycle(ctx context.Context, sessionID string) bool {
	start := time.Now()
	s, err := m.store.Session(ctx, sessionID)
	if errors.Is(err, transit.ErrNotFound) {
		return false
	}
	if err != nil {
		log.Printf("session %s: load: %v", sessionID, err)
		return true
	}
	if !s.Active {
		return false
	}
	if err := m.store.MarkSessionRun(ctx, s.ID, m.now()); err != nil {
		log.Printf("session %s: mark run: %v", s.ID, err)
	}
	if m.metrics != nil {
		m.metrics.Cycles.Inc()
		defer func() { m.metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()
	}

	stop, err := m.store.Stop(ctx, s.StopID)
	if err != nil {
		log.Printf("session %s: stop %s: %v", s.ID, s.StopID, err)
		return true
	}
	if err := m.feed.Ready(); err != nil {
		log.Printf("session %s: feed unavailable: %v", s.ID, err)
		m.feedError("config")
		return true
	}

	fetchStart := time.Now()
	buses, err := m.feed.FetchPositions(ctx, s.Lines, s.VariantIDs)
	if m.metrics != nil {
		m.metrics.FeedDuration.Observe(time.Since(fetchStart).Seconds())
	}
	if err != nil {
		log.Printf("session %s: fetch positions for stop %s: %v", s.ID, stop.ID, err)
		if errors.Is(err, auth.ErrMissingCredentials) {
			m.feedError("auth")
		} else {
			m.feedError("fetch")
		}
		return true
	}
	if len(buses) == 0 {
		log.Printf("no buses found for stop %s, lines: %s", stop.ID, s.LinesDisplay())
		return true
	}

	seen := make(map[string]bool, len(buses))
	for _, b := range buses {
		if m.ingest(ctx, stop, b) {
			seen[b.BusID] = true
		}
	}
	m.markMissing(ctx, stop.ID, seen)
	log.Printf("tracked %d buses for stop %s (%s)", len(seen), stop.ID, stop.Name())
	return true
}

// ingest records one observation on the (stop, bus) tracking. It reports
// whether the bus counts as seen this cycle; a sample whose timestamp is
// already stored still does.
func (m *Manager) ingest(ctx context.Context, stop transit.Stop, b transit.Observation) bool {
	if !b.Valid() {
		return false
	}
	now := m.now()
	t, err := m.store.FindOrCreateTracking(ctx, stop.ID, b.BusID, b.Line, b.VariantID, now)
	if err != nil {
		log.Printf("stop %s bus %s: load tracking: %v", stop.ID, b.BusID, err)
		return false
	}
	added := t.AddPosition(tracking.Position{
		Location:       b.Location,
		DistanceToStop: geo.Distance(stop.Location, b.Location),
		Speed:          b.Speed,
		Timestamp:      b.Timestamp,
	}, now)
	if !added {
		if m.metrics != nil {
			m.metrics.RecordsSkipped.Inc()
		}
		return true
	}
	if err := m.store.SaveTracking(ctx, t); err != nil {
		log.Printf("stop %s bus %s: save tracking: %v", stop.ID, b.BusID, err)
		return false
	}
	if m.metrics != nil {
		m.metrics.BusesProcessed.Inc()
	}
	if m.pub != nil {
		if err := m.pub.PublishSnapshot(t.Snapshot(now)); err != nil {
			log.Printf("publish error for stop %s bus %s: %v", stop.ID, b.BusID, err)
		}
	}
	return true
}

func (m *Manager) markMissing(ctx context.Context, stopID string, seen map[string]bool) {
	active, err := m.store.ActiveTrackings(ctx, stopID)
	if err != nil {
		log.Printf("stop %s: load active trackings: %v", stopID, err)
		return
	}
	for _, t := range active {
		if seen[t.BusID] {
			continue
		}
		if err := m.store.MarkMissing(ctx, stopID, t.BusID); err != nil {
			log.Printf("stop %s bus %s: save missing mark: %v", stopID, t.BusID, err)
			continue
		}
		if m.metrics != nil {
			m.metrics.MissingMarks.Inc()
		}
	}
}

func (m *Manager) feedError(reason string) {
	if m.metrics != nil {
		m.metrics.FeedErrors.WithLabelValues(reason).Inc()
	}
}
