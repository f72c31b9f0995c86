// Package store is an in-memory implementation of the tracker and catalog
// persistence contracts, used in tests and for database-less runs.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bus-tracker/internal/route"
	"bus-tracker/internal/tracking"
	"bus-tracker/internal/transit"
)

type trackingKey struct{ stopID, busID string }

type Memory struct {
	mu        sync.RWMutex
	stops     map[string]transit.Stop
	lines     map[string]transit.Line // by number
	variants  map[string]*route.Variant
	sessions  map[string]transit.Session
	trackings map[trackingKey]*tracking.Tracking
	nextID    int64
}

func NewMemory() *Memory {
	return &Memory{
		stops:     make(map[string]transit.Stop),
		lines:     make(map[string]transit.Line),
		variants:  make(map[string]*route.Variant),
		sessions:  make(map[string]transit.Session),
		trackings: make(map[trackingKey]*tracking.Tracking),
	}
}

// PutVariant stores v with its stop sequence, replacing any previous one.
// Stops referenced by v are registered too.
func (m *Memory) PutVariant(v route.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range v.Stops {
		if _, ok := m.stops[ref.Stop.ID]; !ok {
			m.stops[ref.Stop.ID] = ref.Stop
		}
	}
	cp := v
	cp.Stops = append([]route.StopRef(nil), v.Stops...)
	m.variants[v.ID] = &cp
}

func (m *Memory) SaveStops(_ context.Context, stops []transit.Stop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stops {
		m.stops[s.ID] = s
	}
	return nil
}

// SaveLineVariant finds or creates the line by number and the variant by id.
// An existing variant is left as is.
func (m *Memory) SaveLineVariant(_ context.Context, line transit.Line, v route.Variant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.lines[line.Number]; !ok {
		m.lines[line.Number] = line
	} else if cur.ExternalID == "" && line.ExternalID != "" {
		cur.ExternalID = line.ExternalID
		m.lines[line.Number] = cur
	}
	if _, ok := m.variants[v.ID]; ok {
		return false, nil
	}
	cp := v
	cp.Stops = nil
	m.variants[v.ID] = &cp
	return true, nil
}

func (m *Memory) Line(_ context.Context, number string) (transit.Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lines[number]
	if !ok {
		return transit.Line{}, transit.ErrNotFound
	}
	return l, nil
}

func (m *Memory) Stop(_ context.Context, id string) (transit.Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stops[id]
	if !ok {
		return transit.Stop{}, transit.ErrNotFound
	}
	return s, nil
}

// SearchStops matches query against street names and the stop id.
func (m *Memory) SearchStops(_ context.Context, query string, limit int) ([]transit.Stop, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	m.mu.RLock()
	var out []transit.Stop
	for _, s := range m.stops {
		if strings.Contains(strings.ToLower(s.Street1), q) ||
			strings.Contains(strings.ToLower(s.Street2), q) ||
			strings.Contains(s.ID, q) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Street1 != out[j].Street1 {
			return out[i].Street1 < out[j].Street1
		}
		if out[i].Street2 != out[j].Street2 {
			return out[i].Street2 < out[j].Street2
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Variant(_ context.Context, id string) (*route.Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variants[id]
	if !ok {
		return nil, transit.ErrNotFound
	}
	return cloneVariant(v), nil
}

func (m *Memory) VariantsForStop(_ context.Context, stopID string) ([]*route.Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*route.Variant
	for _, v := range m.variants {
		if v.Serves(stopID) {
			out = append(out, cloneVariant(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneVariant(v *route.Variant) *route.Variant {
	cp := *v
	cp.Stops = append([]route.StopRef(nil), v.Stops...)
	return &cp
}

func (m *Memory) Session(_ context.Context, id string) (transit.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return transit.Session{}, transit.ErrNotFound
	}
	return s, nil
}

func (m *Memory) ActiveSession(_ context.Context, stopID string) (transit.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.activeSessionLocked(stopID); ok {
		return s, nil
	}
	return transit.Session{}, transit.ErrNotFound
}

func (m *Memory) activeSessionLocked(stopID string) (transit.Session, bool) {
	for _, s := range m.sessions {
		if s.StopID == stopID && s.Active {
			return s, true
		}
	}
	return transit.Session{}, false
}

func (m *Memory) CreateSession(_ context.Context, s transit.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stops[s.StopID]; !ok {
		return transit.ErrNotFound
	}
	if _, ok := m.activeSessionLocked(s.StopID); ok {
		return transit.ErrSessionActive
	}
	s.Active = true
	m.sessions[s.ID] = s
	for k, t := range m.trackings {
		if k.stopID == s.StopID {
			t.Active = true
		}
	}
	return nil
}

func (m *Memory) DeactivateStop(_ context.Context, stopID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.StopID == stopID && s.Active {
			s.Active = false
			m.sessions[id] = s
			n++
		}
	}
	for k, t := range m.trackings {
		if k.stopID == stopID {
			t.Active = false
		}
	}
	return n, nil
}

func (m *Memory) MarkSessionRun(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return transit.ErrNotFound
	}
	s.LastRunAt = at
	m.sessions[id] = s
	return nil
}

func (m *Memory) ActiveSessions(_ context.Context) ([]transit.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []transit.Session
	for _, s := range m.sessions {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *Memory) FindOrCreateTracking(_ context.Context, stopID, busID, line, variantID string, now time.Time) (*tracking.Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := trackingKey{stopID, busID}
	if t, ok := m.trackings[k]; ok {
		return t.Clone(), nil
	}
	m.nextID++
	t := tracking.New(stopID, busID, line, variantID, now)
	t.ID = m.nextID
	m.trackings[k] = t
	return t.Clone(), nil
}

func (m *Memory) SaveTracking(_ context.Context, t *tracking.Tracking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := trackingKey{t.StopID, t.BusID}
	cur, ok := m.trackings[k]
	if !ok {
		return transit.ErrNotFound
	}
	cp := t.Clone()
	cp.ID = cur.ID
	cp.Active = cur.Active
	m.trackings[k] = cp
	return nil
}

func (m *Memory) MarkMissing(_ context.Context, stopID, busID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackings[trackingKey{stopID, busID}]; ok && t.Active {
		t.MarkMissing()
	}
	return nil
}

func (m *Memory) ActiveTrackings(_ context.Context, stopID string) ([]*tracking.Tracking, error) {
	return m.collect(func(t *tracking.Tracking) bool { return t.StopID == stopID && t.Active }), nil
}

func (m *Memory) TrackingsSeenSince(_ context.Context, stopID string, since time.Time) ([]*tracking.Tracking, error) {
	return m.collect(func(t *tracking.Tracking) bool { return t.StopID == stopID && t.LastSeen.After(since) }), nil
}

func (m *Memory) collect(keep func(*tracking.Tracking) bool) []*tracking.Tracking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*tracking.Tracking
	for _, t := range m.trackings {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
