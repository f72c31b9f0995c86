// Package tracker runs one polling loop per active tracking session and
// exposes the operator commands that start and stop them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bus-tracker/internal/feed"
	mmetrics "bus-tracker/internal/metrics"
	"bus-tracker/internal/tracking"
	"bus-tracker/internal/transit"
)

const DefaultPollInterval = 15 * time.Second

// Publisher receives the snapshot of every bus ingested by a cycle.
type Publisher interface {
	PublishSnapshot(s tracking.Snapshot) error
}

type Manager struct {
	store           Store
	feed            feed.Source
	pub             Publisher
	pollInterval    time.Duration
	refreshInterval time.Duration
	metrics         *mmetrics.Collector
	now             func() time.Time

	mu      sync.Mutex
	base    context.Context
	running map[string]context.CancelFunc // sessionID -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

// NewManager wires a manager. pub and metrics may be nil.
func NewManager(store Store, src feed.Source, pub Publisher, pollInterval, refreshInterval time.Duration, metrics *mmetrics.Collector) *Manager {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Manager{
		store:           store,
		feed:            src,
		pub:             pub,
		pollInterval:    pollInterval,
		refreshInterval: refreshInterval,
		metrics:         metrics,
		now:             time.Now,
		base:            context.Background(),
		running:         make(map[string]context.CancelFunc),
	}
}

// Start binds session runners to ctx and launches the refresher, which
// resumes every active session found in storage.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()
	m.StartRefresher(ctx)
}

// StartTracking opens a session on stopID for the given lines and launches
// its runner. Variant ids optionally narrow the feed query.
func (m *Manager) StartTracking(ctx context.Context, stopID string, lines, variantIDs []string) (transit.Session, error) {
	lines = cleanList(lines)
	variantIDs = cleanList(variantIDs)
	if len(lines) == 0 {
		return transit.Session{}, transit.ErrNoLines
	}
	if _, err := m.store.Stop(ctx, stopID); err != nil {
		return transit.Session{}, fmt.Errorf("stop %s: %w", stopID, err)
	}
	if err := m.feed.Ready(); err != nil {
		return transit.Session{}, err
	}
	if _, err := m.store.ActiveSession(ctx, stopID); err == nil {
		return transit.Session{}, transit.ErrSessionActive
	} else if !errors.Is(err, transit.ErrNotFound) {
		return transit.Session{}, err
	}

	s := transit.Session{
		ID:         uuid.NewString(),
		StopID:     stopID,
		Lines:      lines,
		VariantIDs: variantIDs,
		Active:     true,
		StartedAt:  m.now(),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return transit.Session{}, err
	}
	log.Printf("session %s started on stop %s (lines %s, variants %s)", s.ID, stopID, s.LinesDisplay(), s.VariantsDisplay())

	m.mu.Lock()
	base := m.base
	m.mu.Unlock()
	m.startSession(base, s)
	return s, nil
}

// StopTracking deactivates the stop's sessions and trackings at once. A
// runner finishes its current cycle and exits at the next one.
func (m *Manager) StopTracking(ctx context.Context, stopID string) (int, error) {
	if _, err := m.store.Stop(ctx, stopID); err != nil {
		return 0, fmt.Errorf("stop %s: %w", stopID, err)
	}
	n, err := m.store.DeactivateStop(ctx, stopID)
	if err != nil {
		return 0, err
	}
	log.Printf("tracking stopped on stop %s (%d sessions)", stopID, n)
	return n, nil
}

// Running reports how many session runners are alive.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) startSession(parent context.Context, s transit.Session) {
	m.mu.Lock()
	if _, exists := m.running[s.ID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[s.ID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.SessionsStarted.Inc()
		m.metrics.ActiveSessions.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.runSession(ctx, s.ID)
		m.mu.Lock()
		delete(m.running, s.ID)
		if m.metrics != nil {
			m.metrics.SessionsFinished.Inc()
			m.metrics.ActiveSessions.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
		cancel()
	}()
}

// runSession re-arms its timer only after a cycle completes, so cycles of
// one session never overlap.
func (m *Manager) runSession(ctx context.Context, sessionID string) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !m.runCycle(ctx, sessionID) {
			log.Printf("session %s is no longer active, runner exiting", sessionID)
			return
		}
		timer.Reset(m.pollInterval)
	}
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// StartRefresher launches a background loop that periodically loads active
// sessions and starts runners for those not yet running.
func (m *Manager) StartRefresher(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		// immediate refresh on start
		if err := m.RefreshActive(ctx); err != nil {
			log.Printf("refresh active sessions error: %v", err)
		}
		if m.refreshInterval <= 0 {
			return
		}
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					log.Printf("refresh active sessions error: %v", err)
				}
			}
		}
	}()
}

// RefreshActive starts a runner for every active session without one.
func (m *Manager) RefreshActive(ctx context.Context) error {
	sessions, err := m.store.ActiveSessions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	base := m.base
	m.mu.Unlock()
	for _, s := range sessions {
		m.startSession(base, s)
	}
	return nil
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
