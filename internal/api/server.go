// Package api serves the operator and viewer JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"bus-tracker/internal/eta"
	"bus-tracker/internal/feed"
	"bus-tracker/internal/tracker"
	"bus-tracker/internal/transit"
)

// StopDirectory looks up and searches bus stops.
type StopDirectory interface {
	Stop(ctx context.Context, id string) (transit.Stop, error)
	SearchStops(ctx context.Context, query string, limit int) ([]transit.Stop, error)
}

// Tracker is the session control surface of tracker.Manager.
type Tracker interface {
	StartTracking(ctx context.Context, stopID string, lines, variantIDs []string) (transit.Session, error)
	StopTracking(ctx context.Context, stopID string) (int, error)
	Dashboard(ctx context.Context, stopID string) (tracker.Dashboard, error)
	Running() int
}

// LiveView answers queries computed from live positions.
type LiveView interface {
	Approaching(ctx context.Context, target transit.Stop) ([]eta.ApproachingBus, error)
	LineBuses(ctx context.Context, line string) ([]eta.LiveBus, error)
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	stops    StopDirectory
	tracker  Tracker
	live     LiveView
	health   HealthCheck
	origins  []string
	validate *validator.Validate
}

// NewServer wires the handlers. health may be nil.
func NewServer(stops StopDirectory, tr Tracker, live LiveView, health HealthCheck, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		stops:    stops,
		tracker:  tr,
		live:     live,
		health:   health,
		origins:  origins,
		validate: validator.New(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.getHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stops", s.searchStops)
		r.Get("/stops/{stopID}", s.getStop)
		r.Get("/stops/{stopID}/dashboard", s.getDashboard)
		r.Post("/stops/{stopID}/tracking", s.startTracking)
		r.Delete("/stops/{stopID}/tracking", s.stopTracking)
		r.Get("/lines/{line}/buses", s.getLineBuses)
	})
	return r
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"sessions":  s.tracker.Running(),
		"timestamp": time.Now().UTC(),
	}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			body["status"] = "error"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transit.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transit.ErrSessionActive):
		status = http.StatusConflict
	case errors.Is(err, transit.ErrNoLines):
		status = http.StatusBadRequest
	case errors.Is(err, feed.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Printf("api: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
