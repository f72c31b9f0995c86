package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bus-tracker/internal/tracking"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// GET /api/stops?q=&limit=
func (s *Server) searchStops(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit: " + strconv.Quote(v)})
			return
		}
		limit = min(n, maxSearchLimit)
	}
	stops, err := s.stops.SearchStops(r.Context(), q, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]stopJSON, 0, len(stops))
	for _, st := range stops {
		out = append(out, newStopJSON(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stops": out, "count": len(out)})
}

// GET /api/stops/{stopID}
func (s *Server) getStop(w http.ResponseWriter, r *http.Request) {
	stop, err := s.stops.Stop(r.Context(), chi.URLParam(r, "stopID"))
	if err != nil {
		writeError(w, err)
		return
	}
	buses, err := s.live.Approaching(r.Context(), stop)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := stopDetailResponse{
		Stop:        newStopJSON(stop),
		Approaching: make([]approachingJSON, 0, len(buses)),
		PolledAt:    time.Now().UTC(),
	}
	for _, ab := range buses {
		resp.Approaching = append(resp.Approaching, newApproachingJSON(ab))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/stops/{stopID}/dashboard
func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.tracker.Dashboard(r.Context(), chi.URLParam(r, "stopID"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := dashboardResponse{
		Stop:  newStopJSON(d.Stop),
		Buses: d.Buses,
	}
	if resp.Buses == nil {
		resp.Buses = []tracking.Snapshot{}
	}
	if d.Session != nil {
		sj := newSessionJSON(*d.Session)
		resp.Session = &sj
	}
	writeJSON(w, http.StatusOK, resp)
}

type startTrackingRequest struct {
	Lines          []string `json:"lines" validate:"required,min=1"`
	LineVariantIDs []string `json:"lineVariantIds"`
}

// POST /api/stops/{stopID}/tracking
func (s *Server) startTracking(w http.ResponseWriter, r *http.Request) {
	var req startTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	sess, err := s.tracker.StartTracking(r.Context(), chi.URLParam(r, "stopID"), req.Lines, req.LineVariantIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionJSON(sess))
}

// DELETE /api/stops/{stopID}/tracking
func (s *Server) stopTracking(w http.ResponseWriter, r *http.Request) {
	n, err := s.tracker.StopTracking(r.Context(), chi.URLParam(r, "stopID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": n})
}

// GET /api/lines/{line}/buses
func (s *Server) getLineBuses(w http.ResponseWriter, r *http.Request) {
	line := chi.URLParam(r, "line")
	buses, err := s.live.LineBuses(r.Context(), line)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]liveBusJSON, 0, len(buses))
	for _, lb := range buses {
		out = append(out, newLiveBusJSON(lb))
	}
	writeJSON(w, http.StatusOK, map[string]any{"line": line, "buses": out, "count": len(out)})
}
