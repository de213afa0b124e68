package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/washbay-gateway/internal/washlog"
)

// healthCheckTimeout bounds the database ping made by /health.
const healthCheckTimeout = 2 * time.Second

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	PLC     bool   `json:"plc"`
	MQTT    *bool  `json:"mqtt,omitempty"`
	DB      *bool  `json:"db,omitempty"`
}

// handleHealth reports "ok" when every dependency is reachable and
// "degraded" otherwise. It always answers 200 so probes can read the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		PLC:     s.bays.Connected(),
	}
	if !resp.PLC {
		resp.Status = "degraded"
	}

	if s.mqtt != nil {
		up := s.mqtt.IsConnected()
		resp.MQTT = &up
		if !up {
			resp.Status = "degraded"
		}
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		up := s.db.HealthCheck(ctx) == nil
		resp.DB = &up
		if !up {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListBays returns every bay in configuration order.
func (s *Server) handleListBays(w http.ResponseWriter, r *http.Request) {
	bays, err := s.bays.Bays(r.Context())
	if err != nil {
		s.logger.Warn("listing bays", "error", err)
		writeUnavailable(w, "gateway not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bays":  bays,
		"count": len(bays),
	})
}

// handleGetBay returns a single bay.
func (s *Server) handleGetBay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bay, ok, err := s.bays.Bay(r.Context(), id)
	if err != nil {
		s.logger.Warn("reading bay", "bay_id", id, "error", err)
		writeUnavailable(w, "gateway not running")
		return
	}
	if !ok {
		writeNotFound(w, "bay not found")
		return
	}
	writeJSON(w, http.StatusOK, bay)
}

// handleBayLogs returns a page of wash logs for one bay, newest first.
func (s *Server) handleBayLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok, err := s.bays.Bay(r.Context(), id); err == nil && !ok {
		writeNotFound(w, "bay not found")
		return
	}

	filter := washlog.Filter{BayID: id}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.logs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing wash logs", "bay_id", id, "error", err)
		writeInternalError(w, "failed to list wash logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWashStats returns aggregate wash statistics over all bays.
func (s *Server) handleWashStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.logs.Stats(r.Context())
	if err != nil {
		s.logger.Error("computing wash stats", "error", err)
		writeInternalError(w, "failed to compute wash stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
