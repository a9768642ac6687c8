package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const readyTimeout = 2 * time.Second

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db      Pinger
	version string
	logger  *zap.Logger
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(db Pinger, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, version: version, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
}

// Health returns the health status
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Ready reports whether the database is reachable
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeHealth(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
	}
	writeHealth(w, http.StatusOK, HealthResponse{Status: "ready"})
}

// Live returns the liveness status
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthResponse{Status: "alive"})
}

func writeHealth(w http.ResponseWriter, status int, resp HealthResponse) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
