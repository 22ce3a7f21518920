package httpapi

import (
	"encoding/json"
	"net/http"
)

// healthResponse is the fixed body returned by GET /health.
type healthResponse struct {
	Status string `json:"status"`
}

// statusResponse is the body returned by GET /api/status.
type statusResponse struct {
	Connections   int64   `json:"connections"`
	TotalRequests int64   `json:"total_requests"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// Handler serves /health and /api/status. Register attaches both routes to
// a mux; the caller is expected to wrap the mux with observe.Middleware the
// same way it wraps the /ws/audio handler.
type Handler struct {
	tracker *StatusTracker
}

// New creates a Handler reporting counters from tracker.
func New(tracker *StatusTracker) *Handler {
	return &Handler{tracker: tracker}
}

// Register adds the GET /health and GET /api/status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/status", h.Status)
}

// Health always returns 200 {"status":"ok"} — a running process that can
// serve HTTP is considered alive.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Status reports the current connection count, total completed turns, and
// their average latency in milliseconds.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	connections, total, avg := h.tracker.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		Connections:   connections,
		TotalRequests: total,
		AvgLatencyMs:  avg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
