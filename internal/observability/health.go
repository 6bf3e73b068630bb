package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker serves liveness and readiness for one named service.
// Readiness flips on once the feed is subscribed and the ledger is seeded,
// and back off when shutdown starts.
type HealthChecker struct {
	service string
	ready   atomic.Bool
	started time.Time
}

func NewHealthChecker(service string) *HealthChecker {
	return &HealthChecker{
		service: service,
		started: time.Now(),
	}
}

// SetReady marks the service as ready (or, during shutdown, not ready) to
// accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

type healthStatus struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
}

// LivenessHandler answers 200 whenever the process is up.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, "alive")
}

// ReadinessHandler answers 200 once the service is ready, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() {
		h.respond(w, http.StatusOK, "ready")
		return
	}
	h.respond(w, http.StatusServiceUnavailable, "not_ready")
}

func (h *HealthChecker) respond(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(healthStatus{
		Service: h.service,
		Status:  status,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}
