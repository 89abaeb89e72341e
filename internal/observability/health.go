package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks liveness and per-subsystem readiness. The service
// is ready only once every registered subsystem has reported ready.
type HealthChecker struct {
	mu        sync.RWMutex
	subsys    map[string]bool
	startTime time.Time
}

func NewHealthChecker(subsystems ...string) *HealthChecker {
	h := &HealthChecker{
		subsys:    make(map[string]bool, len(subsystems)),
		startTime: time.Now(),
	}
	for _, name := range subsystems {
		h.subsys[name] = false
	}
	return h
}

// SetReady marks one subsystem ready or not ready.
func (h *HealthChecker) SetReady(subsystem string, ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subsys[subsystem] = ready
}

// IsReady reports whether every subsystem is ready.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.subsys {
		if !ok {
			return false
		}
	}
	return true
}

// LivenessHandler always returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once the DB is migrated, the feed is
// connected and state is restored; 503 with the laggards otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	var waiting []string
	for name, ok := range h.subsys {
		if !ok {
			waiting = append(waiting, name)
		}
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if len(waiting) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"waiting": waiting,
	})
}
