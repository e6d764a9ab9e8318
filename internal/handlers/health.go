package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// probe times fn and turns its outcome into a Check. Errors are replaced by
// failMsg so connection details never reach the response.
func probe(failMsg string, fn func() error) Check {
	start := time.Now()
	if err := fn(); err != nil {
		return Check{Status: "fail", Message: failMsg}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// Health reports the store, the Redis cache and the realtime hub. Redis and
// the hub are optional: when absent their check is skipped rather than failed.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]Check{
		"store": {Status: "fail", Message: "not configured"},
	}
	if h.store != nil {
		checks["store"] = probe("connection failed", func() error { return h.store.Ping(ctx) })
	}
	if h.redis != nil {
		checks["redis"] = probe("connection failed", func() error { return h.redis.Ping(ctx) })
	}
	if h.live != nil {
		checks["realtime"] = probe("hub not running", func() error {
			_, err := h.live.Overview(ctx)
			return err
		})
	}

	status, code := "healthy", http.StatusOK
	for _, c := range checks {
		if c.Status != "pass" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	h.JSON(w, code, HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "boardsync",
		Version: version,
		Endpoints: []string{
			"GET /health",
			"GET /api/boards",
			"POST /api/boards",
			"GET /api/boards/{id}",
			"DELETE /api/boards/{id}",
			"GET /api/sessions/{id}",
			"GET /api/stats",
			"GET /ws",
		},
	})
}
