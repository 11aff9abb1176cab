// Package api provides HTTP response helpers and the readiness endpoint of the stub assistant.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Detail writes a {"detail": message} response, the shape chat clients read
// for request failures.
func Detail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"detail": message})
}

// Checker reports the health of named dependencies. A nil error means healthy.
type Checker interface {
	Ping(ctx context.Context) map[string]error
}

// HealthHandler serves the readiness check.
type HealthHandler struct {
	checker Checker
	timeout time.Duration
}

// NewHealthHandler creates a readiness handler. A zero timeout uses 5s.
func NewHealthHandler(checker Checker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{checker: checker, timeout: timeout}
}

// Ready returns the status of the API and its dependencies.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	for name, err := range h.checker.Ping(ctx) {
		if err != nil {
			slog.Error("Readiness check failed", "dependency", name, "error", err)
			checks[name] = "unreachable"
			status["status"] = "degraded"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterRoutes registers the readiness route. Liveness is served by the
// heartbeat middleware on /health.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ready", h.Ready)
}
