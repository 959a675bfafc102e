package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// CheckResult is the outcome of one HealthCheck
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the body of the health endpoints
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	version string
	started time.Time
	checks  map[string]HealthCheck
	details func() map[string]interface{}
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. details, when set, adds
// service information such as the in-flight run to /api/health.
func NewHealthHandler(version string, checks map[string]HealthCheck, details func() map[string]interface{}, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		version: version,
		started: time.Now(),
		checks:  checks,
		details: details,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

func (h *HealthHandler) runChecks(ctx context.Context) (map[string]CheckResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]CheckResult, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			healthy = false
			results[name] = CheckResult{Status: "unhealthy", Error: err.Error()}
			h.logger.WarnContext(ctx, "health_check_failed",
				slog.String("check", name),
				slog.String("error", err.Error()))
			continue
		}
		results[name] = CheckResult{Status: "healthy"}
	}
	return results, healthy
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.runChecks(r.Context())
	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
	if h.details != nil {
		resp.Details = h.details()
	}
	if !healthy {
		resp.Status = "degraded"
	}
	render.JSON(w, r, resp)
}

// ReadinessCheck handles GET /api/health/ready
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.runChecks(r.Context())
	resp := HealthResponse{Status: "ready", Timestamp: time.Now().UTC(), Checks: checks}
	if !healthy {
		resp.Status = "not_ready"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{Status: "alive", Timestamp: time.Now().UTC()})
}
