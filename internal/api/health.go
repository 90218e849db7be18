package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdvisorHealth checks the reasoning service.
type AdvisorHealth interface {
	Health(ctx context.Context) error
}

// HealthHandler reports liveness of the store and the advisor.
type HealthHandler struct {
	db      Pinger
	advisor AdvisorHealth
	timeout time.Duration
}

// NewHealthHandler creates a health handler. Either dependency may be nil.
func NewHealthHandler(db Pinger, advisor AdvisorHealth) *HealthHandler {
	return &HealthHandler{db: db, advisor: advisor, timeout: 2 * time.Second}
}

// ServeHTTP responds 200 when the store is reachable. An unhealthy advisor
// degrades the report without failing it.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := map[string]string{"status": "ok", "database": "ok", "advisor": "disabled"}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			report["status"] = "unavailable"
			report["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.advisor != nil {
		report["advisor"] = "ok"
		if err := h.advisor.Health(ctx); err != nil {
			report["advisor"] = err.Error()
			if status == http.StatusOK {
				report["status"] = "degraded"
			}
		}
	}
	JSON(w, status, report)
}
