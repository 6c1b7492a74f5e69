package httpapi

import (
	"net/http"
	"time"

	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
)

type healthResponse struct {
	Status       string      `json:"status"`
	UptimeSecond float64     `json:"uptime_seconds"`
	Dependencies []depHealth `json:"dependencies"`
}

type depHealth struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Healthy  bool   `json:"healthy"`
}

// handleHealth aggregates the health monitor's per-dependency snapshots into
// one overall status. It always returns 200: the body, not the status code,
// carries the verdict, so it is safe to probe without authentication.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snaps := s.deps.Health.Snapshot()

	status := "healthy"
	deps := make([]depHealth, 0, len(snaps))
	anyRequiredDown, anyOptionalDown := false, false
	for _, snap := range snaps {
		deps = append(deps, depHealth{Name: snap.Name, Required: snap.Required, Healthy: snap.Healthy})
		if !snap.Healthy {
			if snap.Required {
				anyRequiredDown = true
			} else {
				anyOptionalDown = true
			}
		}
	}
	switch {
	case anyRequiredDown:
		status = "unhealthy"
	case anyOptionalDown:
		status = "degraded"
	}

	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		UptimeSecond: time.Since(s.deps.StartedAt).Seconds(),
		Dependencies: deps,
	})
}
