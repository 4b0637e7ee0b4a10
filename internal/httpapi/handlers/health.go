package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"serenity/internal/httpkit"
)

// Health reports liveness. With ?deep=true it also runs the dependency
// checks and reports "degraded" when any of them fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	}

	if r.URL.Query().Get("deep") == "true" {
		checks, ok := h.deepHealthCheck(ctx)
		health["checks"] = checks
		if !ok {
			health["status"] = "degraded"
			h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) (map[string]any, bool) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	checks := make(map[string]any, len(names))
	for _, name := range names {
		result := runCheck(ctx, h.checks[name])
		if result["status"] != "ok" {
			ok = false
		}
		checks[name] = result
	}
	return checks, ok
}

func runCheck(ctx context.Context, check Check) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := check(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
