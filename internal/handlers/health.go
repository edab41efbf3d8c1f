package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/httpx"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/requestctx"
)

const readinessTimeout = 3 * time.Second

// Check reports whether one dependency is ready to serve traffic.
type Check func(ctx context.Context) error

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// Readyz runs every named check and returns 503 when any fails.
func Readyz(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		status := http.StatusOK
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				requestctx.Logger(r.Context()).Warn("readiness check failed", zap.String("check", name), zap.Error(err))
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "unavailable"
		}
		httpx.WriteJSON(w, status, map[string]any{"status": overall, "checks": results})
	}
}
