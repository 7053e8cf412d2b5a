package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxpilot/taxpilot/internal/agent"
	"github.com/taxpilot/taxpilot/internal/store"
)

const readinessTimeout = 5 * time.Second

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness is a readiness probe. Pings MongoDB and, when a pool is
// configured, Postgres, and reports the model circuit breaker state.
// Returns 503 when either backend is unreachable; an open breaker is
// reported but does not flip readiness, the databases still work.
func readiness(st *store.Store, pool *pgxpool.Pool, runtime *agent.Runtime, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := map[string]string{"mongodb": "ok", "postgres": "ok"}
		ready := true

		if err := st.Ping(ctx); err != nil {
			logger.Warn("readiness: mongodb ping failed", "error", err)
			status["mongodb"] = "unreachable"
			ready = false
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				logger.Warn("readiness: postgres ping failed", "error", err)
				status["postgres"] = "unreachable"
				ready = false
			}
		} else {
			status["postgres"] = "not_configured"
		}

		if runtime != nil {
			status["model_breaker"] = runtime.BreakerState().String()
		}

		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status, logger)
	}
}
