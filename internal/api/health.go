package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness and dependency readiness. A nil dependency is
// not configured and is skipped.
type HealthHandler struct {
	pgPool  *pgxpool.Pool
	redis   redis.UniversalClient
	env     string
	version string
}

func NewHealthHandler(pgPool *pgxpool.Pool, redis redis.UniversalClient, env, version string) *HealthHandler {
	return &HealthHandler{
		pgPool:  pgPool,
		redis:   redis,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness fails when postgres or redis is down. Both back the booking path:
// without the lock store every booking would be rejected.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	check := func(name string, ping func(context.Context) error) {
		pingCtx, pingCancel := context.WithTimeout(ctx, time.Second)
		defer pingCancel()
		if err := ping(pingCtx); err != nil {
			deps[name] = "down"
			status = "error"
			return
		}
		deps[name] = "ok"
	}

	if h.pgPool != nil {
		check("postgres", h.pgPool.Ping)
	}
	if h.redis != nil {
		check("redis", func(ctx context.Context) error { return h.redis.Ping(ctx).Err() })
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}
