package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves /health. Postgres is load-bearing; Redis only powers
// background kicks and the scheduled sweep, so its absence degrades rather
// than fails the check.
type HealthHandler struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewHealthHandler creates a health handler (redis optional).
func NewHealthHandler(pool *pgxpool.Pool, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{pool: pool, redis: redisClient}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string)}
	code := http.StatusOK

	if err := h.pool.Ping(ctx); err != nil {
		resp.Checks["postgres"] = "down"
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		resp.Checks["postgres"] = "ok"
	}

	switch {
	case h.redis == nil:
		resp.Checks["redis"] = "not configured"
	case h.redis.Ping(ctx).Err() != nil:
		resp.Checks["redis"] = "down"
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	default:
		resp.Checks["redis"] = "ok"
	}

	writeJSON(w, code, resp)
}
