// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/facturio/facturio-api/internal/common"
)

// Checker probes the process's hard dependencies.
type Checker interface {
	PingDB(ctx context.Context) error
	PingRedis(ctx context.Context) error
}

// ready gates the readiness endpoint during graceful shutdown so load
// balancers drain traffic before the listener closes.
var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles the readiness gate.
func SetReady(v bool) { ready.Store(v) }

// Handler exposes the probe endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports process liveness.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on the shutdown gate and dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}

	status := map[string]string{"db": "ok", "redis": "ok"}
	healthy := true

	dbCtx, cancel := context.WithTimeout(r.Context(), h.dbTimeout())
	if err := h.Checker.PingDB(dbCtx); err != nil {
		status["db"] = err.Error()
		healthy = false
	}
	cancel()

	redisCtx, cancel := context.WithTimeout(r.Context(), h.redisTimeout())
	if err := h.Checker.PingRedis(redisCtx); err != nil {
		status["redis"] = err.Error()
		healthy = false
	}
	cancel()

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

// PoolChecker probes the live pgx pool and redis client.
type PoolChecker struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// PingDB implements Checker.
func (c PoolChecker) PingDB(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// PingRedis implements Checker.
func (c PoolChecker) PingRedis(ctx context.Context) error {
	return c.Redis.Ping(ctx).Err()
}
