// Package httpapi exposes the correlator process's thin operational HTTP
// surface: liveness/readiness probes and the Prometheus scrape endpoint.
// Routing and event/JSON DTOs belong to a separate consumer of the
// persisted data, not to this core.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is satisfied by any dependency whose liveness the readiness probe
// should report (pgxpool.Pool and a ClickHouse driver.Conn already expose
// this shape; redis.Client's Ping does not and needs a small adapter).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config assembles the dependencies the router needs to answer /readyz.
type Config struct {
	Postgres       Pinger
	ClickHouse     Pinger
	Redis          Pinger
	ShardIDs       []uint32
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewRouter builds the chi router serving /healthz, /readyz, and /metrics.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}))

	logger := cfg.Logger.Sugar()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := map[string]bool{}
		if cfg.Postgres != nil {
			checks["postgres"] = cfg.Postgres.Ping(ctx) == nil
		}
		if cfg.ClickHouse != nil {
			checks["clickhouse"] = cfg.ClickHouse.Ping(ctx) == nil
		}
		if cfg.Redis != nil {
			checks["redis"] = cfg.Redis.Ping(ctx) == nil
		}

		ready := true
		for _, ok := range checks {
			if !ok {
				ready = false
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
			logger.Warnw("readiness check failing", "checks", checks)
		}
		writeJSON(w, status, map[string]any{
			"ready":     ready,
			"checks":    checks,
			"shard_ids": cfg.ShardIDs,
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
