// cmd/lcec is the Live Combat Event Correlator's process entrypoint: it
// loads configuration, applies migrations, connects every shard's
// dependencies, bootstraps one correlator per configured game server, and
// serves the HTTP surface until shut down. It starts no message loop for
// the bootstrapped servers; that needs a shard.MessageSource (see run).
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/legacyplayers/lcec/internal/armory"
	"github.com/legacyplayers/lcec/internal/chmirror"
	"github.com/legacyplayers/lcec/internal/config"
	"github.com/legacyplayers/lcec/internal/httpapi"
	"github.com/legacyplayers/lcec/internal/lifecycle"
	"github.com/legacyplayers/lcec/internal/persistence"
	"github.com/legacyplayers/lcec/internal/resolver"
	"github.com/legacyplayers/lcec/internal/shard"
)

const shutdownGrace = 10 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Sugar().Fatalw("lcec exited with error", "error", err)
	}
}

func run(logger *zap.Logger) error {
	sugar := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shardCfgs, err := config.LoadShardTopology(cfg.ShardTopologyPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer rdb.Close()

	mysqlStore, err := armory.NewMySQLStore(cfg.ArmoryMySQLDSN)
	if err != nil {
		return err
	}
	oracle := armory.NewCachedOracle(mysqlStore, rdb, cfg.ArmoryCacheTTL, logger)
	unitResolver := resolver.New(oracle)

	chConn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{cfg.ClickHouseDSN}})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	servers := make([]*shard.Server, 0, len(shardCfgs))
	shardIDs := make([]uint32, 0, len(shardCfgs))
	var firstAdapter *persistence.Adapter

	for _, sc := range shardCfgs {
		server, adapter, err := bootstrapShard(ctx, sc, unitResolver, oracle, chConn, cfg, logger)
		if err != nil {
			return err
		}
		servers = append(servers, server)
		shardIDs = append(shardIDs, sc.ID)
		if firstAdapter == nil {
			firstAdapter = adapter
		}
	}
	sugar.Infow("all shards bootstrapped", "count", len(servers))

	httpSrv := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: httpapi.NewRouter(httpapi.Config{
			Postgres:       firstAdapter,
			Redis:          redisPinger{rdb},
			ClickHouse:     chConn,
			ShardIDs:       shardIDs,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
	}

	g.Go(func() error {
		sugar.Infow("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	// Driving each server with live traffic requires a shard.MessageSource
	// wired to this deployment's ingest transport (out of scope here) —
	// e.g. g.Go(func() error { shard.Run(ctx, server, mySource); return nil })
	// for each entry in servers.

	return g.Wait()
}

// bootstrapShard connects one shard's Postgres pool and ClickHouse mirror,
// applies migrations, and restores its active-instance and reset-window
// state before returning — so no message can race the load.
func bootstrapShard(ctx context.Context, sc config.ShardConfig, unitResolver shard.UnitResolver, armoryLookup lifecycle.ArenaTeamLookup, chConn driver.Conn, cfg *config.Config, logger *zap.Logger) (*shard.Server, *persistence.Adapter, error) {
	if err := persistence.ApplyMigrations(sc.PostgresURL, "migrations/postgres"); err != nil {
		return nil, nil, err
	}

	pgPool, err := pgxpool.New(ctx, sc.PostgresURL)
	if err != nil {
		return nil, nil, err
	}

	adapter := persistence.New(pgPool, logger)

	mirror := chmirror.New(chmirror.Config{
		ServerID:      sc.ID,
		QueueSize:     cfg.MirrorQueueSize,
		BatchSize:     cfg.MirrorBatchSize,
		FlushInterval: cfg.MirrorFlushInterval,
		ClickHouse:    chConn,
		Logger:        logger,
	})
	mirror.Start(ctx)

	sink := shard.NewFanoutSink(adapter, mirror, logger)
	server := shard.New(sc.ID, unitResolver, armoryLookup, adapter, sink, logger)

	active, err := adapter.LoadActiveInstances(ctx, sc.ID)
	if err != nil {
		return nil, nil, err
	}
	snapshots := make([]lifecycle.ActiveInstanceSnapshot, len(active))
	for i, a := range active {
		snapshots[i] = lifecycle.ActiveInstanceSnapshot{
			EncounterID: a.EncounterID,
			InstanceID:  a.InstanceID,
			MapID:       a.MapID,
			EnteredMs:   a.EnteredMs,
		}
	}
	server.LoadActiveInstances(snapshots)

	resets, err := adapter.LoadInstanceResets(ctx, sc.ID)
	if err != nil {
		return nil, nil, err
	}
	server.LoadInstanceResets(resets)

	logger.Sugar().Infow("shard ready", "server_id", sc.ID, "active_instances", len(active))
	return server, adapter, nil
}

// redisPinger adapts *redis.Client's Ping to httpapi.Pinger.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
