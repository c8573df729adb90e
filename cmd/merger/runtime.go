package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"callmerge/internal/calls"
	"callmerge/internal/config"
	"callmerge/internal/events"
	"callmerge/internal/merge"
	"callmerge/internal/metrics"
	"callmerge/internal/passlock"
	"callmerge/pkg/logger"
	"callmerge/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// runtime is everything a merger subcommand needs.
type runtime struct {
	cfg          config.Config
	log          *slog.Logger
	db           *sql.DB
	rdb          *redis.Client
	metrics      *metrics.Metrics
	orchestrator *merge.Orchestrator
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.App.Env, "merger")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, db: db, metrics: metrics.New()}

	mode, err := merge.ParseDedupMode(cfg.Merge.IVRDedup)
	if err != nil {
		rt.Close()
		return nil, err
	}
	opts := merge.Options{
		DedupMode: mode,
		Observer:  rt.metrics,
		Logger:    log,
	}
	if cfg.Merge.LockRedis {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			rt.Close()
			return nil, err
		}
		rt.rdb = rdb
		lock, err := passlock.NewRedis(rdb, cfg.Merge.LockKey, cfg.Merge.LockTTL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts.Locker = lock
	} else {
		log.Warn("no redis configured, merge passes are only guarded in-process")
	}

	ev := events.NewPostgresStore(db, cfg.Merge.PageSize)
	rt.orchestrator = merge.NewOrchestrator(ev, calls.NewPostgresRepo(db), opts)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.rdb != nil {
		_ = rt.rdb.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
