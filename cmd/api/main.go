package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callmerge/internal/audit"
	"callmerge/internal/auth"
	"callmerge/internal/calls"
	"callmerge/internal/config"
	"callmerge/internal/events"
	"callmerge/internal/merge"
	"callmerge/internal/metrics"
	"callmerge/internal/passlock"
	"callmerge/internal/reporting"
	"callmerge/pkg/logger"
	"callmerge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	m := metrics.New()
	eventStore := events.NewPostgresStore(db, cfg.Merge.PageSize)
	records := calls.NewPostgresRepo(db)

	mode, err := merge.ParseDedupMode(cfg.Merge.IVRDedup)
	if err != nil {
		log.Error("merge options invalid", "err", err)
		os.Exit(1)
	}
	opts := merge.Options{
		DedupMode: mode,
		Observer:  m,
		Logger:    log,
	}
	if cfg.Merge.LockRedis {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		lock, err := passlock.NewRedis(rdb, cfg.Merge.LockKey, cfg.Merge.LockTTL)
		if err != nil {
			log.Error("pass lock init failed", "err", err)
			os.Exit(1)
		}
		opts.Locker = lock
	} else {
		log.Warn("no redis configured, merge passes are only guarded in-process")
	}

	d := deps{
		db:           db,
		auth:         authManager,
		metrics:      m,
		events:       eventStore,
		records:      records,
		orchestrator: merge.NewOrchestrator(eventStore, records, opts),
		passTimeout:  cfg.Merge.PassTimeout,
		reports:      reporting.NewService(reporting.NewPostgresRepo(db)),
		audit:        audit.NewService(audit.NewPostgresRepo(db)),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, d)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Admin-triggered passes run inside the request.
		WriteTimeout: cfg.Merge.PassTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
