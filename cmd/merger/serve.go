package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"callmerge/internal/merge"
	"callmerge/internal/metrics"
	"callmerge/pkg/logger"
)

// passRunner is the part of the orchestrator a scheduled job needs.
type passRunner interface {
	RunOnce(ctx context.Context) (merge.Summary, error)
}

func runPass(ctx context.Context, rt *runtime) (merge.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, rt.cfg.Merge.PassTimeout)
	defer cancel()
	return rt.orchestrator.RunOnce(ctx)
}

// passJob runs one bounded pass. Lock contention is expected when several
// merger replicas share a schedule and is not an error.
func passJob(ctx context.Context, r passRunner, timeout time.Duration, log *slog.Logger) func() {
	return func() {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		_, err := r.RunOnce(pctx)
		switch {
		case err == nil:
		case errors.Is(err, merge.ErrPassInProgress):
			log.Debug("scheduled pass skipped, lock held elsewhere")
		default:
			log.Error("scheduled pass failed", "err", err)
		}
	}
}

func newScheduler(schedule string, job func(), log *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: log.With("component", "cron")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, job); err != nil {
		return nil, err
	}
	return c, nil
}

func serve(ctx context.Context, rt *runtime) error {
	sched, err := newScheduler(rt.cfg.Merge.Schedule, passJob(ctx, rt.orchestrator, rt.cfg.Merge.PassTimeout, rt.log), rt.log)
	if err != nil {
		rt.log.Error("invalid merge schedule", "schedule", rt.cfg.Merge.Schedule, "err", err)
		return err
	}

	if rt.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              rt.cfg.HTTPAddr(),
		Handler:           newOpsRouter(rt.metrics, rt.log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info("merger metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sched.Start()
	rt.log.Info("merger started", "schedule", rt.cfg.Merge.Schedule, "pass_timeout", rt.cfg.Merge.PassTimeout.String())

	select {
	case <-ctx.Done():
	case err = <-errCh:
		rt.log.Error("metrics server failed", "err", err)
	}
	rt.log.Info("shutdown initiated")

	// Wait for a running pass; it is bounded by the pass timeout.
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil {
		rt.log.Error("http shutdown failed", "err", shutErr)
	}
	return err
}

// newOpsRouter serves the merger's scrape and probe endpoints.
func newOpsRouter(m *metrics.Metrics, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))
	return r
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
