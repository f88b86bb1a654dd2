package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"reminder-assistant/internal/app"
	"reminder-assistant/internal/archive"
	"reminder-assistant/internal/config"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/telemetry"
	workerproc "reminder-assistant/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger(config.Config{}).Error("load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	uploader, err := archive.UploaderFromConfig(ctx, cfg)
	if err != nil {
		logger.Error("init archive uploader", "error", err)
		os.Exit(1)
	}

	processor := workerproc.NewProcessor(workerproc.Deps{
		Jobs:       a.Scheduler,
		Reconciler: a.Manager,
		Dedup:      a.Store,
		Archiver:   archive.New(a.Store, uploader, a.Clock, cfg.ArchiveAfter, logger),
		Clock:      a.Clock,
		Logger:     logger,
	}, workerproc.Options{
		ReconcileInterval:    cfg.ReconcileInterval,
		DedupRetention:       cfg.DedupRetention,
		DedupCleanupInterval: cfg.DedupCleanupInterval,
		ArchiveInterval:      cfg.ArchiveInterval,
	})
	processor.RegisterHandler(models.JobNotify, a.Manager.FireNotify)
	processor.RegisterHandler(models.JobFollowUp, a.Manager.FireFollowUp)

	metrics := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metrics.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("worker started",
			"poll_interval", cfg.SchedulerPollInterval,
			"lease", cfg.SchedulerLease,
			"max_inflight", cfg.MaxInflightCallbacks)
		return processor.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
