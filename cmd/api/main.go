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

	api "reminder-assistant/internal/api"
	"reminder-assistant/internal/app"
	"reminder-assistant/internal/config"
	"reminder-assistant/internal/ratelimit"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	server := api.New(api.Deps{
		Intents:  a.Manager,
		Dedup:    a.Store,
		Jobs:     a.Scheduler,
		Notifier: a.Notifier,
		Limiter:  ratelimit.NewTokenBucket(a.Redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour),
		Clock:    a.Clock,
		Logger:   logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
