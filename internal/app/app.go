package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/config"
	"reminder-assistant/internal/lifecycle"
	"reminder-assistant/internal/lock"
	"reminder-assistant/internal/notify"
	"reminder-assistant/internal/scheduler"
	"reminder-assistant/internal/store"
)

// App holds the collaborators shared by the api, worker, and mcp binaries.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Clock     clock.Clock
	Redis     *redis.Client
	Store     store.Store
	Scheduler *scheduler.RedisScheduler
	Notifier  notify.Notifier
	Manager   *lifecycle.Manager
}

// NewLogger returns a JSON logger in production and a text logger elsewhere, at the
// configured level.
func NewLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.Env == "prod" || cfg.Env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Build connects Redis and the store and assembles the lifecycle manager.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.PostgresDSN)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	notifier, err := notify.FromConfig(cfg, logger)
	if err != nil {
		st.Close()
		_ = client.Close()
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Clock:     clock.NewSystem(loc),
		Redis:     client,
		Store:     st,
		Scheduler: scheduler.New(client, scheduler.OptionsFromConfig(cfg), logger),
		Notifier:  notifier,
	}
	a.Manager = lifecycle.NewManager(lifecycle.Deps{
		Store:     st,
		Scheduler: a.Scheduler,
		Locks:     lock.NewLocker(client, cfg.LockTTL),
		Presented: lifecycle.NewRedisPresentedList(client, cfg.PresentedListTTL),
		Notifier:  notifier,
		Clock:     a.Clock,
		Logger:    logger,
	})
	return a, nil
}

func (a *App) Close() {
	a.Store.Close()
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("close redis", "error", err)
	}
}
