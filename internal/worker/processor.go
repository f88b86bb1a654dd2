package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/scheduler"
)

// Handler executes one fired job.
type Handler func(ctx context.Context, p models.JobPayload) error

// JobRunner delivers due jobs to a callback until its context ends.
type JobRunner interface {
	Run(ctx context.Context, handler scheduler.Handler) error
}

// Reconciler rebuilds jobs from reminder state.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// DedupPurger drops processed message ids older than a cutoff.
type DedupPurger interface {
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver moves old Completed reminders out of the store.
type Archiver interface {
	Run(ctx context.Context) (int, error)
}

// Options sets the intervals of the housekeeping loops. A zero interval disables a loop.
type Options struct {
	ReconcileInterval    time.Duration
	DedupRetention       time.Duration
	DedupCleanupInterval time.Duration
	ArchiveInterval      time.Duration
}

// Processor drives job callbacks and the periodic maintenance around them.
type Processor struct {
	jobs       JobRunner
	reconciler Reconciler
	dedup      DedupPurger
	archiver   Archiver
	clock      clock.Clock
	opts       Options
	handlers   map[models.JobKind]Handler
	logger     *slog.Logger
}

// Deps collects the processor's collaborators. Dedup and Archiver are optional.
type Deps struct {
	Jobs       JobRunner
	Reconciler Reconciler
	Dedup      DedupPurger
	Archiver   Archiver
	Clock      clock.Clock
	Logger     *slog.Logger
}

func NewProcessor(d Deps, opts Options) *Processor {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Processor{
		jobs:       d.Jobs,
		reconciler: d.Reconciler,
		dedup:      d.Dedup,
		archiver:   d.Archiver,
		clock:      d.Clock,
		opts:       opts,
		handlers:   make(map[models.JobKind]Handler),
		logger:     d.Logger.With("component", "worker"),
	}
}

// RegisterHandler binds a handler to a job kind.
func (p *Processor) RegisterHandler(kind models.JobKind, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	p.handlers[kind] = handler
}

// Run reconciles once, then runs the scheduler loop and the maintenance loops until ctx
// is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if n, err := p.reconciler.Reconcile(ctx); err != nil {
		p.logger.ErrorContext(ctx, "startup reconcile incomplete", "error", err)
	} else {
		p.logger.InfoContext(ctx, "startup reconcile done", "recreated", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.jobs.Run(ctx, p.Dispatch)
	})
	p.every(g, ctx, "reconcile", p.opts.ReconcileInterval, func(ctx context.Context) error {
		_, err := p.reconciler.Reconcile(ctx)
		return err
	})
	if p.dedup != nil {
		p.every(g, ctx, "dedup cleanup", p.opts.DedupCleanupInterval, p.PurgeDedup)
	}
	if p.archiver != nil {
		p.every(g, ctx, "archive", p.opts.ArchiveInterval, func(ctx context.Context) error {
			_, err := p.archiver.Run(ctx)
			return err
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dispatch routes a fired job to the handler for its kind.
func (p *Processor) Dispatch(ctx context.Context, job scheduler.Job) error {
	kind, id, err := models.ParseJobKey(job.Key)
	if err != nil {
		return err
	}
	payload, err := models.DecodeJobPayload(job.Payload)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Key, err)
	}
	if payload.Kind != kind || payload.ReminderID != id {
		return fmt.Errorf("job %s: payload belongs to %s", job.Key, models.JobKey(payload.Kind, payload.ReminderID))
	}
	handler, ok := p.handlers[kind]
	if !ok {
		return fmt.Errorf("no handler registered for job kind %q", kind)
	}
	return handler(ctx, payload)
}

// PurgeDedup forgets processed message ids older than the retention period.
func (p *Processor) PurgeDedup(ctx context.Context) error {
	n, err := p.dedup.PurgeProcessed(ctx, p.clock.Now().Add(-p.opts.DedupRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "purged processed message ids", "count", n)
	}
	return nil
}

// every runs fn on each tick of interval. Failures are logged and the loop continues.
func (p *Processor) every(g *errgroup.Group, ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					p.logger.ErrorContext(ctx, name+" failed", "error", err)
				}
			}
		}
	})
}
