package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/intent"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/notify"
	"reminder-assistant/internal/telemetry"
)

// Store is the reminder persistence the manager owns.
type Store interface {
	Insert(ctx context.Context, r models.Reminder) error
	Get(ctx context.Context, id string) (models.Reminder, error)
	Update(ctx context.Context, r models.Reminder) error
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, statuses ...models.ReminderStatus) ([]models.Reminder, error)
	FindActiveNear(ctx context.Context, from, to time.Time) ([]models.Reminder, error)
	LatestAwaitingResponse(ctx context.Context) (models.Reminder, bool, error)
}

// Scheduler is the durable single-fire timer service.
type Scheduler interface {
	Schedule(ctx context.Context, key string, fireAt time.Time, payload []byte) error
	Cancel(ctx context.Context, key string) error
	Pending(ctx context.Context, key string) (bool, error)
}

// Locker serializes work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// DuplicateWindow is how close in time two Active reminders with the same title must be
// for a create to be treated as a repeat.
const DuplicateWindow = 5 * time.Minute

// pastTolerance lets a create or update land slightly behind the clock.
const pastTolerance = time.Minute

const createLockKey = "reminders:create"

// Manager owns reminder state transitions and the jobs that belong to them.
type Manager struct {
	store     Store
	scheduler Scheduler
	locks     Locker
	presented PresentedList
	notifier  notify.Notifier
	clock     clock.Clock
	lockWait  time.Duration
	logger    *slog.Logger
}

// Deps collects the manager's collaborators.
type Deps struct {
	Store     Store
	Scheduler Scheduler
	Locks     Locker
	Presented PresentedList
	Notifier  notify.Notifier
	Clock     clock.Clock
	// LockWait bounds how long a transition waits for a busy reminder.
	LockWait time.Duration
	Logger   *slog.Logger
}

func NewManager(d Deps) *Manager {
	if d.LockWait <= 0 {
		d.LockWait = 10 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Manager{
		store:     d.Store,
		scheduler: d.Scheduler,
		locks:     d.Locks,
		presented: d.Presented,
		notifier:  d.Notifier,
		clock:     d.Clock,
		lockWait:  d.LockWait,
		logger:    d.Logger.With("component", "lifecycle"),
	}
}

// HandleIntent applies one validated intent and returns the reply for the user. Validation
// problems are answered in the reply; a returned error means the transition could not be
// made durable.
func (m *Manager) HandleIntent(ctx context.Context, in intent.Intent) (string, error) {
	telemetry.IntentsHandled.WithLabelValues(in.Kind.String()).Inc()

	var (
		reply string
		err   error
	)
	switch in.Kind {
	case intent.KindCreate:
		reply, err = m.create(ctx, in)
	case intent.KindUpdate:
		reply, err = m.update(ctx, in)
	case intent.KindDelete:
		reply, err = m.delete(ctx, in)
	case intent.KindPause:
		reply, err = m.pause(ctx, in)
	case intent.KindResume:
		reply, err = m.resume(ctx, in)
	case intent.KindList:
		reply, err = m.list(ctx)
	case intent.KindOptOutCalls:
		reply, err = m.optOut(ctx)
	case intent.KindOptInCalls:
		reply, err = m.optIn(ctx)
	case intent.KindAcknowledge:
		reply, err = m.acknowledge(ctx)
	case intent.KindUnknown:
		reply = unknownReply(in)
	default:
		return "", fmt.Errorf("unhandled intent kind %d", in.Kind)
	}

	if rej, ok := intent.AsRejection(err); ok {
		telemetry.IntentRejections.WithLabelValues(in.Kind.String()).Inc()
		m.logger.InfoContext(ctx, "intent rejected", "kind", in.Kind.String(), "reason", rej.Message)
		return rej.Message, nil
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "intent failed", "kind", in.Kind.String(), "error", err)
		return "", err
	}
	return reply, nil
}

// Open returns Active and Paused reminders in list order.
func (m *Manager) Open(ctx context.Context) ([]models.Reminder, error) {
	return m.store.ListByStatus(ctx, models.StatusActive, models.StatusPaused)
}

// withReminder runs fn on a freshly loaded reminder while holding its lock. A reminder that
// vanished or completed in the meantime is reported as a rejection.
func (m *Manager) withReminder(ctx context.Context, id string, fn func(ctx context.Context, r models.Reminder) error) error {
	return m.withLock(ctx, reminderLockKey(id), func(ctx context.Context) error {
		r, err := m.store.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return intent.Rejectf("That reminder no longer exists. Say 'list my reminders' to see your reminders.")
			}
			return err
		}
		if !r.IsOpen() {
			return intent.Rejectf("*%s* is already completed.", r.Title)
		}
		return fn(ctx, r)
	})
}

func (m *Manager) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()
	return m.locks.WithLock(lockCtx, key, func(context.Context) error {
		return fn(ctx)
	})
}

func (m *Manager) scheduleNotify(ctx context.Context, r models.Reminder) error {
	return m.schedule(ctx, models.JobPayload{ReminderID: r.ID, Kind: models.JobNotify, DueAt: r.ScheduledAt}, r.ScheduledAt)
}

func (m *Manager) scheduleFollowUp(ctx context.Context, r models.Reminder) error {
	notifiedAt := *r.LastNotifiedAt
	return m.schedule(ctx, models.JobPayload{ReminderID: r.ID, Kind: models.JobFollowUp, DueAt: notifiedAt}, notifiedAt.Add(r.FollowUp))
}

func (m *Manager) schedule(ctx context.Context, p models.JobPayload, fireAt time.Time) error {
	payload, err := p.Encode()
	if err != nil {
		return err
	}
	key := models.JobKey(p.Kind, p.ReminderID)
	if err := m.scheduler.Schedule(ctx, key, fireAt, payload); err != nil {
		return fmt.Errorf("schedule %s: %w", key, err)
	}
	telemetry.JobsScheduled.WithLabelValues(string(p.Kind)).Inc()
	m.logger.DebugContext(ctx, "job scheduled", "job_key", key, "fire_at", fireAt)
	return nil
}

func (m *Manager) cancel(ctx context.Context, id string, kinds ...models.JobKind) error {
	var errs []error
	for _, kind := range kinds {
		if err := m.scheduler.Cancel(ctx, models.JobKey(kind, id)); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s job: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) cancelAll(ctx context.Context, id string) error {
	return m.cancel(ctx, id, models.JobKinds...)
}

// syncFollowUp makes a pending follow-up match the reminder's escalation settings. A
// follow-up whose time has passed is left alone since it may already have called.
func (m *Manager) syncFollowUp(ctx context.Context, r models.Reminder) error {
	awaiting := r.Status == models.StatusActive && r.NotifiedFor(r.ScheduledAt) && !r.UserResponded
	if !awaiting || !r.EscalationEligible() {
		return m.cancel(ctx, r.ID, models.JobFollowUp)
	}
	if r.LastNotifiedAt.Add(r.FollowUp).After(m.now()) {
		return m.scheduleFollowUp(ctx, r)
	}
	return nil
}

// now returns the current time at the precision the stores keep.
func (m *Manager) now() time.Time {
	return m.clock.Now().Truncate(time.Millisecond)
}

func reminderLockKey(id string) string {
	return "reminder:" + id
}
