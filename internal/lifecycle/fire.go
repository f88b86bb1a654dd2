package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"reminder-assistant/internal/models"
	"reminder-assistant/internal/telemetry"
)

// FireNotify is the notify job callback. The attempt is recorded and the follow-up armed
// under the reminder lock; delivery happens after the lock is released so a slow channel
// cannot hold it past its TTL.
func (m *Manager) FireNotify(ctx context.Context, p models.JobPayload) error {
	telemetry.JobsFired.WithLabelValues(string(models.JobNotify)).Inc()
	var (
		text   string
		send   bool
		armErr error
	)
	err := m.withLock(ctx, reminderLockKey(p.ReminderID), func(ctx context.Context) error {
		r, err := m.store.Get(ctx, p.ReminderID)
		if isNotFound(err) {
			m.logger.InfoContext(ctx, "notify for missing reminder skipped", "reminder_id", p.ReminderID)
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status != models.StatusActive || !r.ScheduledAt.Equal(p.DueAt) || r.NotifiedFor(r.ScheduledAt) {
			m.logger.InfoContext(ctx, "stale notify skipped", "reminder_id", r.ID, "status", r.Status)
			return nil
		}

		now := m.now()
		r.LastNotifiedAt = &now
		r.UserResponded = false
		r.UpdatedAt = now
		if err := m.store.Update(ctx, r); err != nil {
			return err
		}
		if r.EscalationEligible() {
			armErr = m.scheduleFollowUp(ctx, r)
		}
		text, send = notificationText(r), true
		return nil
	})
	if err != nil || !send {
		return err
	}

	if err := m.notifier.Notify(ctx, text); err != nil {
		telemetry.DeliveryFailures.WithLabelValues("chat").Inc()
		m.logger.ErrorContext(ctx, "notification delivery failed", "reminder_id", p.ReminderID, "error", err)
		return errors.Join(armErr, fmt.Errorf("notify %s: %w", p.ReminderID, err))
	}
	m.logger.InfoContext(ctx, "reminder notified", "reminder_id", p.ReminderID)
	return armErr
}

// FireFollowUp is the follow-up job callback. It places one escalation call when the
// notification that armed it is still unanswered.
func (m *Manager) FireFollowUp(ctx context.Context, p models.JobPayload) error {
	telemetry.JobsFired.WithLabelValues(string(models.JobFollowUp)).Inc()
	var (
		title string
		call  bool
	)
	err := m.withLock(ctx, reminderLockKey(p.ReminderID), func(ctx context.Context) error {
		r, err := m.store.Get(ctx, p.ReminderID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status != models.StatusActive || r.UserResponded || r.LastNotifiedAt == nil ||
			!r.LastNotifiedAt.Equal(p.DueAt) || !r.EscalationEligible() {
			m.logger.InfoContext(ctx, "follow-up not needed", "reminder_id", r.ID, "responded", r.UserResponded)
			return nil
		}
		title, call = r.Title, true
		return nil
	})
	if err != nil || !call {
		return err
	}

	m.logger.InfoContext(ctx, "no response, placing escalation call", "reminder_id", p.ReminderID)
	telemetry.Escalations.Inc()
	if err := m.notifier.PlaceCall(ctx, title); err != nil {
		telemetry.DeliveryFailures.WithLabelValues("call").Inc()
		return fmt.Errorf("escalation call %s: %w", p.ReminderID, err)
	}
	return nil
}

// Reconcile re-creates jobs that Active reminders should have but the scheduler lost, and
// clears any left on Paused reminders. An overdue notify is scheduled in the past so it
// fires on the next poll. It returns how many jobs were re-created.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	reminders, err := m.store.ListByStatus(ctx, models.StatusActive, models.StatusPaused)
	if err != nil {
		return 0, err
	}
	var (
		created int
		errs    []error
	)
	for _, listed := range reminders {
		err := m.withLock(ctx, reminderLockKey(listed.ID), func(ctx context.Context) error {
			r, err := m.store.Get(ctx, listed.ID)
			if isNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if r.Status != models.StatusActive {
				return m.cancelAll(ctx, r.ID)
			}
			n, err := m.reconcileActive(ctx, r)
			created += n
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", listed.ID, err))
		}
	}
	if created > 0 {
		telemetry.JobsReconciled.Add(float64(created))
		m.logger.InfoContext(ctx, "reconciled missing jobs", "count", created)
	}
	return created, errors.Join(errs...)
}

func (m *Manager) reconcileActive(ctx context.Context, r models.Reminder) (int, error) {
	if !r.NotifiedFor(r.ScheduledAt) {
		pending, err := m.scheduler.Pending(ctx, models.JobKey(models.JobNotify, r.ID))
		if err != nil || pending {
			return 0, err
		}
		return 1, m.scheduleNotify(ctx, r)
	}
	// An elapsed follow-up may already have called; only future ones are rebuilt.
	if r.UserResponded || !r.EscalationEligible() || !r.LastNotifiedAt.Add(r.FollowUp).After(m.now()) {
		return 0, nil
	}
	pending, err := m.scheduler.Pending(ctx, models.JobKey(models.JobFollowUp, r.ID))
	if err != nil || pending {
		return 0, err
	}
	return 1, m.scheduleFollowUp(ctx, r)
}

// VerifyNoJobs reports an error if a Paused, Completed, or deleted reminder still owns a job.
func (m *Manager) VerifyNoJobs(ctx context.Context, id string) error {
	for _, kind := range models.JobKinds {
		pending, err := m.scheduler.Pending(ctx, models.JobKey(kind, id))
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("reminder %s still has a %s job", id, kind)
		}
	}
	return nil
}
