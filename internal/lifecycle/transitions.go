package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"reminder-assistant/internal/intent"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/store"
)

func (m *Manager) create(ctx context.Context, in intent.Intent) (string, error) {
	if in.Title == "" {
		return "", intent.Rejectf("I need a title for your reminder. What would you like to be reminded about?")
	}
	if err := validateText(in.Title, in.Description); err != nil {
		return "", err
	}
	if in.ScheduledAt == nil {
		return "", intent.Rejectf("When would you like to be reminded? Please include a time, like 'tomorrow at 9am'.")
	}
	now := m.now()
	at := in.ScheduledAt.Truncate(time.Second)
	if at.Before(now.Add(-pastTolerance)) {
		return "", intent.Rejectf("That time has already passed (%s). When would you like to be reminded?", m.format(at))
	}

	var reply string
	err := m.withLock(ctx, createLockKey, func(ctx context.Context) error {
		near, err := m.store.FindActiveNear(ctx, at.Add(-DuplicateWindow), at.Add(DuplicateWindow))
		if err != nil {
			return err
		}
		for _, existing := range near {
			if models.SameTitle(existing.Title, in.Title) {
				reply = m.duplicateReply(existing)
				return nil
			}
		}

		callIfNoResponse := in.CallIfNoResponse != nil && *in.CallIfNoResponse
		r := models.Reminder{
			ID:               uuid.NewString(),
			Title:            in.Title,
			Description:      in.Description,
			ScheduledAt:      at,
			CallIfNoResponse: callIfNoResponse,
			CallOptOut:       !callIfNoResponse,
			Status:           models.StatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if in.FollowUp != nil {
			r.FollowUp = *in.FollowUp
		}
		if err := m.store.Insert(ctx, r); err != nil {
			return err
		}
		if err := m.scheduleNotify(ctx, r); err != nil {
			if delErr := m.store.Delete(context.WithoutCancel(ctx), r.ID); delErr != nil {
				m.logger.ErrorContext(ctx, "rollback of unscheduled reminder failed", "reminder_id", r.ID, "error", delErr)
			}
			return fmt.Errorf("create reminder: %w", err)
		}
		m.logger.InfoContext(ctx, "reminder created", "reminder_id", r.ID, "scheduled_at", r.ScheduledAt)
		reply = m.createdReply(r)
		return nil
	})
	return reply, err
}

func (m *Manager) update(ctx context.Context, in intent.Intent) (string, error) {
	targets, err := m.resolve(ctx, in, "update")
	if err != nil {
		return "", err
	}
	if len(targets) > 1 {
		return "", intent.Rejectf("Please update one reminder at a time.")
	}
	if err := validateText(in.Title, in.Description); err != nil {
		return "", err
	}
	now := m.now()
	if in.ScheduledAt != nil && in.ScheduledAt.Before(now.Add(-pastTolerance)) {
		return "", intent.Rejectf("That time has already passed (%s). Please choose a future time.", m.format(*in.ScheduledAt))
	}

	var reply string
	err = m.withReminder(ctx, targets[0].ID, func(ctx context.Context, r models.Reminder) error {
		var changed []string
		timeChanged := false
		if in.Title != "" && in.Title != r.Title {
			r.Title = in.Title
			changed = append(changed, "title")
		}
		if in.Description != "" && in.Description != r.Description {
			r.Description = in.Description
			changed = append(changed, "description")
		}
		if in.ScheduledAt != nil {
			if at := in.ScheduledAt.Truncate(time.Second); !at.Equal(r.ScheduledAt) {
				r.ScheduledAt = at
				r.LastNotifiedAt = nil
				r.UserResponded = false
				timeChanged = true
				changed = append(changed, "time")
			}
		}
		if in.FollowUp != nil && *in.FollowUp != r.FollowUp {
			r.FollowUp = *in.FollowUp
			changed = append(changed, "follow-up time")
		}
		if in.CallIfNoResponse != nil && (*in.CallIfNoResponse != r.CallIfNoResponse || r.CallOptOut == *in.CallIfNoResponse) {
			r.CallIfNoResponse = *in.CallIfNoResponse
			r.CallOptOut = !*in.CallIfNoResponse
			changed = append(changed, "call settings")
		}
		if len(changed) == 0 {
			reply = fmt.Sprintf("No changes were made to *%s*.", r.Title)
			return nil
		}

		if timeChanged {
			if err := m.cancelAll(ctx, r.ID); err != nil {
				return err
			}
		}
		r.UpdatedAt = now
		if err := m.store.Update(ctx, r); err != nil {
			return err
		}
		if timeChanged && r.Status == models.StatusActive {
			if err := m.scheduleNotify(ctx, r); err != nil {
				return err
			}
		} else if err := m.syncFollowUp(ctx, r); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "reminder updated", "reminder_id", r.ID, "changed", changed)
		reply = fmt.Sprintf("✅ Updated *%s*\n\nChanged: %s", r.Title, strings.Join(changed, ", "))
		return nil
	})
	return reply, err
}

func (m *Manager) delete(ctx context.Context, in intent.Intent) (string, error) {
	targets, err := m.resolve(ctx, in, "delete")
	if err != nil {
		return "", err
	}
	var deleted []string
	for _, t := range targets {
		err := m.withReminder(ctx, t.ID, func(ctx context.Context, r models.Reminder) error {
			if err := m.cancelAll(ctx, r.ID); err != nil {
				return err
			}
			if err := m.store.Delete(ctx, r.ID); err != nil {
				return err
			}
			m.logger.InfoContext(ctx, "reminder deleted", "reminder_id", r.ID)
			deleted = append(deleted, r.Title)
			return nil
		})
		if err != nil {
			return "", err
		}
	}
	if len(deleted) == 1 {
		return fmt.Sprintf("🗑️ Deleted reminder: *%s*", deleted[0]), nil
	}
	return batchReply("🗑️ Deleted", deleted), nil
}

func (m *Manager) pause(ctx context.Context, in intent.Intent) (string, error) {
	targets, err := m.resolve(ctx, in, "pause")
	if err != nil {
		return "", err
	}
	var paused, notes []string
	for _, t := range targets {
		err := m.withReminder(ctx, t.ID, func(ctx context.Context, r models.Reminder) error {
			if r.Status == models.StatusPaused {
				notes = append(notes, fmt.Sprintf("*%s* is already paused.", r.Title))
				return nil
			}
			if err := m.cancelAll(ctx, r.ID); err != nil {
				return err
			}
			r.Status = models.StatusPaused
			r.UpdatedAt = m.now()
			if err := m.store.Update(ctx, r); err != nil {
				return err
			}
			m.logger.InfoContext(ctx, "reminder paused", "reminder_id", r.ID)
			paused = append(paused, r.Title)
			return nil
		})
		if err != nil {
			return "", err
		}
	}
	switch {
	case len(paused) == 0:
		return strings.Join(notes, "\n"), nil
	case len(paused) == 1 && len(notes) == 0:
		return fmt.Sprintf("⏸️ Paused: *%s*\n\nSay 'resume %s reminder' to reactivate it.", paused[0], paused[0]), nil
	}
	return joinNotes(batchReply("⏸️ Paused", paused), notes), nil
}

func (m *Manager) resume(ctx context.Context, in intent.Intent) (string, error) {
	targets, err := m.resolve(ctx, in, "resume")
	if err != nil {
		return "", err
	}
	var resumed []models.Reminder
	var notes []string
	for _, t := range targets {
		err := m.withReminder(ctx, t.ID, func(ctx context.Context, r models.Reminder) error {
			if r.Status == models.StatusActive {
				notes = append(notes, fmt.Sprintf("*%s* is already active.", r.Title))
				return nil
			}
			if r.ScheduledAt.Before(m.now()) {
				notes = append(notes, fmt.Sprintf("*%s* was scheduled for the past. Please update the time first.", r.Title))
				return nil
			}
			r.Status = models.StatusActive
			r.UpdatedAt = m.now()
			if err := m.store.Update(ctx, r); err != nil {
				return err
			}
			if err := m.scheduleNotify(ctx, r); err != nil {
				r.Status = models.StatusPaused
				if revertErr := m.store.Update(context.WithoutCancel(ctx), r); revertErr != nil {
					m.logger.ErrorContext(ctx, "revert of unscheduled resume failed", "reminder_id", r.ID, "error", revertErr)
				}
				return fmt.Errorf("resume reminder: %w", err)
			}
			m.logger.InfoContext(ctx, "reminder resumed", "reminder_id", r.ID)
			resumed = append(resumed, r)
			return nil
		})
		if err != nil {
			return "", err
		}
	}
	switch {
	case len(resumed) == 0:
		return strings.Join(notes, "\n"), nil
	case len(resumed) == 1 && len(notes) == 0:
		return fmt.Sprintf("▶️ Resumed: *%s*\n\nScheduled for %s", resumed[0].Title, m.format(resumed[0].ScheduledAt)), nil
	}
	titles := make([]string, len(resumed))
	for i, r := range resumed {
		titles[i] = r.Title
	}
	return joinNotes(batchReply("▶️ Resumed", titles), notes), nil
}

func (m *Manager) list(ctx context.Context) (string, error) {
	open, err := m.Open(ctx)
	if err != nil {
		return "", err
	}
	ids := make([]string, len(open))
	for i, r := range open {
		ids[i] = r.ID
	}
	if err := m.presented.Save(ctx, ids); err != nil {
		m.logger.WarnContext(ctx, "could not save presented list", "error", err)
	}
	return m.listReply(open), nil
}

func (m *Manager) optOut(ctx context.Context) (string, error) {
	err := m.forEachActive(ctx, func(ctx context.Context, r models.Reminder) error {
		if r.CallOptOut && !r.CallIfNoResponse {
			return nil
		}
		r.CallOptOut = true
		r.CallIfNoResponse = false
		r.UpdatedAt = m.now()
		if err := m.store.Update(ctx, r); err != nil {
			return err
		}
		return m.cancel(ctx, r.ID, models.JobFollowUp)
	})
	if err != nil {
		return "", err
	}
	return "🔕 *Phone calls disabled*\n\nI won't call you for any reminders. You'll only receive chat messages.", nil
}

func (m *Manager) optIn(ctx context.Context) (string, error) {
	err := m.forEachActive(ctx, func(ctx context.Context, r models.Reminder) error {
		if !r.CallOptOut {
			return nil
		}
		r.CallOptOut = false
		r.UpdatedAt = m.now()
		if err := m.store.Update(ctx, r); err != nil {
			return err
		}
		return m.syncFollowUp(ctx, r)
	})
	if err != nil {
		return "", err
	}
	return "🔔 *Phone calls enabled*\n\nI can now call you for reminders that have call notifications enabled.", nil
}

// forEachActive applies fn to every Active reminder, each under its own lock.
func (m *Manager) forEachActive(ctx context.Context, fn func(ctx context.Context, r models.Reminder) error) error {
	active, err := m.store.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return err
	}
	for _, a := range active {
		err := m.withReminder(ctx, a.ID, func(ctx context.Context, r models.Reminder) error {
			if r.Status != models.StatusActive {
				return nil
			}
			return fn(ctx, r)
		})
		if _, rejected := intent.AsRejection(err); rejected {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) acknowledge(ctx context.Context) (string, error) {
	latest, ok, err := m.store.LatestAwaitingResponse(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "👍 Thanks for your response!", nil
	}
	reply := "👍 Thanks for your response!"
	err = m.withReminder(ctx, latest.ID, func(ctx context.Context, r models.Reminder) error {
		if r.Status != models.StatusActive || r.UserResponded || r.LastNotifiedAt == nil {
			return nil
		}
		if err := m.cancelAll(ctx, r.ID); err != nil {
			return err
		}
		r.Status = models.StatusCompleted
		r.UserResponded = true
		r.UpdatedAt = m.now()
		if err := m.store.Update(ctx, r); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "reminder acknowledged", "reminder_id", r.ID)
		reply = fmt.Sprintf("👍 Got it! Marked *%s* as completed.", r.Title)
		return nil
	})
	if _, rejected := intent.AsRejection(err); rejected {
		return reply, nil
	}
	return reply, err
}

// resolve finds the reminders an intent refers to.
func (m *Manager) resolve(ctx context.Context, in intent.Intent, verb string) ([]models.Reminder, error) {
	if in.Target.Empty() {
		return nil, intent.Rejectf("Which reminder would you like to %s? Please mention its name.", verb)
	}
	open, err := m.Open(ctx)
	if err != nil {
		return nil, err
	}
	var presented []string
	if len(in.Target.Positions) > 0 {
		if presented, err = m.presented.Load(ctx); err != nil {
			m.logger.WarnContext(ctx, "could not load presented list, using current order", "error", err)
			presented = nil
		}
	}
	return intent.Resolve(in.Target, presented, open)
}

func validateText(title, description string) error {
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return intent.Rejectf("That title is too long. Please keep it under %d characters.", models.MaxTitleLength)
	}
	if utf8.RuneCountInString(description) > models.MaxDescriptionLength {
		return intent.Rejectf("That description is too long. Please keep it under %d characters.", models.MaxDescriptionLength)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
