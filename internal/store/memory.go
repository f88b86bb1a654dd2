package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reminder-assistant/internal/models"
)

// Memory is an in-process store for development and tests. It holds the same contract as
// Postgres but nothing survives a restart.
type Memory struct {
	mu        sync.RWMutex
	reminders map[string]models.Reminder
	processed map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		reminders: make(map[string]models.Reminder),
		processed: make(map[string]time.Time),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) Insert(_ context.Context, r models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[r.ID]; ok {
		return fmt.Errorf("insert reminder: duplicate id %s", r.ID)
	}
	m.reminders[r.ID] = clone(r)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reminders[id]
	if !ok {
		return models.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(r), nil
}

func (m *Memory) Update(_ context.Context, r models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	m.reminders[r.ID] = clone(r)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reminders, id)
	return nil
}

func (m *Memory) DeleteMany(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.reminders, id)
	}
	return nil
}

func (m *Memory) ListByStatus(_ context.Context, statuses ...models.ReminderStatus) ([]models.Reminder, error) {
	want := make(map[models.ReminderStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	return m.filter(func(r models.Reminder) bool { return want[r.Status] }, byScheduled), nil
}

func (m *Memory) FindActiveNear(_ context.Context, from, to time.Time) ([]models.Reminder, error) {
	return m.filter(func(r models.Reminder) bool {
		return r.Status == models.StatusActive && !r.ScheduledAt.Before(from) && !r.ScheduledAt.After(to)
	}, byScheduled), nil
}

func (m *Memory) LatestAwaitingResponse(context.Context) (models.Reminder, bool, error) {
	out := m.filter(func(r models.Reminder) bool {
		return r.Status == models.StatusActive && r.LastNotifiedAt != nil && !r.UserResponded
	}, func(a, b models.Reminder) bool { return a.LastNotifiedAt.After(*b.LastNotifiedAt) })
	if len(out) == 0 {
		return models.Reminder{}, false, nil
	}
	return out[0], true, nil
}

func (m *Memory) CompletedBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Reminder, error) {
	out := m.filter(func(r models.Reminder) bool {
		return r.Status == models.StatusCompleted && r.UpdatedAt.Before(cutoff)
	}, func(a, b models.Reminder) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkProcessed(_ context.Context, messageID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[messageID]; ok {
		return false, nil
	}
	m.processed[messageID] = at
	return true, nil
}

func (m *Memory) ForgetProcessed(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, messageID)
	return nil
}

func (m *Memory) PurgeProcessed(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, at := range m.processed {
		if at.Before(cutoff) {
			delete(m.processed, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) filter(keep func(models.Reminder) bool, less func(a, b models.Reminder) bool) []models.Reminder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Reminder
	for _, r := range m.reminders {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byScheduled(a, b models.Reminder) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func clone(r models.Reminder) models.Reminder {
	if r.LastNotifiedAt != nil {
		t := *r.LastNotifiedAt
		r.LastNotifiedAt = &t
	}
	return r
}
