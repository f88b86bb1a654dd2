package store

import (
	"context"
	"fmt"
	"time"

	"reminder-assistant/internal/models"
)

// Store is the full persistence contract shared by the Postgres and in-memory backends.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	Insert(ctx context.Context, r models.Reminder) error
	Get(ctx context.Context, id string) (models.Reminder, error)
	Update(ctx context.Context, r models.Reminder) error
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	ListByStatus(ctx context.Context, statuses ...models.ReminderStatus) ([]models.Reminder, error)
	FindActiveNear(ctx context.Context, from, to time.Time) ([]models.Reminder, error)
	LatestAwaitingResponse(ctx context.Context) (models.Reminder, bool, error)
	CompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reminder, error)

	MarkProcessed(ctx context.Context, messageID string, at time.Time) (bool, error)
	ForgetProcessed(ctx context.Context, messageID string) error
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)

// Open connects the store selected by driver. Postgres is migrated before it is returned.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "postgres":
		pg, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
