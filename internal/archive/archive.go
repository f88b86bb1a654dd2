package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/telemetry"
)

// Source is the part of the reminder store the archiver reads and prunes.
type Source interface {
	CompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reminder, error)
	DeleteMany(ctx context.Context, ids []string) error
}

// Archiver exports Completed reminders older than a retention period and removes them
// from the store once the export is written.
type Archiver struct {
	source    Source
	uploader  Uploader
	clock     clock.Clock
	after     time.Duration
	batchSize int
	logger    *slog.Logger
}

func New(source Source, uploader Uploader, c clock.Clock, after time.Duration, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:    source,
		uploader:  uploader,
		clock:     c,
		after:     after,
		batchSize: 500,
		logger:    logger.With("component", "archive"),
	}
}

type document struct {
	ArchivedAt time.Time         `json:"archived_at"`
	Reminders  []models.Reminder `json:"reminders"`
}

// Run archives every eligible reminder in batches and returns how many were removed.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := a.clock.Now().Add(-a.after)
	total := 0
	for {
		batch, err := a.source.CompletedBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("list completed reminders: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		if err := a.export(ctx, batch); err != nil {
			return total, err
		}
		total += len(batch)
		if len(batch) < a.batchSize {
			return total, nil
		}
	}
}

func (a *Archiver) export(ctx context.Context, batch []models.Reminder) error {
	now := a.clock.Now().UTC()
	body, err := json.MarshalIndent(document{ArchivedAt: now, Reminders: batch}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	key := fmt.Sprintf("reminders/%s/%s-%s.json", now.Format("2006/01/02"), now.Format("150405.000"), batch[0].ID)
	location, err := a.uploader.Upload(ctx, key, body, "application/json")
	if err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	if err := a.source.DeleteMany(ctx, ids); err != nil {
		return fmt.Errorf("delete archived reminders: %w", err)
	}
	telemetry.RemindersArchived.Add(float64(len(batch)))
	a.logger.InfoContext(ctx, "reminders archived", "count", len(batch), "location", location)
	return nil
}
