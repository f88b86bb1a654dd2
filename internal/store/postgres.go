package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"reminder-assistant/internal/models"
)

// ErrNotFound is returned when a reminder id has no row.
var ErrNotFound = errors.New("reminder not found")

// Postgres wraps pgxpool for reminder and processed-message persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health endpoints.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const reminderColumns = `id, title, description, scheduled_at, follow_up_minutes, call_if_no_response,
	call_opt_out, status, created_at, updated_at, last_notified_at, user_responded`

// Insert stores a new reminder.
func (s *Postgres) Insert(ctx context.Context, r models.Reminder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.Title, r.Description, r.ScheduledAt.UTC(), followUpMinutes(r.FollowUp), r.CallIfNoResponse,
		r.CallOptOut, string(r.Status), r.CreatedAt.UTC(), r.UpdatedAt.UTC(), utcPtr(r.LastNotifiedAt), r.UserResponded)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// Get fetches a reminder by id.
func (s *Postgres) Get(ctx context.Context, id string) (models.Reminder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Reminder{}, fmt.Errorf("scan reminder: %w", err)
	}
	return r, nil
}

// Update overwrites every mutable column of an existing reminder.
func (s *Postgres) Update(ctx context.Context, r models.Reminder) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminders
		SET title = $2, description = $3, scheduled_at = $4, follow_up_minutes = $5,
			call_if_no_response = $6, call_opt_out = $7, status = $8, updated_at = $9,
			last_notified_at = $10, user_responded = $11
		WHERE id = $1
	`, r.ID, r.Title, r.Description, r.ScheduledAt.UTC(), followUpMinutes(r.FollowUp), r.CallIfNoResponse,
		r.CallOptOut, string(r.Status), r.UpdatedAt.UTC(), utcPtr(r.LastNotifiedAt), r.UserResponded)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return nil
}

// Delete hard-deletes a reminder. Deleting a missing id is not an error.
func (s *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

// DeleteMany removes all given ids in one transaction.
func (s *Postgres) DeleteMany(ctx context.Context, ids []string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `DELETE FROM reminders WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete reminders: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListByStatus returns reminders in any of the given states, ascending by scheduled time.
func (s *Postgres) ListByStatus(ctx context.Context, statuses ...models.ReminderStatus) ([]models.Reminder, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return s.query(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = ANY($1)
		ORDER BY scheduled_at ASC, created_at ASC
	`, names)
}

// FindActiveNear returns Active reminders scheduled within [from, to], for the duplicate guard.
func (s *Postgres) FindActiveNear(ctx context.Context, from, to time.Time) ([]models.Reminder, error) {
	return s.query(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = $1 AND scheduled_at BETWEEN $2 AND $3
		ORDER BY scheduled_at ASC
	`, string(models.StatusActive), from.UTC(), to.UTC())
}

// LatestAwaitingResponse returns the most recently notified Active reminder the user has not answered.
func (s *Postgres) LatestAwaitingResponse(ctx context.Context) (models.Reminder, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = $1 AND last_notified_at IS NOT NULL AND NOT user_responded
		ORDER BY last_notified_at DESC
		LIMIT 1
	`, string(models.StatusActive))
	r, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reminder{}, false, nil
	}
	if err != nil {
		return models.Reminder{}, false, fmt.Errorf("scan reminder: %w", err)
	}
	return r, true, nil
}

// CompletedBefore returns Completed reminders last updated before cutoff.
func (s *Postgres) CompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reminder, error) {
	return s.query(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, string(models.StatusCompleted), cutoff.UTC(), limit)
}

// MarkProcessed records a message id. It reports false when the id was already recorded.
func (s *Postgres) MarkProcessed(ctx context.Context, messageID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_messages (message_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("insert processed message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetProcessed removes a message id so a failed delivery can be retried upstream.
func (s *Postgres) ForgetProcessed(ctx context.Context, messageID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM processed_messages WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("delete processed message: %w", err)
	}
	return nil
}

// PurgeProcessed drops message ids recorded before cutoff.
func (s *Postgres) PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_messages WHERE processed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge processed messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) query(ctx context.Context, sql string, args ...any) ([]models.Reminder, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var out []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return out, nil
}

func scanReminder(row pgx.Row) (models.Reminder, error) {
	var (
		r            models.Reminder
		status       string
		followUp     pgtype.Int4
		lastNotified pgtype.Timestamptz
	)
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &r.ScheduledAt, &followUp, &r.CallIfNoResponse,
		&r.CallOptOut, &status, &r.CreatedAt, &r.UpdatedAt, &lastNotified, &r.UserResponded); err != nil {
		return models.Reminder{}, err
	}
	r.Status = models.ReminderStatus(status)
	if followUp.Valid {
		r.FollowUp = time.Duration(followUp.Int32) * time.Minute
	}
	if lastNotified.Valid {
		t := lastNotified.Time
		r.LastNotifiedAt = &t
	}
	return r, nil
}

func followUpMinutes(d time.Duration) *int32 {
	if d <= 0 {
		return nil
	}
	m := int32(d / time.Minute)
	return &m
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
