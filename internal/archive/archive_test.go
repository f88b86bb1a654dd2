package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/store"
)

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func seed(t *testing.T, st *store.Memory, id string, status models.ReminderStatus, updated time.Time) {
	t.Helper()
	require.NoError(t, st.Insert(context.Background(), models.Reminder{
		ID:          id,
		Title:       "reminder " + id,
		ScheduledAt: updated.Add(-time.Hour),
		Status:      status,
		CreatedAt:   updated.Add(-2 * time.Hour),
		UpdatedAt:   updated,
	}))
}

func TestArchiveExportsAndDeletesOldCompleted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	st := store.NewMemory()
	seed(t, st, "old", models.StatusCompleted, now.Add(-40*24*time.Hour))
	seed(t, st, "recent", models.StatusCompleted, now.Add(-time.Hour))
	seed(t, st, "active", models.StatusActive, now.Add(-40*24*time.Hour))

	dir := t.TempDir()
	a := New(st, NewLocalUploader(dir), clock.NewManual(now), 30*24*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.Get(ctx, "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, "recent")
	assert.NoError(t, err)
	_, err = st.Get(ctx, "active")
	assert.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "reminders", "2025", "03", "05", "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var doc document
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Reminders, 1)
	assert.Equal(t, "old", doc.Reminders[0].ID)

	n, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveRunsInBatches(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	st := store.NewMemory()
	for i := 0; i < 5; i++ {
		seed(t, st, string(rune('a'+i)), models.StatusCompleted, now.Add(-time.Duration(48+i)*time.Hour))
	}
	a := New(st, NewLocalUploader(t.TempDir()), clock.NewManual(now), 24*time.Hour, nil)
	a.batchSize = 2

	n, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	left, err := st.CompletedBefore(ctx, now, 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestArchiveKeepsRemindersWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	st := store.NewMemory()
	seed(t, st, "old", models.StatusCompleted, now.Add(-48*time.Hour))

	a := New(st, failingUploader{}, clock.NewManual(now), 24*time.Hour, nil)
	_, err := a.Run(ctx)
	require.Error(t, err)

	_, err = st.Get(ctx, "old")
	assert.NoError(t, err, "nothing is deleted before the export is written")
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "reminders/a.json", sanitizeKey("/reminders/a.json"))
	assert.Equal(t, "etc/passwd", sanitizeKey("../../etc/passwd"))
}
