package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/intent"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/ratelimit"
	"reminder-assistant/internal/scheduler"
	"reminder-assistant/internal/store"
	"reminder-assistant/internal/telemetry"
)

type fakeIntents struct {
	mu      sync.Mutex
	handled []intent.Intent
	err     error
	open    []models.Reminder
}

func (f *fakeIntents) HandleIntent(_ context.Context, in intent.Intent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.handled = append(f.handled, in)
	return "✅ done: " + in.Title, nil
}

func (f *fakeIntents) Open(context.Context) ([]models.Reminder, error) {
	return f.open, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeNotifier) PlaceCall(context.Context, string) error { return nil }

type fakeJobs struct {
	jobs []scheduler.Job
}

func (f fakeJobs) Depth(context.Context) (int64, int64, error) { return int64(len(f.jobs)), 1, nil }

func (f fakeJobs) Jobs(_ context.Context, limit int64) ([]scheduler.Job, error) {
	if int64(len(f.jobs)) > limit {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

type fixture struct {
	srv      *httptest.Server
	intents  *fakeIntents
	notifier *fakeNotifier
	dedup    *store.Memory
}

func newFixture(t *testing.T, limiter *ratelimit.TokenBucket) *fixture {
	t.Helper()
	f := &fixture{intents: &fakeIntents{}, notifier: &fakeNotifier{}, dedup: store.NewMemory()}
	at := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	s := New(Deps{
		Intents:  f.intents,
		Dedup:    f.dedup,
		Jobs:     fakeJobs{jobs: []scheduler.Job{{Key: "notify:a", FireAt: at}, {Key: "notify:b", FireAt: at.Add(time.Hour)}}},
		Notifier: f.notifier,
		Limiter:  limiter,
		Clock:    clock.NewManual(time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, body string, sender string) (*http.Response, intentResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/webhook/intent", strings.NewReader(body))
	require.NoError(t, err)
	if sender != "" {
		req.Header.Set("X-Sender", sender)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out intentResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

const createBody = `{"message_id":"wamid.1","intent":{"intent":"create_reminder","title":"Gym","scheduled_time":"2025-03-05T18:00:00+05:00"}}`

func TestWebhookHandlesIntentOnce(t *testing.T) {
	f := newFixture(t, nil)

	resp, out := f.post(t, createBody, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, out.Duplicate)
	assert.Equal(t, "✅ done: Gym", out.Response)

	resp, out = f.post(t, createBody, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Duplicate)
	assert.Empty(t, out.Response)

	assert.Len(t, f.intents.handled, 1, "a redelivered message must not mutate twice")
	assert.Equal(t, []string{"✅ done: Gym"}, f.notifier.sent, "a redelivered message must not reply twice")
	require.NotNil(t, f.intents.handled[0].ScheduledAt)
}

func TestWebhookRejectionRepliesWithoutHandling(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"message_id":"m1","intent":{"intent":"create_reminder","title":"Gym","scheduled_time":"whenever you like"}}`

	rejected := telemetry.IntentRejections.WithLabelValues("create_reminder")
	before := testutil.ToFloat64(rejected)

	resp, out := f.post(t, body, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out.Response, "couldn't understand the time")
	assert.Empty(t, f.intents.handled)
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(rejected), "rejections are counted under the requested kind")
}

func TestWebhookMalformedIntentReleasesMessageID(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.post(t, `{"message_id":"m2","intent":{"title":"no kind"}}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	first, err := f.dedup.MarkProcessed(context.Background(), "m2", time.Now())
	require.NoError(t, err)
	assert.True(t, first, "a malformed message must not be remembered as processed")

	resp, _ = f.post(t, `{"intent":{"intent":"list_reminders"}}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.post(t, `not json`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookFailureApologizesAndAllowsRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.intents.err = errors.New("schedule notify:x: redis down")

	resp, _ := f.post(t, createBody, "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, []string{apologyText}, f.notifier.sent)

	f.intents.err = nil
	resp, out := f.post(t, createBody, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, out.Duplicate, "a failed message must be retried, not skipped")
	assert.Len(t, f.intents.handled, 1)
}

func TestWebhookRateLimitedPerSender(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewTokenBucket(client, 1, 0.001, time.Minute)
	f := newFixture(t, limiter)

	resp, _ := f.post(t, `{"message_id":"r1","intent":{"intent":"list_reminders"}}`, "alice")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.post(t, `{"message_id":"r2","intent":{"intent":"list_reminders"}}`, "alice")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp, _ = f.post(t, `{"message_id":"r3","intent":{"intent":"list_reminders"}}`, "bob")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListReminders(t *testing.T) {
	f := newFixture(t, nil)
	f.intents.open = []models.Reminder{{ID: "a", Title: "Gym", Status: models.StatusActive}}

	resp, err := http.Get(f.srv.URL + "/reminders")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Reminders []models.Reminder `json:"reminders"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Reminders, 1)
	assert.Equal(t, "Gym", out.Reminders[0].Title)
}

func TestSchedulerStatus(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/scheduler/status?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Scheduled int64     `json:"scheduled"`
		Running   int64     `json:"running"`
		Jobs      []jobView `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, int64(2), out.Scheduled)
	assert.Equal(t, int64(1), out.Running)
	require.Len(t, out.Jobs, 1)
	assert.Equal(t, "notify:a", out.Jobs[0].Key)

	resp2, err := http.Get(f.srv.URL + "/scheduler/status?limit=zero")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
