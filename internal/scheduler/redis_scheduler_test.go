package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recorder) handle(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Key)
	}
	return out
}

func newTestScheduler(t *testing.T) (*RedisScheduler, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(client, Options{CallbackTimeout: time.Second, Lease: time.Minute, BatchSize: 10}, logger)
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestScheduleFiresOnceWhenDue(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)
	rec := &recorder{}

	require.NoError(t, s.Schedule(ctx, "notify:a", now.Add(time.Minute), []byte(`{"x":1}`)))

	n, err := s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Zero(t, n, "job must not fire early")

	*now = now.Add(time.Minute)
	n, err = s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.Wait()

	require.Len(t, rec.jobs, 1)
	assert.Equal(t, "notify:a", rec.jobs[0].Key)
	assert.Equal(t, `{"x":1}`, string(rec.jobs[0].Payload))

	pending, err := s.Pending(ctx, "notify:a")
	require.NoError(t, err)
	assert.False(t, pending, "fired job must be removed")

	n, err = s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduleSameKeyReplaces(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)
	rec := &recorder{}

	require.NoError(t, s.Schedule(ctx, "notify:a", now.Add(time.Minute), []byte("first")))
	require.NoError(t, s.Schedule(ctx, "notify:a", now.Add(time.Hour), []byte("second")))

	jobs, err := s.Jobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].FireAt.Equal(now.Add(time.Hour)))

	*now = now.Add(2 * time.Hour)
	_, err = s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	s.Wait()
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, "second", string(rec.jobs[0].Payload))
}

func TestCancelMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)

	require.NoError(t, s.Cancel(ctx, "notify:missing"))

	require.NoError(t, s.Schedule(ctx, "follow_up:b", now.Add(time.Second), nil))
	require.NoError(t, s.Cancel(ctx, "follow_up:b"))

	*now = now.Add(time.Minute)
	rec := &recorder{}
	n, err := s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOverdueJobsFireImmediately(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)
	rec := &recorder{}

	require.NoError(t, s.Schedule(ctx, "notify:late", now.Add(-time.Hour), nil))
	require.NoError(t, s.Schedule(ctx, "notify:later", now.Add(-time.Minute), nil))

	n, err := s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	s.Wait()
	assert.ElementsMatch(t, []string{"notify:late", "notify:later"}, rec.keys())
}

func TestFailingCallbackIsNotRefired(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)

	calls := 0
	failing := func(context.Context, Job) error {
		calls++
		return errors.New("delivery failed")
	}
	require.NoError(t, s.Schedule(ctx, "notify:f", *now, nil))

	_, err := s.Poll(ctx, failing)
	require.NoError(t, err)
	s.Wait()

	*now = now.Add(time.Hour)
	_, err = s.Poll(ctx, failing)
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, 1, calls)
}

func TestPanickingCallbackIsRecovered(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)

	require.NoError(t, s.Schedule(ctx, "notify:p", *now, nil))
	_, err := s.Poll(ctx, func(context.Context, Job) error { panic("boom") })
	require.NoError(t, err)
	s.Wait()

	pending, err := s.Pending(ctx, "notify:p")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)

	require.NoError(t, s.Schedule(ctx, "notify:crash", *now, []byte("p")))
	// Claim without acking, as a worker that died mid-callback would.
	jobs, err := s.claimDue(ctx, *now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	pending, err := s.Pending(ctx, "notify:crash")
	require.NoError(t, err)
	assert.True(t, pending, "leased job counts as pending")

	rec := &recorder{}
	*now = now.Add(30 * time.Second)
	n, err := s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Zero(t, n, "lease still valid")

	*now = now.Add(time.Minute)
	n, err = s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.Wait()
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, "p", string(rec.jobs[0].Payload))
}

func TestRescheduleDuringCallbackKeepsNewJob(t *testing.T) {
	ctx := context.Background()
	s, now := newTestScheduler(t)

	require.NoError(t, s.Schedule(ctx, "notify:r", *now, []byte("old")))
	next := now.Add(time.Hour)
	_, err := s.Poll(ctx, func(ctx context.Context, job Job) error {
		return s.Schedule(ctx, job.Key, next, []byte("new"))
	})
	require.NoError(t, err)
	s.Wait()

	fireAt, ok, err := s.FireTime(ctx, "notify:r")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, fireAt.Equal(next))

	rec := &recorder{}
	*now = next
	_, err = s.Poll(ctx, rec.handle)
	require.NoError(t, err)
	s.Wait()
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, "new", string(rec.jobs[0].Payload))
}

func TestRunStopsOnCancel(t *testing.T) {
	s, now := newTestScheduler(t)
	s.opts.PollInterval = 10 * time.Millisecond
	rec := &recorder{}
	require.NoError(t, s.Schedule(context.Background(), "notify:run", *now, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, rec.handle) }()

	require.Eventually(t, func() bool { return len(rec.keys()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
