package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"reminder-assistant/internal/config"
	"reminder-assistant/internal/telemetry"
)

// Job is a single-fire timer as stored in Redis.
type Job struct {
	Key     string    `json:"key"`
	FireAt  time.Time `json:"fire_at"`
	Payload []byte    `json:"-"`
}

// Handler receives a fired job. Its error is logged; the job is never re-fired because of it.
type Handler func(ctx context.Context, job Job) error

// Options tunes the poll loop.
type Options struct {
	PollInterval    time.Duration
	BatchSize       int
	Lease           time.Duration
	CallbackTimeout time.Duration
	MaxInflight     int
	KeyPrefix       string
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.CallbackTimeout <= 0 {
		o.CallbackTimeout = 30 * time.Second
	}
	if o.Lease <= o.CallbackTimeout {
		o.Lease = 2 * o.CallbackTimeout
	}
	if o.MaxInflight <= 0 {
		o.MaxInflight = 8
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = "jobs"
	}
	return o
}

// RedisScheduler keeps scheduled, leased, and payload state for jobs in Redis.
// Scheduled jobs live in a sorted set scored by fire time; claimed jobs move to a lease
// set until their callback returns, so a crash mid-callback re-fires the job.
type RedisScheduler struct {
	client       *redis.Client
	opts         Options
	scheduledKey string
	leaseKey     string
	payloadKey   string
	logger       *slog.Logger
	now          func() time.Time

	wg  sync.WaitGroup
	sem chan struct{}
}

// New builds a scheduler over an existing client.
func New(client *redis.Client, opts Options, logger *slog.Logger) *RedisScheduler {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisScheduler{
		client:       client,
		opts:         opts,
		scheduledKey: opts.KeyPrefix + ":scheduled",
		leaseKey:     opts.KeyPrefix + ":leased",
		payloadKey:   opts.KeyPrefix + ":payload",
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
		sem:          make(chan struct{}, opts.MaxInflight),
	}
}

// OptionsFromConfig maps the scheduler settings in cfg onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		PollInterval:    cfg.SchedulerPollInterval,
		BatchSize:       cfg.SchedulerBatchSize,
		Lease:           cfg.SchedulerLease,
		CallbackTimeout: cfg.CallbackTimeout,
		MaxInflight:     cfg.MaxInflightCallbacks,
	}
}

// SetClock overrides the time source used to decide which jobs are due.
func (s *RedisScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Schedule records a single-fire job, replacing any pending job with the same key.
func (s *RedisScheduler) Schedule(ctx context.Context, key string, fireAt time.Time, payload []byte) error {
	if key == "" {
		return errors.New("schedule: empty key")
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.payloadKey, key, payload)
	pipe.ZAdd(ctx, s.scheduledKey, redis.Z{Score: float64(fireAt.UnixMilli()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule %s: %w", key, err)
	}
	return nil
}

// Cancel removes a job whether it is scheduled or leased. Unknown keys are a no-op.
func (s *RedisScheduler) Cancel(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.scheduledKey, key)
	pipe.ZRem(ctx, s.leaseKey, key)
	pipe.HDel(ctx, s.payloadKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}
	return nil
}

// Pending reports whether a job with the key is scheduled or currently leased.
func (s *RedisScheduler) Pending(ctx context.Context, key string) (bool, error) {
	pipe := s.client.Pipeline()
	scheduled := pipe.ZScore(ctx, s.scheduledKey, key)
	leased := pipe.ZScore(ctx, s.leaseKey, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("pending %s: %w", key, err)
	}
	return scheduled.Err() == nil || leased.Err() == nil, nil
}

// FireTime returns when a scheduled job is due.
func (s *RedisScheduler) FireTime(ctx context.Context, key string) (time.Time, bool, error) {
	score, err := s.client.ZScore(ctx, s.scheduledKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("fire time %s: %w", key, err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

// Jobs lists up to limit scheduled jobs in fire order. Payloads are not loaded.
func (s *RedisScheduler) Jobs(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	zs, err := s.client.ZRangeWithScores(ctx, s.scheduledKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	jobs := make([]Job, 0, len(zs))
	for _, z := range zs {
		key, _ := z.Member.(string)
		jobs = append(jobs, Job{Key: key, FireAt: time.UnixMilli(int64(z.Score))})
	}
	return jobs, nil
}

// Depth returns the number of scheduled and leased jobs.
func (s *RedisScheduler) Depth(ctx context.Context) (scheduled, leased int64, err error) {
	pipe := s.client.Pipeline()
	sc := pipe.ZCard(ctx, s.scheduledKey)
	lc := pipe.ZCard(ctx, s.leaseKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return sc.Val(), lc.Val(), nil
}

// Run polls for due jobs until ctx is cancelled, then waits for running callbacks.
func (s *RedisScheduler) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.logger.Info("scheduler started", "poll_interval", s.opts.PollInterval, "lease", s.opts.Lease)
	for {
		if _, err := s.Poll(ctx, handler); err != nil && ctx.Err() == nil {
			s.logger.Error("poll failed", "error", err)
		}
		if scheduled, leased, err := s.Depth(ctx); err == nil {
			telemetry.PendingJobsGauge.Set(float64(scheduled))
			telemetry.InFlightJobsGauge.Set(float64(leased))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll reclaims expired leases, claims due jobs and dispatches them. It returns the number
// of jobs dispatched; callbacks may still be running when it returns (see Wait).
func (s *RedisScheduler) Poll(ctx context.Context, handler Handler) (int, error) {
	now := s.now()
	if reclaimed, err := s.requeueExpired(ctx, now); err != nil {
		return 0, err
	} else if len(reclaimed) > 0 {
		s.logger.Warn("reclaimed expired leases", "keys", reclaimed)
	}

	jobs, err := s.claimDue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			// Leased jobs are reclaimed after the lease expires.
			return 0, ctx.Err()
		}
		s.wg.Add(1)
		go s.dispatch(ctx, handler, job)
	}
	return len(jobs), nil
}

// Wait blocks until every dispatched callback has returned.
func (s *RedisScheduler) Wait() {
	s.wg.Wait()
}

func (s *RedisScheduler) dispatch(parent context.Context, handler Handler, job Job) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opts.CallbackTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("callback panic: %v", r)
			}
		}()
		return handler(ctx, job)
	}()
	if err != nil {
		telemetry.JobFailures.WithLabelValues(keyKind(job.Key)).Inc()
		s.logger.Error("job callback failed", "job_key", job.Key, "error", err)
	}

	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer ackCancel()
	if err := s.ack(ackCtx, job.Key); err != nil {
		s.logger.Error("ack failed", "job_key", job.Key, "error", err)
	}
}

func (s *RedisScheduler) claimDue(ctx context.Context, now time.Time) ([]Job, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.scheduledKey, s.leaseKey, s.payloadKey},
		now.UnixMilli(), s.opts.BatchSize, now.Add(s.opts.Lease).UnixMilli(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from claim script: %T", res)
	}
	jobs := make([]Job, 0, len(arr)/3)
	for i := 0; i+2 < len(arr); i += 3 {
		key, _ := arr[i].(string)
		scoreStr, _ := arr[i+1].(string)
		payload, _ := arr[i+2].(string)
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse fire time for %s: %w", key, err)
		}
		jobs = append(jobs, Job{Key: key, FireAt: time.UnixMilli(int64(score)), Payload: []byte(payload)})
	}
	return jobs, nil
}

func (s *RedisScheduler) requeueExpired(ctx context.Context, now time.Time) ([]string, error) {
	res, err := requeueScript.Run(ctx, s.client,
		[]string{s.leaseKey, s.scheduledKey},
		now.UnixMilli(), s.opts.BatchSize,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("requeue expired leases: %w", err)
	}
	return res, nil
}

func (s *RedisScheduler) ack(ctx context.Context, key string) error {
	return ackScript.Run(ctx, s.client, []string{s.leaseKey, s.scheduledKey, s.payloadKey}, key).Err()
}

// keyKind returns the key segment before the first colon, used as a metric label.
func keyKind(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}

// claimScript moves due jobs into the lease set and returns key, score, payload triples.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, ARGV[2])
local out = {}
for i = 1, #due, 2 do
  local key = due[i]
  redis.call('ZREM', KEYS[1], key)
  redis.call('ZADD', KEYS[2], ARGV[3], key)
  local payload = redis.call('HGET', KEYS[3], key)
  if not payload then payload = '' end
  table.insert(out, key)
  table.insert(out, due[i + 1])
  table.insert(out, payload)
end
return out
`)

// requeueScript returns expired leases to the scheduled set unless the key was rescheduled.
var requeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, key in ipairs(expired) do
  redis.call('ZREM', KEYS[1], key)
  if not redis.call('ZSCORE', KEYS[2], key) then
    redis.call('ZADD', KEYS[2], ARGV[1], key)
  end
end
return expired
`)

// ackScript drops the lease and keeps the payload only if the key was rescheduled meanwhile.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then
  redis.call('HDEL', KEYS[3], ARGV[1])
end
return 1
`)
