// Package redisq is the Redis backend of the delayed job queue. Each topic
// keeps three sorted sets (wait by run time, active by lease deadline, failed
// by failure time) and one hash per job; every state change is a Lua script
// so competing workers never observe a half-applied transition.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-reminders/internal/pkg/id"
	"github.com/go-reminders/internal/queue"
	"github.com/redis/go-redis/v9"
)

const (
	// reclaimBatch bounds the expired leases returned to wait per claim.
	reclaimBatch = 100
	// claimAttempts bounds the candidates tried when other workers win them.
	claimAttempts = 3
)

type Backend struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type Option func(*Backend)

// WithClock overrides the time source used for run and lease deadlines.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

func New(rdb *redis.Client, prefix string, opts ...Option) *Backend {
	b := &Backend{rdb: rdb, prefix: prefix, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

var _ queue.Backend = (*Backend)(nil)

// All keys of a topic share the {topic} hash tag so scripts stay in one slot.
func (b *Backend) key(topic, suffix string) string {
	return b.prefix + ":{" + topic + "}:" + suffix
}

func (b *Backend) jobPrefix(topic string) string { return b.key(topic, "job:") }

func (b *Backend) jobKey(topic, jobID string) string { return b.jobPrefix(topic) + jobID }

func ms(t time.Time) int64 { return t.UnixMilli() }

func (b *Backend) Enqueue(ctx context.Context, topic string, payload []byte, opts queue.Options) (queue.Handle, error) {
	jobID := opts.JobID
	if jobID == "" {
		jobID = id.New()
	}
	o := normalize(opts)
	now := b.now()
	keys := []string{b.jobKey(topic, jobID), b.key(topic, "wait")}
	_, err := enqueueScript.Run(ctx, b.rdb, keys,
		jobID, string(payload), o.MaxAttempts, string(o.Backoff.Type), o.Backoff.Delay.Milliseconds(),
		ms(now), ms(now.Add(o.Delay))).Result()
	if err != nil {
		return queue.Handle{}, fmt.Errorf("redisq enqueue %s: %w", topic, err)
	}
	return queue.Handle{ID: jobID, Topic: topic}, nil
}

func normalize(o queue.Options) queue.Options {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = queue.DefaultMaxAttempts
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = queue.BackoffExponential
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = queue.DefaultBackoffDelay
	}
	return o
}

// Claim first returns expired leases to wait, then takes the earliest due job.
// Candidates are read outside the scripts so every key a script touches is
// declared; losing a candidate to another worker moves on to the next one.
func (b *Backend) Claim(ctx context.Context, topic string, lease time.Duration) (*queue.Job, error) {
	if lease <= 0 {
		lease = queue.DefaultStalledInterval
	}
	now := b.now()
	wait, active := b.key(topic, "wait"), b.key(topic, "active")
	due := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(ms(now), 10), Count: reclaimBatch}

	stalled, err := b.rdb.ZRangeByScore(ctx, active, due).Result()
	if err != nil {
		return nil, fmt.Errorf("redisq claim %s: stalled: %w", topic, err)
	}
	for _, sid := range stalled {
		if err := reclaimScript.Run(ctx, b.rdb, []string{b.jobKey(topic, sid), wait, active}, sid, ms(now)).Err(); err != nil {
			return nil, fmt.Errorf("redisq claim %s: reclaim %s: %w", topic, sid, err)
		}
	}

	token := id.New()
	due.Count = 1
	for i := 0; i < claimAttempts; i++ {
		ids, err := b.rdb.ZRangeByScore(ctx, wait, due).Result()
		if err != nil {
			return nil, fmt.Errorf("redisq claim %s: %w", topic, err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		keys := []string{b.jobKey(topic, ids[0]), wait, active}
		res, err := claimScript.Run(ctx, b.rdb, keys, ids[0], ms(now), ms(now.Add(lease)), token).StringSlice()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redisq claim %s: %w", topic, err)
		}
		fields := make(map[string]string, len(res)/2)
		for i := 0; i+1 < len(res); i += 2 {
			fields[res[i]] = res[i+1]
		}
		return decodeJob(topic, ids[0], fields)
	}
	return nil, nil
}

func (b *Backend) Ack(ctx context.Context, job *queue.Job) error {
	keys := []string{b.jobKey(job.Topic, job.ID), b.key(job.Topic, "active")}
	n, err := ackScript.Run(ctx, b.rdb, keys, job.ID, job.Token).Int()
	if err != nil {
		return fmt.Errorf("redisq ack %s: %w", job.ID, err)
	}
	return settleResult(n)
}

func (b *Backend) Fail(ctx context.Context, job *queue.Job, cause error) (bool, error) {
	now := b.now()
	msg, noRetry := "", "0"
	if cause != nil {
		msg = cause.Error()
	}
	if queue.IsNoRetry(cause) {
		noRetry = "1"
	}
	retryAt := now.Add(queue.NextDelay(job.Backoff, job.Attempts+1))
	keys := []string{
		b.jobKey(job.Topic, job.ID),
		b.key(job.Topic, "active"),
		b.key(job.Topic, "wait"),
		b.key(job.Topic, "failed"),
	}
	n, err := failScript.Run(ctx, b.rdb, keys, job.ID, job.Token, ms(now), msg, noRetry, ms(retryAt)).Int()
	if err != nil {
		return false, fmt.Errorf("redisq fail %s: %w", job.ID, err)
	}
	if n == 1 {
		return true, nil
	}
	if n == 2 {
		return false, nil
	}
	return false, settleResult(n)
}

func settleResult(n int) error {
	switch n {
	case -1:
		return queue.ErrJobNotFound
	case 0:
		return queue.ErrLeaseLost
	}
	return nil
}

func (b *Backend) Cancel(ctx context.Context, h queue.Handle) (bool, error) {
	keys := []string{b.jobKey(h.Topic, h.ID), b.key(h.Topic, "wait")}
	n, err := cancelScript.Run(ctx, b.rdb, keys, h.ID).Int()
	if err != nil {
		return false, fmt.Errorf("redisq cancel %s: %w", h.ID, err)
	}
	return n == 1, nil
}

func (b *Backend) Get(ctx context.Context, h queue.Handle) (*queue.Job, error) {
	fields, err := b.rdb.HGetAll(ctx, b.jobKey(h.Topic, h.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisq get %s: %w", h.ID, err)
	}
	if len(fields) == 0 {
		return nil, queue.ErrJobNotFound
	}
	return decodeJob(h.Topic, h.ID, fields)
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.rdb.Close()
}

func decodeJob(topic, jobID string, f map[string]string) (*queue.Job, error) {
	attempts, err := strconv.Atoi(f["attempts"])
	if err != nil {
		return nil, fmt.Errorf("redisq decode %s attempts: %w", jobID, err)
	}
	maxAttempts, err := strconv.Atoi(f["max"])
	if err != nil {
		return nil, fmt.Errorf("redisq decode %s max: %w", jobID, err)
	}
	delay, _ := strconv.ParseInt(f["bdelay"], 10, 64)
	enq, _ := strconv.ParseInt(f["enq"], 10, 64)
	run, _ := strconv.ParseInt(f["run"], 10, 64)
	return &queue.Job{
		ID:          jobID,
		Topic:       topic,
		Payload:     []byte(f["payload"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Backoff:     queue.Backoff{Type: queue.BackoffType(f["btype"]), Delay: time.Duration(delay) * time.Millisecond},
		EnqueuedAt:  time.UnixMilli(enq),
		RunAt:       time.UnixMilli(run),
		State:       queue.State(f["state"]),
		LastError:   f["err"],
		Token:       f["token"],
	}, nil
}
