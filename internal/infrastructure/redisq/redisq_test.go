package redisq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-reminders/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T) (*Backend, *clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clk := &clock{t: time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)}
	b := New(rdb, "queue:test", WithClock(clk.Now))
	t.Cleanup(func() { _ = b.Close() })
	return b, clk, mr
}

func TestEnqueue_DelayedJobBecomesEligible(t *testing.T) {
	b, clk, _ := setup(t)
	ctx := context.Background()

	h, err := b.Enqueue(ctx, "notify", []byte(`{"reminderId":"r1"}`), queue.Options{Delay: 5 * time.Minute})
	require.NoError(t, err)

	job, err := b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)

	clk.Advance(5 * time.Minute)
	job, err = b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, h.ID, job.ID)
	assert.Equal(t, []byte(`{"reminderId":"r1"}`), job.Payload)
	assert.Equal(t, queue.StateActive, job.State)
	assert.Equal(t, queue.DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, queue.BackoffExponential, job.Backoff.Type)
	assert.Equal(t, queue.DefaultBackoffDelay, job.Backoff.Delay)
	assert.NotEmpty(t, job.Token)
}

func TestEnqueue_SameJobIDKeepsFirst(t *testing.T) {
	b, _, _ := setup(t)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, "notify", []byte("a"), queue.Options{JobID: "n-1"})
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, "notify", []byte("b"), queue.Options{JobID: "n-1"})
	require.NoError(t, err)

	job, err := b.Get(ctx, queue.Handle{ID: "n-1", Topic: "notify"})
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), job.Payload)
	assert.Equal(t, queue.StateWaiting, job.State)
}

func TestClaim_ReclaimsExpiredLease(t *testing.T) {
	b, clk, _ := setup(t)
	ctx := context.Background()
	_, err := b.Enqueue(ctx, "notify", nil, queue.Options{JobID: "n-1"})
	require.NoError(t, err)

	first, err := b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	none, err := b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, none)

	clk.Advance(31 * time.Second)
	second, err := b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "n-1", second.ID)

	assert.ErrorIs(t, b.Ack(ctx, first), queue.ErrLeaseLost)
	_, err = b.Fail(ctx, first, errors.New("late"))
	assert.ErrorIs(t, err, queue.ErrLeaseLost)

	require.NoError(t, b.Ack(ctx, second))
	_, err = b.Get(ctx, second.Handle())
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
	assert.ErrorIs(t, b.Ack(ctx, second), queue.ErrJobNotFound)
}

func TestClaim_SkipsOrphanedCandidate(t *testing.T) {
	b, clk, mr := setup(t)
	ctx := context.Background()
	_, err := b.Enqueue(ctx, "notify", nil, queue.Options{JobID: "n-1"})
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = b.Enqueue(ctx, "notify", nil, queue.Options{JobID: "n-2"})
	require.NoError(t, err)
	mr.Del("queue:test:{notify}:job:n-1")

	job, err := b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "n-2", job.ID)

	wait, err := mr.ZMembers("queue:test:{notify}:wait")
	if err == nil {
		assert.Empty(t, wait)
	}
	active, err := mr.ZMembers("queue:test:{notify}:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"n-2"}, active)
}

func TestFail_BacksOffThenRetainsFailed(t *testing.T) {
	b, clk, mr := setup(t)
	ctx := context.Background()
	h, err := b.Enqueue(ctx, "notify", nil, queue.Options{MaxAttempts: 2})
	require.NoError(t, err)

	job, err := b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	retrying, err := b.Fail(ctx, job, errors.New("smtp timeout"))
	require.NoError(t, err)
	assert.True(t, retrying)

	clk.Advance(59 * time.Second)
	job, err = b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)

	clk.Advance(time.Second)
	job, err = b.Claim(ctx, "notify", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "smtp timeout", job.LastError)

	retrying, err = b.Fail(ctx, job, errors.New("smtp timeout"))
	require.NoError(t, err)
	assert.False(t, retrying)

	failed, err := b.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, failed.State)
	assert.Equal(t, 2, failed.Attempts)

	members, err := mr.ZMembers("queue:test:{notify}:failed")
	require.NoError(t, err)
	assert.Equal(t, []string{h.ID}, members)
}

func TestFail_NoRetryFailsOnFirstAttempt(t *testing.T) {
	b, _, _ := setup(t)
	ctx := context.Background()
	h, _ := b.Enqueue(ctx, "notify", nil, queue.Options{MaxAttempts: 5})
	job, err := b.Claim(ctx, "notify", time.Minute)
	require.NoError(t, err)

	retrying, err := b.Fail(ctx, job, queue.NoRetry(errors.New("recipient has no address")))
	require.NoError(t, err)
	assert.False(t, retrying)

	failed, err := b.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, failed.State)
}

func TestCancel(t *testing.T) {
	b, _, _ := setup(t)
	ctx := context.Background()
	waiting, _ := b.Enqueue(ctx, "notify", nil, queue.Options{JobID: "later", Delay: time.Hour})
	running, _ := b.Enqueue(ctx, "notify", nil, queue.Options{JobID: "now"})

	job, err := b.Claim(ctx, "notify", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "now", job.ID)

	ok, err := b.Cancel(ctx, waiting)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Cancel(ctx, running)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.Cancel(ctx, waiting)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkerAgainstRedis(t *testing.T) {
	b, _, _ := setup(t)
	ctx := context.Background()
	_, err := b.Enqueue(ctx, "recur", []byte("r1"), queue.Options{})
	require.NoError(t, err)

	var seen []byte
	events := make(chan queue.Event, 1)
	w := queue.NewWorker(b, queue.WorkerConfig{Topic: "recur"}, func(_ context.Context, j *queue.Job) error {
		seen = j.Payload
		return nil
	}, events, zerolog.Nop())

	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []byte("r1"), seen)
	assert.Equal(t, queue.EventCompleted, (<-events).Type)
}
