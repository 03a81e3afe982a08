// Package queue is the delayed job queue: enqueue-with-delay, lease-based
// at-least-once claiming, retry with backoff, best-effort cancellation and a
// disablement mode. Backends implement Backend; Worker drives handlers.
package queue

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultMaxAttempts     = 3
	DefaultBackoffDelay    = 60 * time.Second
	DefaultStalledInterval = 30 * time.Second
	DefaultConcurrency     = 5
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when acking or failing a job whose lease expired
	// and was reclaimed by another claim.
	ErrLeaseLost = errors.New("job lease lost")
)

type State string

const (
	StateWaiting State = "waiting"
	StateActive  State = "active"
	StateFailed  State = "failed"
)

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff shapes the wait between failed attempts.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// Options are the per-job scheduling and retry settings.
type Options struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     Backoff
	// JobID makes the enqueue idempotent; a generated ID is used when empty.
	JobID string
}

func (o Options) withDefaults() Options {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffExponential
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = DefaultBackoffDelay
	}
	return o
}

// Handle identifies an enqueued job.
type Handle struct {
	ID    string
	Topic string
}

// Job is a claimed or inspected unit of work.
type Job struct {
	ID          string
	Topic       string
	Payload     []byte
	Attempts    int // failed attempts so far
	MaxAttempts int
	Backoff     Backoff
	EnqueuedAt  time.Time
	RunAt       time.Time
	State       State
	LastError   string
	// Token identifies the lease held by the current claim.
	Token string
}

func (j *Job) Handle() Handle { return Handle{ID: j.ID, Topic: j.Topic} }

// Backend is the storage side of the queue.
type Backend interface {
	Enqueue(ctx context.Context, topic string, payload []byte, opts Options) (Handle, error)
	// Claim leases the next eligible job of topic, reclaiming expired leases first.
	// It returns (nil, nil) when nothing is eligible.
	Claim(ctx context.Context, topic string, lease time.Duration) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Fail records a failed attempt. It reports whether the job was rescheduled;
	// false means the job is retained in the failed state.
	Fail(ctx context.Context, job *Job, cause error) (retrying bool, err error)
	// Cancel removes a waiting job. Active jobs are not interrupted.
	Cancel(ctx context.Context, h Handle) (bool, error)
	Get(ctx context.Context, h Handle) (*Job, error)
	Close() error
}

// NextDelay returns the wait before the retry following the given number of failed attempts.
func NextDelay(b Backoff, failedAttempts int) time.Duration {
	if b.Delay <= 0 {
		b.Delay = DefaultBackoffDelay
	}
	if b.Type == BackoffFixed || failedAttempts <= 1 {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < failedAttempts; i++ {
		d *= 2
	}
	return d
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

// NoRetry marks err as permanent: the job fails without further attempts.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err was marked with NoRetry.
func IsNoRetry(err error) bool {
	var nr noRetryError
	return errors.As(err, &nr)
}
