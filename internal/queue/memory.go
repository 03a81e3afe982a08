package queue

import (
	"context"
	"sync"
	"time"

	"github.com/go-reminders/internal/pkg/id"
)

// Memory is an in-process Backend with the same lease and retry semantics as
// the Redis backend. Suitable for a single node and for tests.
type Memory struct {
	mu   sync.Mutex
	now  func() time.Time
	jobs map[string]*memJob
}

type memJob struct {
	job        Job
	leaseUntil time.Time
}

type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{now: time.Now, jobs: make(map[string]*memJob)}
	for _, o := range opts {
		o(m)
	}
	return m
}

func memKey(topic, jobID string) string { return topic + "\x00" + jobID }

func (m *Memory) Enqueue(_ context.Context, topic string, payload []byte, opts Options) (Handle, error) {
	opts = opts.withDefaults()
	jobID := opts.JobID
	if jobID == "" {
		jobID = id.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(topic, jobID)
	if _, ok := m.jobs[key]; ok {
		return Handle{ID: jobID, Topic: topic}, nil
	}
	now := m.now()
	m.jobs[key] = &memJob{job: Job{
		ID:          jobID,
		Topic:       topic,
		Payload:     append([]byte(nil), payload...),
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		EnqueuedAt:  now,
		RunAt:       now.Add(opts.Delay),
		State:       StateWaiting,
	}}
	return Handle{ID: jobID, Topic: topic}, nil
}

func (m *Memory) Claim(_ context.Context, topic string, lease time.Duration) (*Job, error) {
	if lease <= 0 {
		lease = DefaultStalledInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	var next *memJob
	for _, mj := range m.jobs {
		if mj.job.Topic != topic {
			continue
		}
		if mj.job.State == StateActive && !mj.leaseUntil.After(now) {
			// Stalled: the holder never acknowledged within its lease.
			mj.job.State = StateWaiting
			mj.job.Token = ""
		}
		if mj.job.State != StateWaiting || mj.job.RunAt.After(now) {
			continue
		}
		if next == nil || earlier(&mj.job, &next.job) {
			next = mj
		}
	}
	if next == nil {
		return nil, nil
	}
	next.job.State = StateActive
	next.job.Token = id.New()
	next.leaseUntil = now.Add(lease)
	out := next.job
	return &out, nil
}

func earlier(a, b *Job) bool {
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.ID < b.ID
}

func (m *Memory) held(job *Job) (*memJob, error) {
	mj, ok := m.jobs[memKey(job.Topic, job.ID)]
	if !ok {
		return nil, ErrJobNotFound
	}
	if mj.job.State != StateActive || mj.job.Token != job.Token {
		return nil, ErrLeaseLost
	}
	return mj, nil
}

func (m *Memory) Ack(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.held(job); err != nil {
		return err
	}
	delete(m.jobs, memKey(job.Topic, job.ID))
	return nil
}

func (m *Memory) Fail(_ context.Context, job *Job, cause error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, err := m.held(job)
	if err != nil {
		return false, err
	}
	mj.job.Attempts++
	mj.job.Token = ""
	if cause != nil {
		mj.job.LastError = cause.Error()
	}
	if IsNoRetry(cause) || mj.job.Attempts >= mj.job.MaxAttempts {
		mj.job.State = StateFailed
		return false, nil
	}
	mj.job.State = StateWaiting
	mj.job.RunAt = m.now().Add(NextDelay(mj.job.Backoff, mj.job.Attempts))
	return true, nil
}

func (m *Memory) Cancel(_ context.Context, h Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(h.Topic, h.ID)
	mj, ok := m.jobs[key]
	if !ok || mj.job.State != StateWaiting {
		return false, nil
	}
	delete(m.jobs, key)
	return true, nil
}

func (m *Memory) Get(_ context.Context, h Handle) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[memKey(h.Topic, h.ID)]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := mj.job
	return &out, nil
}

func (m *Memory) Close() error { return nil }
