package queue

import (
	"context"
	"time"
)

// NoopHandleID is the synthetic job ID returned while the queue is disabled.
const NoopHandleID = "noop"

// Noop has the Backend surface but never stores or delivers anything.
// It keeps the rest of the system exercisable without a live broker.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) Enqueue(_ context.Context, topic string, _ []byte, _ Options) (Handle, error) {
	return Handle{ID: NoopHandleID, Topic: topic}, nil
}

func (Noop) Claim(context.Context, string, time.Duration) (*Job, error) { return nil, nil }

func (Noop) Ack(context.Context, *Job) error { return nil }

func (Noop) Fail(context.Context, *Job, error) (bool, error) { return false, nil }

func (Noop) Cancel(context.Context, Handle) (bool, error) { return false, nil }

func (Noop) Get(context.Context, Handle) (*Job, error) { return nil, ErrJobNotFound }

func (Noop) Close() error { return nil }
