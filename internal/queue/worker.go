package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one claimed job. A nil error acknowledges it.
type Handler func(ctx context.Context, job *Job) error

type EventType string

const (
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
	EventLeaseLost EventType = "lease_lost"
)

// Event reports the outcome of one delivery of a job.
type Event struct {
	Type EventType
	Job  Job
	Err  error
	Time time.Time
}

type WorkerConfig struct {
	Topic           string
	Concurrency     int
	StalledInterval time.Duration
	PollInterval    time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = DefaultStalledInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Worker claims jobs of one topic and runs them through a handler on a fixed
// number of goroutines. Outcomes are published on the events channel.
type Worker struct {
	backend Backend
	cfg     WorkerConfig
	handle  Handler
	events  chan<- Event
	log     zerolog.Logger
	now     func() time.Time
}

func NewWorker(b Backend, cfg WorkerConfig, h Handler, events chan<- Event, log zerolog.Logger) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		backend: b,
		cfg:     cfg,
		handle:  h,
		events:  events,
		log:     log.With().Str("topic", cfg.Topic).Logger(),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled and all in-flight jobs have finished.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			w.loop(ctx, idx)
		}(i)
	}
	w.log.Info().Int("concurrency", w.cfg.Concurrency).Dur("stalled_interval", w.cfg.StalledInterval).Msg("worker started")
	wg.Wait()
	w.log.Info().Msg("worker stopped")
}

func (w *Worker) loop(ctx context.Context, idx int) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Int("slot", idx).Msg("claim failed")
		}
		if processed && err == nil {
			continue
		}
		tmr := time.NewTimer(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return
		case <-tmr.C:
		}
	}
}

// ProcessNext claims and handles at most one job. It reports whether a job was claimed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.backend.Claim(ctx, w.cfg.Topic, w.cfg.StalledInterval)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	// The handler must finish inside the lease or the job may be redelivered.
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.StalledInterval)
	herr := w.run(runCtx, job)
	cancel()

	// Settle the job and report it even when shutdown has begun.
	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelSettle()

	if herr == nil {
		if err := w.backend.Ack(settleCtx, job); err != nil {
			w.settleError(settleCtx, job, err)
			return
		}
		w.emit(settleCtx, Event{Type: EventCompleted, Job: *job})
		return
	}

	retrying, err := w.backend.Fail(settleCtx, job, herr)
	if err != nil {
		w.settleError(settleCtx, job, err)
		return
	}
	job.Attempts++
	job.LastError = herr.Error()
	if retrying {
		w.log.Debug().Str("job_id", job.ID).Int("attempt", job.Attempts).Err(herr).Msg("job retry scheduled")
		w.emit(settleCtx, Event{Type: EventRetrying, Job: *job, Err: herr})
		return
	}
	job.State = StateFailed
	w.emit(settleCtx, Event{Type: EventFailed, Job: *job, Err: herr})
}

func (w *Worker) settleError(ctx context.Context, job *Job, err error) {
	if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrJobNotFound) {
		w.emit(ctx, Event{Type: EventLeaseLost, Job: *job, Err: err})
		return
	}
	w.log.Error().Err(err).Str("job_id", job.ID).Msg("settle job")
}

func (w *Worker) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error().Str("job_id", job.ID).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("job panic")
		}
	}()
	return w.handle(ctx, job)
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	if w.events == nil {
		return
	}
	ev.Time = w.now()
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
