package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/queue"
	"github.com/rs/zerolog"
)

type failureRecorder interface {
	MarkFailed(ctx context.Context, notificationID, reason string) error
}

// EventObserver sees every worker event, e.g. to count them.
type EventObserver interface {
	ObserveJob(ev queue.Event)
}

// Monitor consumes worker events. Terminal failures of notify jobs are
// recorded on the notification.
type Monitor struct {
	notifications failureRecorder
	observers     []EventObserver
	log           zerolog.Logger
}

func NewMonitor(n failureRecorder, log zerolog.Logger, observers ...EventObserver) *Monitor {
	return &Monitor{notifications: n, observers: observers, log: log}
}

// Run observes events until the channel is closed or ctx is done.
func (m *Monitor) Run(ctx context.Context, events <-chan queue.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Observe(ctx, ev)
		}
	}
}

func (m *Monitor) Observe(ctx context.Context, ev queue.Event) {
	e := m.log.Debug()
	switch ev.Type {
	case queue.EventRetrying, queue.EventLeaseLost:
		e = m.log.Warn()
	case queue.EventFailed:
		e = m.log.Error()
	}
	e.Str("event", string(ev.Type)).Str("topic", ev.Job.Topic).Str("job_id", ev.Job.ID).
		Int("attempts", ev.Job.Attempts).Err(ev.Err).Msg("job event")
	for _, o := range m.observers {
		o.ObserveJob(ev)
	}

	if ev.Type != queue.EventFailed || ev.Job.Topic != domain.TopicNotify {
		return
	}
	notificationID := ev.Job.ID
	var p domain.DispatchPayload
	if err := json.Unmarshal(ev.Job.Payload, &p); err == nil && p.NotificationID != "" {
		notificationID = p.NotificationID
	}
	reason := "delivery failed"
	if ev.Err != nil {
		reason = ev.Err.Error()
	}
	err := m.notifications.MarkFailed(context.WithoutCancel(ctx), notificationID, reason)
	switch {
	case err == nil:
		m.log.Info().Str("notification_id", notificationID).Str("reason", reason).Msg("notification failed")
	case errors.Is(err, domain.ErrConflict):
		// Already SENT, FAILED or CANCELED.
	default:
		m.log.Error().Err(err).Str("notification_id", notificationID).Msg("record failed notification")
	}
}
