// Package dispatch delivers due notifications: it is the handler of notify
// jobs and the consumer of the queue's terminal-failure events.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/infrastructure/notify"
	"github.com/go-reminders/internal/queue"
	"github.com/rs/zerolog"
)

const defaultProviderTimeout = 10 * time.Second

type reminderReader interface {
	Get(ctx context.Context, reminderID string) (*domain.Reminder, error)
}

type notificationStore interface {
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	MarkSent(ctx context.Context, notificationID, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, notificationID, reason string) error
	Cancel(ctx context.Context, notificationID string) error
}

type recipientLookup interface {
	Lookup(ctx context.Context, userID string) (*domain.Recipient, error)
}

type sender interface {
	Send(ctx context.Context, ch domain.Channel, address string, msg notify.Message) (string, error)
}

// DeliveryError is a failed provider call for one notification.
type DeliveryError struct {
	NotificationID string
	Channel        domain.Channel
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver notification %s via %s: %v", e.NotificationID, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type HandlerDeps struct {
	Reminders       reminderReader
	Notifications   notificationStore
	Recipients      recipientLookup
	Sender          sender
	ProviderTimeout time.Duration
	Log             zerolog.Logger
	Now             func() time.Time
}

type Handler struct {
	reminders     reminderReader
	notifications notificationStore
	recipients    recipientLookup
	sender        sender
	timeout       time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

func NewHandler(d HandlerDeps) *Handler {
	h := &Handler{
		reminders:     d.Reminders,
		notifications: d.Notifications,
		recipients:    d.Recipients,
		sender:        d.Sender,
		timeout:       d.ProviderTimeout,
		log:           d.Log,
		now:           d.Now,
	}
	if h.timeout <= 0 {
		h.timeout = defaultProviderTimeout
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Handle processes one notify job. Redelivery of a settled notification is a
// no-op, so the queue's at-least-once delivery never sends twice.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var p domain.DispatchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.NoRetry(fmt.Errorf("malformed notify payload: %w", err))
	}
	if p.NotificationID == "" {
		p.NotificationID = job.ID
	}
	log := h.log.With().Str("reminder_id", p.ReminderID).Str("notification_id", p.NotificationID).Int("attempt", job.Attempts+1).Logger()

	rem, err := h.reminders.Get(ctx, p.ReminderID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("reminder gone, job discarded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder: %w", err)
	}
	n, err := h.notifications.Get(ctx, p.NotificationID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("notification gone, job discarded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	if n.Status != domain.NotificationPending {
		log.Debug().Str("status", string(n.Status)).Msg("notification already settled")
		return nil
	}

	if reason := staleReason(rem, n); reason != "" {
		if err := h.notifications.Cancel(ctx, n.NotificationID); err != nil && !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("cancel stale notification: %w", err)
		}
		log.Info().Str("reason", reason).Msg("stale notification canceled")
		return nil
	}

	recipient, err := h.recipients.Lookup(ctx, rem.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return queue.NoRetry(fmt.Errorf("owner %s not found: %w", rem.UserID, err))
	}
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	address := recipient.Address(n.Channel)
	if address == "" {
		return queue.NoRetry(fmt.Errorf("owner %s has no %s address", rem.UserID, n.Channel))
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.timeout)
	msgID, err := h.sender.Send(sendCtx, n.Channel, address, Render(rem))
	cancel()
	if err != nil {
		derr := &DeliveryError{NotificationID: n.NotificationID, Channel: n.Channel, Err: err}
		if errors.Is(err, notify.ErrInvalidAddress) || errors.Is(err, notify.ErrNoProvider) {
			return queue.NoRetry(derr)
		}
		log.Warn().Err(err).Msg("delivery failed")
		return derr
	}

	sentAt := h.now().UTC()
	if err := h.notifications.MarkSent(ctx, n.NotificationID, msgID, sentAt); err != nil {
		// The provider accepted the message; retrying would send it again.
		if errors.Is(err, domain.ErrConflict) {
			log.Warn().Str("provider_message_id", msgID).Msg("notification settled concurrently")
		} else {
			log.Error().Err(err).Str("provider_message_id", msgID).Msg("record sent notification")
		}
		return nil
	}
	log.Info().Str("channel", string(n.Channel)).Str("provider_message_id", msgID).Msg("notification sent")
	return nil
}

func staleReason(rem *domain.Reminder, n *domain.Notification) string {
	switch {
	case rem.Terminal(), rem.Status == domain.ReminderPaused:
		return "reminder " + string(rem.Status)
	case !n.ScheduledAt.Equal(rem.DueAt):
		return "superseded"
	}
	return ""
}

// Render builds the message for a reminder occurrence.
func Render(rem *domain.Reminder) notify.Message {
	due := rem.DueAt.In(rem.Location()).Format("Mon, 02 Jan 2006 15:04 MST")
	return notify.Message{
		Subject: "Reminder: " + rem.Title,
		Body:    fmt.Sprintf("%s\n⏰ %s\nActions: reply \"snooze 30\" | \"done\"", rem.Title, due),
	}
}
