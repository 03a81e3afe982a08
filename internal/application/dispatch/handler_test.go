package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/infrastructure/notify"
	"github.com/go-reminders/internal/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockReminders struct{ mock.Mock }

func (m *mockReminders) Get(ctx context.Context, reminderID string) (*domain.Reminder, error) {
	args := m.Called(ctx, reminderID)
	if r, _ := args.Get(0).(*domain.Reminder); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockNotifications struct{ mock.Mock }

func (m *mockNotifications) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	args := m.Called(ctx, notificationID)
	if n, _ := args.Get(0).(*domain.Notification); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockNotifications) MarkSent(ctx context.Context, notificationID, providerMessageID string, sentAt time.Time) error {
	return m.Called(ctx, notificationID, providerMessageID, sentAt).Error(0)
}
func (m *mockNotifications) MarkFailed(ctx context.Context, notificationID, reason string) error {
	return m.Called(ctx, notificationID, reason).Error(0)
}
func (m *mockNotifications) Cancel(ctx context.Context, notificationID string) error {
	return m.Called(ctx, notificationID).Error(0)
}

type mockRecipients struct{ mock.Mock }

func (m *mockRecipients) Lookup(ctx context.Context, userID string) (*domain.Recipient, error) {
	args := m.Called(ctx, userID)
	if r, _ := args.Get(0).(*domain.Recipient); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, ch domain.Channel, address string, msg notify.Message) (string, error) {
	args := m.Called(ctx, ch, address, msg)
	return args.String(0), args.Error(1)
}

// --- helpers ---

var (
	due    = time.Date(2030, 3, 15, 15, 0, 0, 0, time.UTC)
	sentAt = due.Add(2 * time.Second)
)

type mocks struct {
	rems  *mockReminders
	notes *mockNotifications
	recs  *mockRecipients
	send  *mockSender
}

func newHandler() (*Handler, *mocks) {
	m := &mocks{&mockReminders{}, &mockNotifications{}, &mockRecipients{}, &mockSender{}}
	h := NewHandler(HandlerDeps{
		Reminders:     m.rems,
		Notifications: m.notes,
		Recipients:    m.recs,
		Sender:        m.send,
		Log:           zerolog.Nop(),
		Now:           func() time.Time { return sentAt },
	})
	return h, m
}

func (m *mocks) assertAll(t *testing.T) {
	m.rems.AssertExpectations(t)
	m.notes.AssertExpectations(t)
	m.recs.AssertExpectations(t)
	m.send.AssertExpectations(t)
}

func activeReminder() *domain.Reminder {
	return &domain.Reminder{
		ReminderID: "r1", UserID: "u1", Title: "pay the electricity bill",
		Channel: domain.ChannelEmail, Status: domain.ReminderActive, DueAt: due, Timezone: "America/Mexico_City",
	}
}

func pendingNotification() *domain.Notification {
	return &domain.Notification{
		NotificationID: "n1", ReminderID: "r1", ScheduledAt: due,
		Channel: domain.ChannelEmail, Status: domain.NotificationPending,
	}
}

func notifyJob(t *testing.T) *queue.Job {
	t.Helper()
	b, err := json.Marshal(domain.DispatchPayload{ReminderID: "r1", NotificationID: "n1"})
	require.NoError(t, err)
	return &queue.Job{ID: "n1", Topic: domain.TopicNotify, Payload: b}
}

func strPtr(s string) *string { return &s }

// --- tests ---

func TestHandle_SendsAndMarksSent(t *testing.T) {
	h, m := newHandler()
	m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
	m.notes.On("Get", mock.Anything, "n1").Return(pendingNotification(), nil)
	m.recs.On("Lookup", mock.Anything, "u1").Return(&domain.Recipient{EmailAddress: strPtr("alice@example.com")}, nil)
	m.send.On("Send", mock.Anything, domain.ChannelEmail, "alice@example.com", mock.MatchedBy(func(msg notify.Message) bool {
		return msg.Subject == "Reminder: pay the electricity bill"
	})).Return("msg-1", nil)
	m.notes.On("MarkSent", mock.Anything, "n1", "msg-1", sentAt).Return(nil)

	require.NoError(t, h.Handle(context.Background(), notifyJob(t)))
	m.assertAll(t)
}

func TestHandle_RedeliveryOfSentIsNoop(t *testing.T) {
	h, m := newHandler()
	sent := pendingNotification()
	sent.Status = domain.NotificationSent
	m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
	m.notes.On("Get", mock.Anything, "n1").Return(sent, nil)

	require.NoError(t, h.Handle(context.Background(), notifyJob(t)))
	m.send.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.assertAll(t)
}

func TestHandle_StaleFireGuard(t *testing.T) {
	cases := map[string]func(r *domain.Reminder){
		"done":       func(r *domain.Reminder) { r.Status = domain.ReminderDone },
		"canceled":   func(r *domain.Reminder) { r.Status = domain.ReminderCanceled },
		"paused":     func(r *domain.Reminder) { r.Status = domain.ReminderPaused },
		"superseded": func(r *domain.Reminder) { r.DueAt = due.Add(30 * time.Minute) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h, m := newHandler()
			rem := activeReminder()
			mutate(rem)
			m.rems.On("Get", mock.Anything, "r1").Return(rem, nil)
			m.notes.On("Get", mock.Anything, "n1").Return(pendingNotification(), nil)
			m.notes.On("Cancel", mock.Anything, "n1").Return(nil)

			require.NoError(t, h.Handle(context.Background(), notifyJob(t)))
			m.send.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			m.assertAll(t)
		})
	}
}

func TestHandle_MissingRecordsDiscard(t *testing.T) {
	h, m := newHandler()
	m.rems.On("Get", mock.Anything, "r1").Return(nil, domain.ErrNotFound)
	require.NoError(t, h.Handle(context.Background(), notifyJob(t)))

	h, m = newHandler()
	m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
	m.notes.On("Get", mock.Anything, "n1").Return(nil, domain.ErrNotFound)
	require.NoError(t, h.Handle(context.Background(), notifyJob(t)))
	m.assertAll(t)
}

func TestHandle_ProviderFailureIsRetryable(t *testing.T) {
	h, m := newHandler()
	m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
	m.notes.On("Get", mock.Anything, "n1").Return(pendingNotification(), nil)
	m.recs.On("Lookup", mock.Anything, "u1").Return(&domain.Recipient{EmailAddress: strPtr("alice@example.com")}, nil)
	m.send.On("Send", mock.Anything, domain.ChannelEmail, "alice@example.com", mock.Anything).Return("", errors.New("smtp 451"))

	err := h.Handle(context.Background(), notifyJob(t))
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "n1", derr.NotificationID)
	assert.False(t, queue.IsNoRetry(err))
	m.notes.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.notes.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_PermanentFailures(t *testing.T) {
	t.Run("no address for channel", func(t *testing.T) {
		h, m := newHandler()
		m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
		m.notes.On("Get", mock.Anything, "n1").Return(pendingNotification(), nil)
		m.recs.On("Lookup", mock.Anything, "u1").Return(&domain.Recipient{PhoneNumber: strPtr("+15550100")}, nil)

		err := h.Handle(context.Background(), notifyJob(t))
		assert.True(t, queue.IsNoRetry(err))
	})
	t.Run("owner missing", func(t *testing.T) {
		h, m := newHandler()
		m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
		m.notes.On("Get", mock.Anything, "n1").Return(pendingNotification(), nil)
		m.recs.On("Lookup", mock.Anything, "u1").Return(nil, domain.ErrNotFound)

		assert.True(t, queue.IsNoRetry(h.Handle(context.Background(), notifyJob(t))))
	})
	t.Run("address rejected by provider", func(t *testing.T) {
		h, m := newHandler()
		m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
		m.notes.On("Get", mock.Anything, "n1").Return(pendingNotification(), nil)
		m.recs.On("Lookup", mock.Anything, "u1").Return(&domain.Recipient{EmailAddress: strPtr("nobody")}, nil)
		m.send.On("Send", mock.Anything, domain.ChannelEmail, "nobody", mock.Anything).Return("", notify.ErrInvalidAddress)

		err := h.Handle(context.Background(), notifyJob(t))
		assert.True(t, queue.IsNoRetry(err))
		var derr *DeliveryError
		assert.ErrorAs(t, err, &derr)
	})
	t.Run("malformed payload", func(t *testing.T) {
		h, _ := newHandler()
		err := h.Handle(context.Background(), &queue.Job{ID: "x", Payload: []byte("nope")})
		assert.True(t, queue.IsNoRetry(err))
	})
}

func TestHandle_MarkSentConflictDoesNotResend(t *testing.T) {
	h, m := newHandler()
	m.rems.On("Get", mock.Anything, "r1").Return(activeReminder(), nil)
	m.notes.On("Get", mock.Anything, "n1").Return(pendingNotification(), nil)
	m.recs.On("Lookup", mock.Anything, "u1").Return(&domain.Recipient{EmailAddress: strPtr("alice@example.com")}, nil)
	m.send.On("Send", mock.Anything, domain.ChannelEmail, "alice@example.com", mock.Anything).Return("msg-1", nil).Once()
	m.notes.On("MarkSent", mock.Anything, "n1", "msg-1", sentAt).Return(domain.ErrConflict)

	assert.NoError(t, h.Handle(context.Background(), notifyJob(t)))
	m.assertAll(t)
}

func TestRender(t *testing.T) {
	msg := Render(activeReminder())
	assert.Equal(t, "Reminder: pay the electricity bill", msg.Subject)
	lines := strings.Split(msg.Body, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "pay the electricity bill", lines[0])
	// 15:00 UTC is 09:00 in Mexico City.
	assert.Contains(t, lines[1], "09:00")
	assert.Equal(t, `Actions: reply "snooze 30" | "done"`, lines[2])
}

// --- monitor ---

func TestMonitor_MarksTerminalNotifyFailures(t *testing.T) {
	notes := &mockNotifications{}
	mon := NewMonitor(notes, zerolog.Nop())
	notes.On("MarkFailed", mock.Anything, "n1", "deliver notification n1 via EMAIL: smtp 451").Return(nil).Once()

	job := *notifyJob(t)
	cause := &DeliveryError{NotificationID: "n1", Channel: domain.ChannelEmail, Err: errors.New("smtp 451")}

	events := make(chan queue.Event, 4)
	events <- queue.Event{Type: queue.EventRetrying, Job: job, Err: cause}
	events <- queue.Event{Type: queue.EventFailed, Job: job, Err: cause}
	events <- queue.Event{Type: queue.EventFailed, Job: queue.Job{ID: "c1", Topic: domain.TopicRecur}, Err: errors.New("boom")}
	events <- queue.Event{Type: queue.EventCompleted, Job: job}
	close(events)

	mon.Run(context.Background(), events)
	notes.AssertExpectations(t)
}

func TestMonitor_IgnoresAlreadySettled(t *testing.T) {
	notes := &mockNotifications{}
	mon := NewMonitor(notes, zerolog.Nop())
	notes.On("MarkFailed", mock.Anything, "n1", mock.Anything).Return(domain.ErrConflict).Once()

	mon.Observe(context.Background(), queue.Event{Type: queue.EventFailed, Job: *notifyJob(t), Err: errors.New("x")})
	notes.AssertExpectations(t)
}

type countingObserver struct{ seen []queue.EventType }

func (c *countingObserver) ObserveJob(ev queue.Event) { c.seen = append(c.seen, ev.Type) }

func TestMonitor_ForwardsEveryEventToObservers(t *testing.T) {
	notes := &mockNotifications{}
	notes.On("MarkFailed", mock.Anything, "n1", mock.Anything).Return(nil).Once()
	obs := &countingObserver{}
	mon := NewMonitor(notes, zerolog.Nop(), obs)

	job := *notifyJob(t)
	mon.Observe(context.Background(), queue.Event{Type: queue.EventCompleted, Job: job})
	mon.Observe(context.Background(), queue.Event{Type: queue.EventLeaseLost, Job: job})
	mon.Observe(context.Background(), queue.Event{Type: queue.EventFailed, Job: job, Err: errors.New("x")})

	assert.Equal(t, []queue.EventType{queue.EventCompleted, queue.EventLeaseLost, queue.EventFailed}, obs.seen)
	notes.AssertExpectations(t)
}
