package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/pkg/id"
	"github.com/go-reminders/internal/pkg/recurrence"
	"github.com/go-reminders/internal/queue"
	"github.com/rs/zerolog"
)

const (
	MinSnoozeMinutes = 1
	MaxSnoozeMinutes = 7 * 24 * 60

	compensateTimeout = 5 * time.Second
)

type reminderStore interface {
	Create(ctx context.Context, r *domain.Reminder) error
	Get(ctx context.Context, reminderID string) (*domain.Reminder, error)
	Transition(ctx context.Context, reminderID string, to domain.ReminderStatus, from ...domain.ReminderStatus) error
	Reschedule(ctx context.Context, reminderID string, prev, dueAt time.Time, to domain.ReminderStatus, from ...domain.ReminderStatus) error
	AdvanceDue(ctx context.Context, reminderID string, prev, next time.Time) error
	ListByOwner(ctx context.Context, userID string, f domain.ReminderFilter) ([]domain.Reminder, error)
}

type notificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
	Cancel(ctx context.Context, notificationID string) error
	ListPending(ctx context.Context, reminderID string) ([]domain.Notification, error)
}

type textParser interface {
	Parse(ctx context.Context, text, tz string) domain.ParseOutput
}

// jobQueue is the producer side of the delayed queue.
type jobQueue interface {
	Enqueue(ctx context.Context, topic string, payload []byte, opts queue.Options) (queue.Handle, error)
	Cancel(ctx context.Context, h queue.Handle) (bool, error)
}

// CreateInput is a validated-at-the-edge request to schedule a reminder.
type CreateInput struct {
	UserID     string
	Title      string
	Notes      *string
	Category   *string
	Channel    domain.Channel
	DueAt      time.Time
	Recurrence *string
	Timezone   string
	Metadata   map[string]any
}

type FromTextInput struct {
	UserID   string
	Text     string
	Timezone string
	Channel  *domain.Channel
}

type Service interface {
	Parse(ctx context.Context, text, tz string) domain.ParseOutput
	Create(ctx context.Context, in CreateInput) (*domain.Reminder, error)
	CreateFromText(ctx context.Context, in FromTextInput) (*domain.Reminder, *domain.ParseOutput, error)
	Snooze(ctx context.Context, reminderID string, minutes int) (*domain.Reminder, error)
	Complete(ctx context.Context, reminderID string) (*domain.Reminder, error)
	Cancel(ctx context.Context, reminderID string) (*domain.Reminder, error)
	Get(ctx context.Context, reminderID string) (*domain.Reminder, error)
	List(ctx context.Context, userID string, f domain.ReminderFilter) ([]domain.Reminder, error)
	// Advance is the handler of recur jobs.
	Advance(ctx context.Context, job *queue.Job) error
}

// Config carries the scheduling knobs of the lifecycle.
type Config struct {
	MaxAttempts     int
	BackoffDelay    time.Duration
	RecurInterval   time.Duration
	RecurStaleAfter time.Duration
}

type ServiceDeps struct {
	Reminders     reminderStore
	Notifications notificationStore
	Queue         jobQueue
	Parser        textParser
	Config        Config
	Log           zerolog.Logger
	Now           func() time.Time
}

type service struct {
	reminders     reminderStore
	notifications notificationStore
	queue         jobQueue
	parser        textParser
	cfg           Config
	log           zerolog.Logger
	now           func() time.Time
}

func NewService(d ServiceDeps) Service {
	cfg := d.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = queue.DefaultMaxAttempts
	}
	if cfg.BackoffDelay <= 0 {
		cfg.BackoffDelay = queue.DefaultBackoffDelay
	}
	if cfg.RecurInterval <= 0 {
		cfg.RecurInterval = time.Minute
	}
	if cfg.RecurStaleAfter <= 0 {
		cfg.RecurStaleAfter = time.Hour
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		reminders:     d.Reminders,
		notifications: d.Notifications,
		queue:         d.Queue,
		parser:        d.Parser,
		cfg:           cfg,
		log:           d.Log,
		now:           now,
	}
}

func (s *service) Parse(ctx context.Context, text, tz string) domain.ParseOutput {
	return s.parser.Parse(ctx, text, tz)
}

func (s *service) Create(ctx context.Context, in CreateInput) (*domain.Reminder, error) {
	rem, err := s.newReminder(in)
	if err != nil {
		return nil, err
	}
	if err := s.reminders.Create(ctx, rem); err != nil {
		return nil, fmt.Errorf("persist reminder: %w: %w", domain.ErrUnavailable, err)
	}

	n := s.newNotification(rem, rem.DueAt)
	if err := s.notifications.Create(ctx, n); err != nil {
		s.compensateCreate(ctx, rem, nil, false)
		return nil, fmt.Errorf("persist notification: %w: %w", domain.ErrUnavailable, err)
	}
	if err := s.enqueueNotify(ctx, n); err != nil {
		s.compensateCreate(ctx, rem, n, false)
		return nil, fmt.Errorf("enqueue notification: %w: %w", domain.ErrUnavailable, err)
	}
	if rem.Recurrence != nil {
		if err := s.armRecur(ctx, rem.ReminderID); err != nil {
			s.compensateCreate(ctx, rem, n, true)
			return nil, fmt.Errorf("arm recurrence: %w: %w", domain.ErrUnavailable, err)
		}
	}
	if err := s.reminders.Transition(ctx, rem.ReminderID, domain.ReminderActive, domain.ReminderQueued); err != nil {
		s.compensateCreate(ctx, rem, n, true)
		return nil, fmt.Errorf("activate reminder: %w: %w", domain.ErrUnavailable, err)
	}

	rem.Status = domain.ReminderActive
	s.log.Info().Str("reminder_id", rem.ReminderID).Str("notification_id", n.NotificationID).
		Time("due_at", rem.DueAt).Str("channel", string(rem.Channel)).Msg("reminder scheduled")
	return rem, nil
}

func (s *service) newReminder(in CreateInput) (*domain.Reminder, error) {
	title := strings.TrimSpace(in.Title)
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return nil, fmt.Errorf("owner is required: %w", domain.ErrValidation)
	case title == "":
		return nil, fmt.Errorf("title is required: %w", domain.ErrValidation)
	case in.DueAt.IsZero():
		return nil, fmt.Errorf("due time is required: %w", domain.ErrValidation)
	}
	ch := in.Channel
	if ch == "" {
		ch = domain.ChannelEmail
	}
	ch, err := domain.ParseChannel(string(ch))
	if err != nil {
		return nil, err
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, domain.ErrValidation)
	}
	var rule *string
	anchor := 0
	if in.Recurrence != nil && strings.TrimSpace(*in.Recurrence) != "" {
		expr := strings.TrimSpace(*in.Recurrence)
		if _, err := recurrence.Parse(expr, loc); err != nil {
			return nil, fmt.Errorf("%v: %w", err, domain.ErrValidation)
		}
		rule = &expr
		anchor = in.DueAt.In(loc).Day()
	}

	now := s.now().UTC()
	return &domain.Reminder{
		ReminderID: id.New(),
		UserID:     in.UserID,
		Title:      title,
		Notes:      in.Notes,
		Category:   in.Category,
		Channel:    ch,
		Status:     domain.ReminderQueued,
		// Stored at second resolution; the dispatch guard compares it with the notification's schedule.
		DueAt:      in.DueAt.UTC().Truncate(time.Second),
		Recurrence: rule,
		AnchorDay:  anchor,
		Timezone:   tz,
		Metadata:   in.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// compensateCreate undoes a partial Create. The reminder always ends CANCELED.
func (s *service) compensateCreate(ctx context.Context, rem *domain.Reminder, n *domain.Notification, jobQueued bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	log := s.log.With().Str("reminder_id", rem.ReminderID).Logger()

	if n != nil {
		if jobQueued {
			if _, err := s.queue.Cancel(cctx, queue.Handle{ID: n.NotificationID, Topic: domain.TopicNotify}); err != nil {
				log.Warn().Err(err).Msg("compensate: cancel notify job")
			}
		}
		if err := s.notifications.Cancel(cctx, n.NotificationID); err != nil && !errors.Is(err, domain.ErrConflict) {
			log.Warn().Err(err).Msg("compensate: cancel notification")
		}
	}
	if err := s.reminders.Transition(cctx, rem.ReminderID, domain.ReminderCanceled); err != nil {
		log.Error().Err(err).Msg("compensate: cancel reminder")
	}
}

func (s *service) CreateFromText(ctx context.Context, in FromTextInput) (*domain.Reminder, *domain.ParseOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, nil, fmt.Errorf("text is required: %w", domain.ErrValidation)
	}
	out := s.parser.Parse(ctx, in.Text, in.Timezone)
	if out.DueAt == nil {
		return nil, &out, fmt.Errorf("no date or time found in text: %w", domain.ErrValidation)
	}
	ch := domain.ChannelEmail
	switch {
	case in.Channel != nil:
		ch = *in.Channel
	case out.Channel != nil:
		ch = *out.Channel
	}
	rem, err := s.Create(ctx, CreateInput{
		UserID:     in.UserID,
		Title:      out.Title,
		Notes:      out.Notes,
		Category:   out.Category,
		Channel:    ch,
		DueAt:      *out.DueAt,
		Recurrence: out.Recurrence,
		Timezone:   in.Timezone,
		Metadata: map[string]any{
			"source":     "text",
			"text":       in.Text,
			"confidence": out.Confidence,
		},
	})
	if err != nil {
		return nil, &out, err
	}
	return rem, &out, nil
}

func (s *service) Snooze(ctx context.Context, reminderID string, minutes int) (*domain.Reminder, error) {
	if minutes < MinSnoozeMinutes || minutes > MaxSnoozeMinutes {
		return nil, fmt.Errorf("snooze minutes must be within %d..%d: %w", MinSnoozeMinutes, MaxSnoozeMinutes, domain.ErrValidation)
	}
	rem, err := s.reminders.Get(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	if rem.Status == domain.ReminderCanceled {
		return nil, fmt.Errorf("reminder %s is canceled: %w", reminderID, domain.ErrConflict)
	}
	prevStatus := rem.Status
	due := s.now().UTC().Add(time.Duration(minutes) * time.Minute).Truncate(time.Second)

	n := s.newNotification(rem, due)
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w: %w", domain.ErrUnavailable, err)
	}
	if err := s.enqueueNotify(ctx, n); err != nil {
		s.discardNotification(ctx, n, false)
		return nil, fmt.Errorf("enqueue notification: %w: %w", domain.ErrUnavailable, err)
	}
	err = s.reminders.Reschedule(ctx, reminderID, rem.DueAt, due, domain.ReminderActive,
		domain.ReminderQueued, domain.ReminderActive, domain.ReminderPaused, domain.ReminderDone)
	if err != nil {
		s.discardNotification(ctx, n, true)
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("reminder %s changed concurrently: %w", reminderID, err)
		}
		return nil, fmt.Errorf("reschedule reminder: %w: %w", domain.ErrUnavailable, err)
	}

	if err := s.settle(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("reminder_id", reminderID).Msg("snooze: superseded notifications left pending")
	}
	// A recurring reminder revived from DONE or PAUSED lost its check chain.
	if rem.Recurrence != nil && prevStatus != domain.ReminderActive && prevStatus != domain.ReminderQueued {
		if err := s.armRecur(ctx, reminderID); err != nil {
			s.log.Warn().Err(err).Str("reminder_id", reminderID).Msg("snooze: re-arm recurrence")
		}
	}

	rem.DueAt = due
	rem.Status = domain.ReminderActive
	rem.UpdatedAt = s.now().UTC()
	s.log.Info().Str("reminder_id", reminderID).Int("minutes", minutes).Time("due_at", due).Msg("reminder snoozed")
	return rem, nil
}

// discardNotification rolls back a notification that never became live.
func (s *service) discardNotification(ctx context.Context, n *domain.Notification, jobQueued bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if jobQueued {
		if _, err := s.queue.Cancel(cctx, queue.Handle{ID: n.NotificationID, Topic: domain.TopicNotify}); err != nil {
			s.log.Warn().Err(err).Str("notification_id", n.NotificationID).Msg("discard: cancel notify job")
		}
	}
	if err := s.notifications.Cancel(cctx, n.NotificationID); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.log.Warn().Err(err).Str("notification_id", n.NotificationID).Msg("discard: cancel notification")
	}
}

func (s *service) Complete(ctx context.Context, reminderID string) (*domain.Reminder, error) {
	return s.finish(ctx, reminderID, domain.ReminderDone)
}

func (s *service) Cancel(ctx context.Context, reminderID string) (*domain.Reminder, error) {
	return s.finish(ctx, reminderID, domain.ReminderCanceled)
}

// finish moves a reminder to a terminal status and cancels whatever is still
// pending. Repeating it is harmless: pending work is swept on every call.
func (s *service) finish(ctx context.Context, reminderID string, to domain.ReminderStatus) (*domain.Reminder, error) {
	rem, err := s.reminders.Get(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	if rem.Status == domain.ReminderCanceled && to != domain.ReminderCanceled {
		return nil, fmt.Errorf("reminder %s is canceled: %w", reminderID, domain.ErrConflict)
	}
	if rem.Status != to {
		from := []domain.ReminderStatus{domain.ReminderQueued, domain.ReminderActive, domain.ReminderPaused}
		if to == domain.ReminderCanceled {
			from = append(from, domain.ReminderDone)
		}
		if err := s.reminders.Transition(ctx, reminderID, to, from...); err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				return nil, fmt.Errorf("update reminder: %w: %w", domain.ErrUnavailable, err)
			}
			// Lost a race; accept it only if the winner reached the same status.
			cur, gerr := s.reminders.Get(ctx, reminderID)
			if gerr != nil {
				return nil, gerr
			}
			if cur.Status != to {
				return nil, fmt.Errorf("reminder %s is %s: %w", reminderID, cur.Status, domain.ErrConflict)
			}
		}
		rem.Status = to
		rem.UpdatedAt = s.now().UTC()
		s.log.Info().Str("reminder_id", reminderID).Str("status", string(to)).Msg("reminder finished")
	}
	pending, err := s.notifications.ListPending(ctx, reminderID)
	if err == nil {
		err = s.cancelPending(ctx, pending, "")
	}
	if err != nil {
		return nil, fmt.Errorf("cancel pending notifications: %w: %w", domain.ErrUnavailable, err)
	}
	return rem, nil
}

// settle runs after own became the reminder's current notification. It lists
// the pending notifications before reading the reminder, so only the one
// scheduled at the latest due time survives. When a concurrent re-arm swept
// own while the reminder still points at it, a replacement is armed.
func (s *service) settle(ctx context.Context, own *domain.Notification) error {
	pending, err := s.notifications.ListPending(ctx, own.ReminderID)
	if err != nil {
		return err
	}
	rem, err := s.reminders.Get(ctx, own.ReminderID)
	if err != nil {
		return err
	}
	live := rem.Status == domain.ReminderActive
	keep := ""
	if live {
		for _, n := range pending {
			// Ties go to the newest ID so concurrent settles agree.
			if n.ScheduledAt.Equal(rem.DueAt) && n.NotificationID > keep {
				keep = n.NotificationID
			}
		}
	}
	errs := []error{s.cancelPending(ctx, pending, keep)}
	if live && keep == "" && own.ScheduledAt.Equal(rem.DueAt) {
		n := s.newNotification(rem, rem.DueAt)
		if err := s.notifications.Create(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("replace swept notification: %w", err))
		} else if err := s.enqueueNotify(ctx, n); err != nil {
			s.discardNotification(ctx, n, false)
			errs = append(errs, fmt.Errorf("enqueue replacement notification: %w", err))
		} else {
			s.log.Info().Str("reminder_id", rem.ReminderID).Str("notification_id", n.NotificationID).
				Msg("re-armed notification swept by a concurrent update")
		}
	}
	return errors.Join(errs...)
}

// cancelPending cancels the given PENDING notifications except keep, together
// with their waiting jobs.
func (s *service) cancelPending(ctx context.Context, pending []domain.Notification, keep string) error {
	var errs []error
	for _, n := range pending {
		if n.NotificationID == keep {
			continue
		}
		if err := s.notifications.Cancel(ctx, n.NotificationID); err != nil && !errors.Is(err, domain.ErrConflict) {
			errs = append(errs, err)
			continue
		}
		if _, err := s.queue.Cancel(ctx, queue.Handle{ID: n.NotificationID, Topic: domain.TopicNotify}); err != nil {
			// The worker's stale-fire guard discards the job if it still runs.
			s.log.Warn().Err(err).Str("notification_id", n.NotificationID).Msg("cancel notify job")
		}
	}
	return errors.Join(errs...)
}

func (s *service) Get(ctx context.Context, reminderID string) (*domain.Reminder, error) {
	return s.reminders.Get(ctx, reminderID)
}

func (s *service) List(ctx context.Context, userID string, f domain.ReminderFilter) ([]domain.Reminder, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("owner is required: %w", domain.ErrValidation)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("'to' is before 'from': %w", domain.ErrValidation)
	}
	return s.reminders.ListByOwner(ctx, userID, f)
}

func (s *service) newNotification(rem *domain.Reminder, at time.Time) *domain.Notification {
	now := s.now().UTC()
	return &domain.Notification{
		NotificationID: id.New(),
		ReminderID:     rem.ReminderID,
		ScheduledAt:    at,
		Channel:        rem.Channel,
		Status:         domain.NotificationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *service) enqueueNotify(ctx context.Context, n *domain.Notification) error {
	payload, err := json.Marshal(domain.DispatchPayload{ReminderID: n.ReminderID, NotificationID: n.NotificationID})
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, domain.TopicNotify, payload, queue.Options{
		Delay:       max(0, n.ScheduledAt.Sub(s.now())),
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     queue.Backoff{Type: queue.BackoffExponential, Delay: s.cfg.BackoffDelay},
		JobID:       n.NotificationID,
	})
	return err
}

func (s *service) armRecur(ctx context.Context, reminderID string) error {
	payload, err := json.Marshal(domain.AdvancePayload{ReminderID: reminderID})
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, domain.TopicRecur, payload, queue.Options{
		Delay:       s.cfg.RecurInterval,
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     queue.Backoff{Type: queue.BackoffExponential, Delay: s.cfg.BackoffDelay},
	})
	return err
}
