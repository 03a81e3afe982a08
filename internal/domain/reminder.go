package domain

import (
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelChat  Channel = "CHAT"
	ChannelSMS   Channel = "SMS"
)

// ParseChannel accepts the canonical names plus the chat-app aliases used by clients.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EMAIL", "MAIL":
		return ChannelEmail, nil
	case "CHAT", "WHATSAPP", "TELEGRAM":
		return ChannelChat, nil
	case "SMS":
		return ChannelSMS, nil
	}
	return "", fmt.Errorf("unknown channel %q: %w", s, ErrValidation)
}

type ReminderStatus string

const (
	ReminderQueued   ReminderStatus = "QUEUED"
	ReminderActive   ReminderStatus = "ACTIVE"
	ReminderPaused   ReminderStatus = "PAUSED"
	ReminderDone     ReminderStatus = "DONE"
	ReminderCanceled ReminderStatus = "CANCELED"
)

func ParseReminderStatus(s string) (ReminderStatus, error) {
	st := ReminderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case ReminderQueued, ReminderActive, ReminderPaused, ReminderDone, ReminderCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown reminder status %q: %w", s, ErrValidation)
}

// Reminder is a user's intent to be notified once or repeatedly.
// DueAt is always UTC; Timezone is only used for rendering and calendar arithmetic.
type Reminder struct {
	ReminderID string         `json:"id" dynamodbav:"reminder_id"`
	UserID     string         `json:"user_id" dynamodbav:"user_id"`
	Title      string         `json:"title" dynamodbav:"title"`
	Notes      *string        `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	Category   *string        `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Channel    Channel        `json:"channel" dynamodbav:"channel"`
	Status     ReminderStatus `json:"status" dynamodbav:"status"`
	DueAt      time.Time      `json:"due_at" dynamodbav:"due_at,unixtime"`
	Recurrence *string        `json:"recurrence,omitempty" dynamodbav:"recurrence,omitempty"`
	Timezone   string         `json:"tz" dynamodbav:"tz"`
	Metadata   map[string]any `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created" dynamodbav:"created_at"`
	UpdatedAt  time.Time      `json:"updated" dynamodbav:"updated_at"`
	// AnchorDay is the day of month a recurring series started on. Monthly
	// and yearly rules return to it after short months.
	AnchorDay int `json:"-" dynamodbav:"anchor_day,omitempty"`
}

// Terminal reports whether the reminder can no longer fire.
func (r *Reminder) Terminal() bool {
	return r.Status == ReminderDone || r.Status == ReminderCanceled
}

// Location resolves the reminder timezone, falling back to UTC.
func (r *Reminder) Location() *time.Location {
	if loc, err := time.LoadLocation(r.Timezone); err == nil && r.Timezone != "" {
		return loc
	}
	return time.UTC
}

// ReminderFilter narrows List results. Zero values mean "no bound".
type ReminderFilter struct {
	From   *time.Time
	To     *time.Time
	Status *ReminderStatus
}

type CreateReminderRequest struct {
	UserID     string         `json:"userId"`
	Title      string         `json:"title" validate:"required,max=255"`
	Notes      *string        `json:"notes"`
	Category   *string        `json:"category"`
	Channel    *string        `json:"channel" validate:"omitempty,oneof=EMAIL CHAT SMS WHATSAPP email chat sms whatsapp"`
	DueAtISO   string         `json:"dueAtISO" validate:"required"`
	Recurrence *string        `json:"rrule" validate:"omitempty,recurrence"`
	Timezone   string         `json:"tz"`
	Metadata   map[string]any `json:"nlgPayload"`
}

type CreateFromTextRequest struct {
	UserID   string  `json:"userId"`
	Text     string  `json:"text" validate:"required"`
	Timezone string  `json:"tz"`
	Channel  *string `json:"channel" validate:"omitempty,oneof=EMAIL CHAT SMS WHATSAPP email chat sms whatsapp"`
}

type ParseReminderRequest struct {
	Text     string `json:"text" validate:"required"`
	Timezone string `json:"tz"`
}

type SnoozeRequest struct {
	Minutes *int `json:"minutes" validate:"omitempty,min=1,max=10080"`
}
