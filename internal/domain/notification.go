package domain

import "time"

type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "PENDING"
	NotificationSent     NotificationStatus = "SENT"
	NotificationFailed   NotificationStatus = "FAILED"
	NotificationCanceled NotificationStatus = "CANCELED"
)

// Notification is one concrete delivery attempt for a reminder occurrence.
// NotificationID is also the dispatch job ID in the queue.
type Notification struct {
	NotificationID    string             `json:"id" dynamodbav:"notification_id"`
	ReminderID        string             `json:"reminder_id" dynamodbav:"reminder_id"`
	ScheduledAt       time.Time          `json:"scheduled_at" dynamodbav:"scheduled_at,unixtime"`
	SentAt            *time.Time         `json:"sent_at,omitempty" dynamodbav:"sent_at,omitempty"`
	Channel           Channel            `json:"channel" dynamodbav:"channel"`
	Status            NotificationStatus `json:"status" dynamodbav:"status"`
	ProviderMessageID *string            `json:"provider_message_id,omitempty" dynamodbav:"provider_message_id,omitempty"`
	Error             *string            `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CreatedAt         time.Time          `json:"created" dynamodbav:"created_at"`
	UpdatedAt         time.Time          `json:"updated" dynamodbav:"updated_at"`
}

// DispatchPayload is the body of a notify job.
type DispatchPayload struct {
	ReminderID     string `json:"reminderId"`
	NotificationID string `json:"notificationId"`
}

// AdvancePayload is the body of a recurrence check job.
type AdvancePayload struct {
	ReminderID string `json:"reminderId"`
}

// Queue topics.
const (
	TopicNotify = "notify"
	TopicRecur  = "recur"
)
