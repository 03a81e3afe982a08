package dynamo

// DynamoDB attribute names used in update and condition expressions.
const (
	fieldReminderID        = "reminder_id"
	fieldNotificationID    = "notification_id"
	fieldUserID            = "user_id"
	fieldStatus            = "status"
	fieldDueAt             = "due_at"
	fieldSentAt            = "sent_at"
	fieldProviderMessageID = "provider_message_id"
	fieldError             = "error"
	fieldUpdatedAt         = "updated_at"

	indexUserDue  = "user_id-due_at-index"
	indexReminder = "reminder_id-index"
)
