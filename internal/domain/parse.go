package domain

import "time"

// ParseOutput is the parser's best-effort structured reading of free text.
// It is never persisted.
type ParseOutput struct {
	Title      string     `json:"title"`
	DueAt      *time.Time `json:"dueAtISO,omitempty"`
	Recurrence *string    `json:"rrule,omitempty"`
	Channel    *Channel   `json:"channel,omitempty"`
	Category   *string    `json:"category,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	Confidence float64    `json:"confidence"`
}

// Enrichment is the partial result of the external language-understanding pass.
// Nil fields leave the baseline untouched.
type Enrichment struct {
	Title      *string
	DueAt      *time.Time
	Recurrence *string
	Channel    *Channel
	Category   *string
	Notes      *string
	Confidence *float64
}
