package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-reminders/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// FromTextEnvelope wraps the reminder created from free text together with
// the parser's reading of it.
type FromTextEnvelope struct {
	Reminder *domain.Reminder    `json:"reminder,omitempty"`
	Parse    *domain.ParseOutput `json:"parse,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// ListEnvelope wraps reminder list responses.
type ListEnvelope struct {
	Count int               `json:"count"`
	Data  []domain.Reminder `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}
