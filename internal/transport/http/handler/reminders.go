package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-reminders/internal/application/reminder"
	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/pkg/validate"
	"github.com/go-reminders/internal/transport/http/middleware"
)

const defaultSnoozeMinutes = 30

// ReminderHandler handles the reminder endpoints.
type ReminderHandler struct {
	svc reminder.Service
}

func NewReminderHandler(svc reminder.Service) *ReminderHandler { return &ReminderHandler{svc: svc} }

func (h *ReminderHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req domain.ParseReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Parse(r.Context(), req.Text, req.Timezone))
}

func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, err)
		return
	}
	owner, err := ownerFor(r, req.UserID)
	if err != nil {
		httpError(w, err)
		return
	}
	due, err := time.Parse(time.RFC3339, req.DueAtISO)
	if err != nil {
		writeError(w, http.StatusBadRequest, "dueAtISO must be an RFC 3339 timestamp")
		return
	}
	var ch domain.Channel
	if req.Channel != nil {
		if ch, err = domain.ParseChannel(*req.Channel); err != nil {
			httpError(w, err)
			return
		}
	}
	rem, err := h.svc.Create(r.Context(), reminder.CreateInput{
		UserID:     owner,
		Title:      req.Title,
		Notes:      req.Notes,
		Category:   req.Category,
		Channel:    ch,
		DueAt:      due,
		Recurrence: req.Recurrence,
		Timezone:   req.Timezone,
		Metadata:   req.Metadata,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (h *ReminderHandler) CreateFromText(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateFromTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, err)
		return
	}
	owner, err := ownerFor(r, req.UserID)
	if err != nil {
		httpError(w, err)
		return
	}
	in := reminder.FromTextInput{UserID: owner, Text: req.Text, Timezone: req.Timezone}
	if req.Channel != nil {
		ch, err := domain.ParseChannel(*req.Channel)
		if err != nil {
			httpError(w, err)
			return
		}
		in.Channel = &ch
	}
	rem, out, err := h.svc.CreateFromText(r.Context(), in)
	if errors.Is(err, domain.ErrValidation) && out != nil {
		// Echo the parse so the client can show what was understood.
		writeJSON(w, http.StatusBadRequest, FromTextEnvelope{Parse: out, Error: err.Error()})
		return
	}
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromTextEnvelope{Reminder: rem, Parse: out})
}

func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := ownerFor(r, q.Get("userId"))
	if err != nil {
		httpError(w, err)
		return
	}
	var f domain.ReminderFilter
	if f.From, err = queryTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	if f.To, err = queryTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseReminderStatus(s)
		if err != nil {
			httpError(w, err)
			return
		}
		f.Status = &st
	}
	list, err := h.svc.List(r.Context(), owner, f)
	if err != nil {
		httpError(w, err)
		return
	}
	if list == nil {
		list = []domain.Reminder{}
	}
	writeJSON(w, http.StatusOK, ListEnvelope{Count: len(list), Data: list})
}

func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	rem, err := h.authorize(r)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (h *ReminderHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	var req domain.SnoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, err)
		return
	}
	minutes := defaultSnoozeMinutes
	if req.Minutes != nil {
		minutes = *req.Minutes
	}
	if minutes < reminder.MinSnoozeMinutes || minutes > reminder.MaxSnoozeMinutes {
		writeError(w, http.StatusBadRequest, "minutes must be within 1..10080")
		return
	}
	if _, err := h.authorize(r); err != nil {
		httpError(w, err)
		return
	}
	rem, err := h.svc.Snooze(r.Context(), chi.URLParam(r, "id"), minutes)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (h *ReminderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authorize(r); err != nil {
		httpError(w, err)
		return
	}
	rem, err := h.svc.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (h *ReminderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authorize(r); err != nil {
		httpError(w, err)
		return
	}
	rem, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

// authorize loads the reminder named in the path and checks the caller owns it.
func (h *ReminderHandler) authorize(r *http.Request) (*domain.Reminder, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	rem, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if rem.UserID != claims.UserID && claims.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("reminder belongs to another user: %w", domain.ErrForbidden)
	}
	return rem, nil
}

// ownerFor resolves the owner of a request. Only admins may act for someone else.
func ownerFor(r *http.Request, requested string) (string, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return "", domain.ErrUnauthorized
	}
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == claims.UserID {
		return claims.UserID, nil
	}
	if claims.Role != domain.RoleAdmin {
		return "", fmt.Errorf("cannot act for another user: %w", domain.ErrForbidden)
	}
	return requested, nil
}

func queryTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.New("must be an RFC 3339 timestamp")
	}
	return &t, nil
}
