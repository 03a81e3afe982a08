package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-reminders/internal/application/contact"
	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/pkg/validate"
)

// ContactHandler handles /users/{id}/contact. The id "me" names the caller.
type ContactHandler struct {
	svc contact.Service
}

func NewContactHandler(svc contact.Service) *ContactHandler { return &ContactHandler{svc: svc} }

func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := ownerFor(r, pathUser(r))
	if err != nil {
		httpError(w, err)
		return
	}
	u, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, err)
		return
	}
	userID, err := ownerFor(r, pathUser(r))
	if err != nil {
		httpError(w, err)
		return
	}
	u, err := h.svc.Update(r.Context(), userID, req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func pathUser(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "me" {
		return id
	}
	return ""
}
