package http

import (
	"net/http"

	"github.com/go-reminders/internal/application/contact"
	"github.com/go-reminders/internal/application/reminder"
	"github.com/go-reminders/internal/transport/http/handler"
	"github.com/go-reminders/internal/transport/http/middleware"
	"github.com/rs/zerolog"
)

// Deps holds everything the router needs.
type Deps struct {
	Reminders reminder.Service
	Contacts  contact.Service
	// Verifier may be nil in development, in which case every request is
	// rejected as unauthorized.
	Verifier middleware.TokenVerifier
	// Checks are probed by /health-check/ready.
	Checks map[string]handler.CheckFunc
	// Metrics, when set, times every request and is served at /metrics.
	Metrics MetricsRecorder
	Log     zerolog.Logger
}

// MetricsRecorder observes requests and exposes the collected samples.
type MetricsRecorder interface {
	middleware.RequestObserver
	Handler() http.Handler
}
