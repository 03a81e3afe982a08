package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-reminders/internal/config"
	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/transport/http/handler"
	appmiddleware "github.com/go-reminders/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds the
// background work of the rate limiters.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.RequestLogger(deps.Log))
	r.Use(chimiddleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(appmiddleware.Metrics(deps.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.Verifier != nil {
		authMw = appmiddleware.Auth(deps.Verifier)
	} else {
		authMw = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"authentication not configured"}`))
			})
		}
	}

	// 5 requests/second, burst of 10 on endpoints that reach the enrichment service.
	parseRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10)

	healthH := handler.NewHealthHandler(deps.Checks)
	remH := handler.NewReminderHandler(deps.Reminders)
	contactH := handler.NewContactHandler(deps.Contacts)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Use(appmiddleware.RequireRole(domain.RoleUser, domain.RoleAdmin))

			r.With(parseRL.Limit).Post("/reminders/parse", remH.Parse)
			r.With(parseRL.Limit).Post("/reminders/from-text", remH.CreateFromText)
			r.Post("/reminders", remH.Create)
			r.Get("/reminders", remH.List)
			r.Get("/reminders/{id}", remH.Get)
			r.Post("/reminders/{id}/snooze", remH.Snooze)
			r.Post("/reminders/{id}/complete", remH.Complete)
			r.Delete("/reminders/{id}", remH.Cancel)

			r.Get("/users/{id}/contact", contactH.Get)
			r.Put("/users/{id}/contact", contactH.Update)
		})
	})

	return r
}
