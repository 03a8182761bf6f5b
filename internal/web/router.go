package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cloudsolutiongmbh/contactio/internal/ratelimit"
	"github.com/cloudsolutiongmbh/contactio/internal/web/handlers"
	"github.com/cloudsolutiongmbh/contactio/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	WebhookHandler *handlers.WebhookHandler
	AdminHandler   *handlers.AdminHandler
	AdminTokenHash string
	Limiter        *ratelimit.Limiter
}

// NewRouter wires all routes into a Chi router. The webhook endpoint is
// public and unthrottled: the provider disables subscriptions whose
// notification URL keeps failing. Everything under /admin requires the
// bearer token.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/webhooks/graph", deps.WebhookHandler.HandleValidation)
	r.Post("/webhooks/graph", deps.WebhookHandler.HandleNotifications)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter))
		r.Use(middleware.RequireAPIToken(deps.AdminTokenHash))

		r.Post("/mailboxes/enable", deps.AdminHandler.HandleEnableMailbox)
		r.Post("/mailboxes/{mailboxID}/disable", deps.AdminHandler.HandleDisableMailbox)
		r.Post("/mailboxes/{mailboxID}/delta-sync", deps.AdminHandler.HandleDeltaSync)
		r.Get("/mailboxes", deps.AdminHandler.HandleListMailboxes)

		r.Get("/subscriptions", deps.AdminHandler.HandleListSubscriptions)
		r.Post("/subscriptions/renew", deps.AdminHandler.HandleRenewSubscriptions)

		r.Post("/reconcile", deps.AdminHandler.HandleReconcile)

		r.Get("/tenants/{tenantID}/settings", deps.AdminHandler.HandleGetSettings)
		r.Put("/tenants/{tenantID}/settings", deps.AdminHandler.HandlePutSettings)

		r.Get("/messages", deps.AdminHandler.HandleListMessages)
		r.Get("/consent-url", deps.AdminHandler.HandleConsentURL)
	})

	return r
}
