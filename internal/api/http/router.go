package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/security-ir-jira/internal/api/http/handlers"
	"github.com/spec-kit/security-ir-jira/internal/auth"
	"github.com/spec-kit/security-ir-jira/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Webhooks    *handlers.WebhooksHandler
	Admin       *handlers.AdminHandler
	WebhookAuth *auth.WebhookAuth
	AdminKey    string
	Metrics     *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if registry := cfg.Metrics.Registry(); registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	webhooks := app.Group("/webhooks")
	if cfg.WebhookAuth != nil {
		webhooks.Use(cfg.WebhookAuth.Handle)
	}
	webhooks.Post("/jira", cfg.Webhooks.Jira)

	if cfg.Admin != nil {
		admin := app.Group("/admin", auth.RequireAPIKey(cfg.AdminKey))
		admin.Post("/cases/:id/resync", cfg.Admin.Resync)
		admin.Get("/cases/:id/link", cfg.Admin.GetLink)
	}
}
