package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(app *fiber.App, handler *Handler, adminToken string) {
	// Global middlewares
	app.Use(RequestID())
	app.Use(ErrorHandler())

	// Health checks (no rate limiting)
	app.Get("/health", handler.HealthCheck)
	app.Get("/ready", handler.ReadinessCheck)

	// Prometheus metrics endpoint (no rate limiting)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Swagger documentation (no rate limiting)
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API v1 - rate limited and measured
	v1 := app.Group("/api/v1")
	v1.Use(RateLimiter())
	v1.Use(PrometheusMiddleware())

	// Trade compliance routes
	trades := v1.Group("/trades")
	trades.Post("/", handler.SubmitTrade)
	trades.Get("/", handler.ListTrades)
	trades.Get("/:id", handler.GetTrade)
	trades.Post("/:id/escalate", handler.EscalateTrade)
	trades.Post("/:id/approve", handler.ApproveTrade)
	trades.Post("/:id/reject", handler.RejectTrade)

	// Admin routes
	admin := v1.Group("/admin")
	admin.Use(AdminAuth(adminToken))
	admin.Post("/restricted", handler.AddRestricted)
	admin.Get("/restricted", handler.ListRestricted)
	admin.Delete("/restricted/:symbol", handler.RemoveRestricted)
	admin.Get("/restricted/changelog", handler.RegistryChangelog)
	admin.Get("/audit", handler.QueryAudit)
	admin.Get("/audit/summary", handler.AuditSummary)
	admin.Post("/audit/cleanup", handler.PurgeAudit)
	admin.Get("/stats", handler.GetSystemStats)
	admin.Delete("/cache/:pattern", handler.InvalidateCache)
}
