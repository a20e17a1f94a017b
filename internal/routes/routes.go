package routes

import (
	"log/slog"

	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	securityHandler *handlers.SecurityHandler,
	healthHandler *handlers.HealthHandler,
	sessions middleware.SessionValidator,
	users middleware.UserLookup,
	events middleware.EventRecorder,
	rateLimitConfig middleware.RateLimitConfig,
	logger *slog.Logger,
) {
	router.Get("/health", healthHandler.Health)

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(rateLimitConfig, events, logger)).Post("/auth/login", authHandler.Login)

	// Protected routes - session required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(sessions, logger))

		r.Post("/auth/logout", authHandler.Logout)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(users, "admin"))
			userHandler.RegisterRoutes(r)
			securityHandler.RegisterRoutes(r)
		})
	})
}
