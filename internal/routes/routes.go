package routes

import (
	"net/http"

	"github.com/BradenHooton/finvault/internal/auth"
	"github.com/BradenHooton/finvault/internal/handlers"
	"github.com/BradenHooton/finvault/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	auditHandler *handlers.AuditHandler,
	tokenValidator auth.TokenValidator,
	loginBurst middleware.RateLimitConfig,
	health http.HandlerFunc,
) {
	router.Get("/health", health)

	router.Route("/api/auth", func(r chi.Router) {
		// Public login steps, behind the per-IP burst guard
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(loginBurst))
			r.Post("/login/start", authHandler.LoginStart)
			r.Post("/login/verify-otp", authHandler.VerifyOTP)
		})

		// Bearer routes
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokenValidator))
			r.Get("/session", authHandler.Session)
			r.Get("/security-events", auditHandler.ListSecurityEvents)
		})
	})
}
