package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/tour-auth-service/internal/api/http/handlers"
	"github.com/spec-kit/tour-auth-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health *handlers.HealthHandler
	Auth   *handlers.AuthHandler
	Guard  *auth.Guard
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	users := app.Group("/api/v1/users")
	users.Post("/signup", cfg.Auth.Signup)
	users.Get("/verifyEmail/:token", cfg.Auth.VerifyEmail)
	users.Post("/resendVerification", cfg.Auth.ResendVerification)
	users.Post("/login", cfg.Auth.Login)
	users.Post("/logout", cfg.Auth.Logout)
	users.Post("/forgotPassword", cfg.Auth.ForgotPassword)
	users.Patch("/resetPassword/:token", cfg.Auth.ResetPassword)

	protected := users.Group("", cfg.Guard.Require())
	protected.Patch("/updateMyPassword", cfg.Auth.ChangePassword)
	protected.Get("/me", cfg.Auth.Me)
}
