package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/tour-auth-service/internal/api/dto"
	"github.com/spec-kit/tour-auth-service/internal/auth"
	"github.com/spec-kit/tour-auth-service/internal/service"
	apperrors "github.com/spec-kit/tour-auth-service/pkg/util"
)

// AuthHandler exposes the credential lifecycle endpoints.
type AuthHandler struct {
	auth      *service.AuthService
	cookieTTL time.Duration
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, cookieTTL time.Duration) *AuthHandler {
	return &AuthHandler{auth: authService, cookieTTL: cookieTTL}
}

// Signup handles POST /api/v1/users/signup.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	user, session, err := h.auth.Signup(c.Context(), service.SignupInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		return err
	}

	body := fiber.Map{"data": fiber.Map{"user": dto.NewUserResponse(user)}}
	if session != nil {
		h.setSessionCookie(c, session.Token)
		body["data"].(fiber.Map)["auth"] = dto.AuthResponse{Token: session.Token, ExpiresAt: session.ExpiresAt}
	}
	return c.Status(http.StatusCreated).JSON(body)
}

// VerifyEmail handles GET /api/v1/users/verifyEmail/:token.
func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	user, err := h.auth.VerifyEmail(c.Context(), c.Params("token"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data":    fiber.Map{"user": dto.NewUserResponse(user)},
		"message": "email verified successfully",
	})
}

// Login handles POST /api/v1/users/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	session, err := h.auth.Login(c.Context(), req.Email, req.Password, c.IP())
	if err != nil {
		return err
	}

	h.setSessionCookie(c, session.Token)
	return c.JSON(sessionBody(session))
}

// Logout handles POST /api/v1/users/logout. The session cookie is replaced
// with an expired placeholder; the token itself remains valid until its TTL
// elapses since there is no server-side revocation list.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookieName,
		Value:    auth.LoggedOutCookieValue,
		Expires:  time.Now().Add(10 * time.Second),
		HTTPOnly: true,
	})
	return c.JSON(fiber.Map{"status": "success"})
}

// ForgotPassword handles POST /api/v1/users/forgotPassword. The response is
// identical whether or not the email belongs to an account.
// ResendVerification handles POST /api/v1/users/resendVerification. The
// response is deliberately the same for unknown and verified accounts.
func (h *AuthHandler) ResendVerification(c *fiber.Ctx) error {
	var req dto.ResendVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.auth.ResendVerification(c.Context(), req.Email, c.IP()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "if that account exists and is unverified, a verification token was sent to its email"})
}

func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req dto.ForgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.auth.ForgotPassword(c.Context(), req.Email, c.IP()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "if that account exists, a reset token was sent to its email"})
}

// ResetPassword handles PATCH /api/v1/users/resetPassword/:token.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	session, err := h.auth.ResetPassword(c.Context(), c.Params("token"), req.Password, req.PasswordConfirm)
	if err != nil {
		return err
	}

	h.setSessionCookie(c, session.Token)
	return c.JSON(sessionBody(session))
}

// ChangePassword handles PATCH /api/v1/users/updateMyPassword. Requires a
// prior guard pass.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user, ok := auth.CurrentUser(c)
	if !ok {
		return apperrors.NewNoToken()
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	session, err := h.auth.ChangePassword(c.Context(), user.ID, req.PasswordCurrent, req.Password, req.PasswordConfirm)
	if err != nil {
		return err
	}

	h.setSessionCookie(c, session.Token)
	return c.JSON(sessionBody(session))
}

// Me handles GET /api/v1/users/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, ok := auth.CurrentUser(c)
	if !ok {
		return apperrors.NewNoToken()
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": dto.NewUserResponse(user)}})
}

func (h *AuthHandler) setSessionCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Expires:  time.Now().Add(h.cookieTTL),
		HTTPOnly: true,
		Secure:   c.Secure() || c.Get("X-Forwarded-Proto") == "https",
	})
}

func sessionBody(session *service.Session) fiber.Map {
	return fiber.Map{
		"data": fiber.Map{
			"user": dto.NewUserResponse(session.User),
			"auth": dto.AuthResponse{Token: session.Token, ExpiresAt: session.ExpiresAt},
		},
	}
}
