package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/tour-auth-service/internal/domain"
	apperrors "github.com/spec-kit/tour-auth-service/pkg/util"
)

// RoleAllowed reports whether the user's role is in the allowed set. Pure
// function, no I/O.
func RoleAllowed(user *domain.User, allowed ...domain.Role) bool {
	if user == nil {
		return false
	}
	for _, role := range allowed {
		if user.Role == role {
			return true
		}
	}
	return false
}

// RequireRoles restricts a route to the given roles. It composes strictly
// after Guard.Require, which attaches the resolved user.
func RequireRoles(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		user, ok := CurrentUser(c)
		if !ok {
			return apperrors.NewNoToken()
		}
		if _, exists := allowedSet[user.Role]; !exists {
			return apperrors.NewForbidden("you do not have permission to perform this action")
		}
		return c.Next()
	}
}
