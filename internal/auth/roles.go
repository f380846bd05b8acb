package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-bridge/internal/domain"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// RequireRole ensures the caller holds one of the allowed roles. ADMIN passes every check.
func RequireRole(allowed ...domain.ServiceRole) fiber.Handler {
	allowedSet := make(map[domain.ServiceRole]struct{}, len(allowed)+1)
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}
	allowedSet[domain.ServiceRoleAdmin] = struct{}{}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
