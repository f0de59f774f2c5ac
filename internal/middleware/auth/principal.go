package auth

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/access"
	"github.com/hr-platform/backend/pkg/logger"
)

// Headers set by the identity gateway after it validated the caller.
const (
	HeaderTenantID   = "X-Tenant-ID"
	HeaderUserID     = "X-User-ID"
	HeaderUserRole   = "X-User-Role"
	HeaderEmployeeID = "X-Employee-ID"
)

// PrincipalKey is the locals key the principal is stored under.
const PrincipalKey = "principal"

// Middleware turns the gateway headers into an access.Principal stored in
// the request locals. Requests without a usable identity stop here with 401.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := access.NewPrincipal(
			c.Get(HeaderUserID),
			c.Get(HeaderTenantID),
			c.Get(HeaderUserRole),
			c.Get(HeaderEmployeeID),
		)
		if err != nil {
			logger.Warn("Rejected request without valid identity",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid identity headers",
			})
		}

		c.Locals(PrincipalKey, p)
		return c.Next()
	}
}

func FromCtx(c *fiber.Ctx) (access.Principal, bool) {
	return FromValue(c.Locals(PrincipalKey))
}

// FromValue asserts a locals value, as read from a websocket connection.
func FromValue(v interface{}) (access.Principal, bool) {
	p, ok := v.(access.Principal)
	return p, ok
}
