package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/podbrief/api/pkg/response"
)

// GatewayAuthMiddleware trusts identity headers set by an upstream gateway
// (ForwardAuth already validated the caller). Only for deployments where the
// service is unreachable except through the gateway.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing gateway identity headers")
		}

		c.Locals("userId", userID)
		c.Locals("email", c.Get("X-User-Email"))
		return c.Next()
	}
}
