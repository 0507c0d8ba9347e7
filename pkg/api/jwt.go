package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/api/routes"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/identity"
)

// EnsureValidToken is a middleware that will check the validity of our JWT
// and store the verified identity on the request.
func EnsureValidToken(verifier identity.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)

		if authHeader == "" {
			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "Authorization header is required",
				"code":  ctdf.ErrorCodeAuth,
			})
		}

		accountIdentity, err := verifier.Verify(c.UserContext(), authHeader)
		if err != nil {
			if !errors.Is(err, ctdf.ErrAuth) {
				log.Error().Err(err).Msg("Token verification failed")
			}

			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "Invalid auth token",
				"code":  ctdf.ErrorCodeAuth,
			})
		}

		c.Locals(routes.IdentityLocal, accountIdentity)

		return c.Next()
	}
}

// RequireRole rejects authenticated accounts that do not hold role.
// Must run after EnsureValidToken.
func RequireRole(role ctdf.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountIdentity, _ := c.Locals(routes.IdentityLocal).(ctdf.Identity)

		if accountIdentity.Role != role {
			c.SendStatus(fiber.StatusForbidden)
			return c.JSON(fiber.Map{
				"error": "Access denied. " + string(role) + " role required",
				"code":  ctdf.ErrorCodeForbidden,
			})
		}

		return c.Next()
	}
}
