package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/ctdf"
)

// IdentityLocal is the fiber local holding the authenticated ctdf.Identity
const IdentityLocal = "account_identity"

func identityFromContext(c *fiber.Ctx) ctdf.Identity {
	identity, _ := c.Locals(IdentityLocal).(ctdf.Identity)
	return identity
}

func statusForError(err error) int {
	switch ctdf.CodeOf(err) {
	case ctdf.ErrorCodeAuth:
		return fiber.StatusUnauthorized
	case ctdf.ErrorCodeConflict:
		return fiber.StatusConflict
	case ctdf.ErrorCodeNotFound:
		return fiber.StatusNotFound
	case ctdf.ErrorCodeValidation:
		return fiber.StatusBadRequest
	case ctdf.ErrorCodeForbidden:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// sendError writes the error response. Infrastructure failures are logged
// and replaced by fallbackMessage.
func sendError(c *fiber.Ctx, err error, fallbackMessage string) error {
	status := statusForError(err)
	message := err.Error()

	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg(fallbackMessage)
		message = fallbackMessage
	}

	if errors.Is(err, ctdf.ErrConflict) {
		message = "You already have an active trip"
	}

	c.Status(status)
	return c.JSON(fiber.Map{
		"error": message,
		"code":  ctdf.CodeOf(err),
	})
}

func reduceTrip(trip interface{}, groups ...string) (interface{}, error) {
	return sheriff.Marshal(&sheriff.Options{
		Groups: groups,
	}, trip)
}
