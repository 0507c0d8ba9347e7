package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

func Health(startTime time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Seconds(),
		})
	}
}
