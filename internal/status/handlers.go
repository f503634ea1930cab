package status

import (
	"backend-safetrack/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, agg *Aggregator, authMiddleware fiber.Handler) {
	r.Get("/status", authMiddleware, func(c *fiber.Ctx) error {
		snap, err := agg.Snapshot(c.UserContext(), auth.OwnerID(c))
		if err != nil {
			return err
		}
		return c.JSON(snap)
	})
}
