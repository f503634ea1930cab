package sharing

import (
	"backend-safetrack/internal/auth"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the share endpoints on the paths group. Resolution
// takes no identity; resolveMiddleware typically rate limits it.
func RegisterRoutes(r fiber.Router, issuer *Issuer, authMiddleware fiber.Handler, resolveMiddleware ...fiber.Handler) {
	r.Post("/:id/share", authMiddleware, func(c *fiber.Ctx) error {
		var req IssueInput
		if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		grant, err := issuer.Issue(c.UserContext(), auth.OwnerID(c), c.Params("id"), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(grant)
	})

	handlers := append(append([]fiber.Handler{}, resolveMiddleware...), func(c *fiber.Ctx) error {
		detail, err := issuer.Resolve(c.UserContext(), c.Params("token"))
		if err != nil {
			return err
		}
		return c.JSON(detail)
	})
	r.Get("/shared/:token", handlers...)
}
