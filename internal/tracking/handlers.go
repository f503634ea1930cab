package tracking

import (
	"fmt"

	"backend-safetrack/internal/auth"
	"backend-safetrack/internal/points"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		var req StartInput
		if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		session, err := svc.Start(c.UserContext(), auth.OwnerID(c), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Post("/:id/stop", authMiddleware, func(c *fiber.Ctx) error {
		session, err := svc.Stop(c.UserContext(), auth.OwnerID(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(session)
	})

	r.Post("/:id/points", authMiddleware, func(c *fiber.Ctx) error {
		var batch []points.Point
		if err := c.BodyParser(&batch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		n, err := svc.AddPoints(c.UserContext(), auth.OwnerID(c), c.Params("id"), batch)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": fmt.Sprintf("Added %d points successfully", n),
			"count":   n,
		})
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		sessions, err := svc.List(c.UserContext(), auth.OwnerID(c), c.QueryInt("limit", DefaultListLimit), c.QueryInt("skip", 0))
		if err != nil {
			return err
		}
		return c.JSON(sessions)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		detail, err := svc.Detail(c.UserContext(), auth.OwnerID(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(detail)
	})

	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		var req UpdateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		session, err := svc.Update(c.UserContext(), auth.OwnerID(c), c.Params("id"), req)
		if err != nil {
			return err
		}
		return c.JSON(session)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.UserContext(), auth.OwnerID(c), c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
