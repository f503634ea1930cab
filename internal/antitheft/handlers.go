package antitheft

import (
	"bytes"
	"encoding/json"
	"fmt"

	"backend-safetrack/internal/auth"
	"backend-safetrack/internal/evidence"
	"backend-safetrack/internal/points"

	"github.com/gofiber/fiber/v2"
)

type verifyRequest struct {
	TriggerKeyword string `json:"trigger_keyword"`
}

func RegisterRoutes(r fiber.Router, svc *Service, media *evidence.Registry, authMiddleware fiber.Handler) {
	r.Post("/setup", authMiddleware, func(c *fiber.Ctx) error {
		req := DefaultSetup()
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		cfg, err := svc.Setup(c.UserContext(), auth.OwnerID(c), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(cfg)
	})

	r.Get("/config", authMiddleware, func(c *fiber.Ctx) error {
		cfg, err := svc.Config(c.UserContext(), auth.OwnerID(c))
		if err != nil {
			return err
		}
		return c.JSON(cfg)
	})

	r.Patch("/config", authMiddleware, func(c *fiber.Ctx) error {
		var req UpdateInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		cfg, err := svc.UpdateConfig(c.UserContext(), auth.OwnerID(c), req)
		if err != nil {
			return err
		}
		return c.JSON(cfg)
	})

	r.Post("/verify", authMiddleware, func(c *fiber.Ctx) error {
		var req verifyRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		match, err := svc.VerifyKeyword(c.UserContext(), auth.OwnerID(c), req.TriggerKeyword)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"match": match})
	})

	r.Post("/trigger", authMiddleware, func(c *fiber.Ctx) error {
		var req TriggerInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ev, err := svc.Trigger(c.UserContext(), auth.OwnerID(c), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ev)
	})

	r.Get("/events", authMiddleware, func(c *fiber.Ctx) error {
		events, err := svc.Events(c.UserContext(), auth.OwnerID(c), c.QueryInt("limit", DefaultHistoryLimit))
		if err != nil {
			return err
		}
		return c.JSON(events)
	})

	r.Post("/events/:id/deactivate", authMiddleware, func(c *fiber.Ctx) error {
		ev, err := svc.Deactivate(c.UserContext(), auth.OwnerID(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(ev)
	})

	addLocations := func(c *fiber.Ctx) error {
		batch, err := parsePoints(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		n, err := svc.AddLocations(c.UserContext(), auth.OwnerID(c), c.Params("id"), batch)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": fmt.Sprintf("Added %d locations successfully", n),
			"count":   n,
		})
	}
	// Devices on the older client post one fix at a time to the singular path.
	r.Post("/events/:id/location", authMiddleware, addLocations)
	r.Post("/events/:id/locations", authMiddleware, addLocations)

	r.Post("/events/:id/media", authMiddleware, func(c *fiber.Ctx) error {
		var req evidence.Input
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ev, err := svc.Event(c.UserContext(), auth.OwnerID(c), c.Params("id"))
		if err != nil {
			return err
		}
		rec, err := media.Register(c.UserContext(), ev.ID, req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	})

	r.Get("/events/:id/media", authMiddleware, func(c *fiber.Ctx) error {
		ev, err := svc.Event(c.UserContext(), auth.OwnerID(c), c.Params("id"))
		if err != nil {
			return err
		}
		records, err := media.List(c.UserContext(), ev.ID)
		if err != nil {
			return err
		}
		return c.JSON(records)
	})
}

// parsePoints accepts either a single point object or an array of points.
func parsePoints(body []byte) ([]points.Point, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []points.Point
		err := json.Unmarshal(body, &batch)
		return batch, err
	}
	var p points.Point
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return []points.Point{p}, nil
}
