package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/engine"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/sensor"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/store"
)

// Handler bundles the engine with the push-fed sensor sources the device
// posts into and the store used for the crash-recovery probe.
type Handler struct {
	Manager   *engine.Manager
	Location  *sensor.PushLocationSource
	HeartRate *sensor.PushHeartRateSource
	Store     store.Store
}

func RegisterRoutes(r fiber.Router, h *Handler, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var cfg session.Config
		if err := c.BodyParser(&cfg); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ownerID, _ := c.Locals("user_id").(string)
		if ownerID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}

		id, err := h.Manager.Start(cfg, ownerID)
		if err != nil {
			return startError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session_id": id})
	})

	r.Post("/current/locations", authMiddleware, func(c *fiber.Ctx) error {
		var f sensor.Fix
		if err := c.BodyParser(&f); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		accepted := h.Location.Push(f)
		return c.JSON(fiber.Map{"accepted": accepted})
	})

	r.Post("/current/heartrate", authMiddleware, func(c *fiber.Ctx) error {
		var s sensor.Sample
		if err := c.BodyParser(&s); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		accepted := h.HeartRate.Push(s)
		return c.JSON(fiber.Map{"accepted": accepted})
	})

	r.Post("/current/pause", authMiddleware, func(c *fiber.Ctx) error {
		if err := h.Manager.Pause(); err != nil {
			return stateError(err)
		}
		return c.JSON(fiber.Map{"status": session.StatusPaused})
	})

	r.Post("/current/resume", authMiddleware, func(c *fiber.Ctx) error {
		if err := h.Manager.Resume(); err != nil {
			return stateError(err)
		}
		return c.JSON(fiber.Map{"status": session.StatusActive})
	})

	r.Post("/current/stop", authMiddleware, func(c *fiber.Ctx) error {
		fin, err := h.Manager.Stop(c.Context())
		if err != nil && fin == nil {
			return stateError(err)
		}
		resp := fiber.Map{"session": fin}
		if err != nil {
			// finalize failed but the session is complete in memory;
			// hand it back so the client can retry or export
			resp["finalize_error"] = err.Error()
		}
		return c.JSON(resp)
	})

	r.Get("/current/metrics", func(c *fiber.Ctx) error {
		snap, ok := h.Manager.CurrentMetrics()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no session in progress")
		}
		return c.JSON(snap)
	})

	r.Get("/active", authMiddleware, func(c *fiber.Ctx) error {
		ownerID, _ := c.Locals("user_id").(string)
		recovered, err := h.Store.LoadActive(c.Context(), ownerID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if recovered == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		// the engine never auto-resumes; the client decides what to do
		// with the recovered record
		return c.JSON(recovered)
	})
}

func startError(err error) error {
	switch {
	case errors.Is(err, engine.ErrAlreadyTracking):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, sensor.ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func stateError(err error) error {
	if errors.Is(err, engine.ErrNotTracking) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
