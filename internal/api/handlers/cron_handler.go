package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postpilot/internal/automation"
	"github.com/maheshrc27/postpilot/internal/scheduler"
)

// CronHandler exposes the periodic passes as HTTP endpoints so an external
// cron (or a manual curl) can drive them.
type CronHandler struct {
	sweeper *scheduler.Sweeper
	poller  *automation.Poller
}

func NewCronHandler(sweeper *scheduler.Sweeper, poller *automation.Poller) *CronHandler {
	return &CronHandler{sweeper: sweeper, poller: poller}
}

func (h *CronHandler) Sweep(c *fiber.Ctx) error {
	summary, err := h.sweeper.Run(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

func (h *CronHandler) Comments(c *fiber.Ctx) error {
	summary, err := h.poller.Run(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}
