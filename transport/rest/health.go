package rest

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

type HealthController struct {
	// Ping probes the record store.
	Ping    func(ctx context.Context) error
	Timeout time.Duration
}

func (c *HealthController) InstallTo(app *fiber.App) {
	app.Get("/health", c.serveHealth)
}

func (c *HealthController) serveHealth(ctx *fiber.Ctx) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx.Context(), timeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		requestLog(ctx).WithError(err).Warningln("Health check failed.")
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(map[string]string{
			"status": "unavailable",
		})
	}
	return ctx.JSON(map[string]string{
		"status": "ok",
	})
}
