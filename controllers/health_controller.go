package controller

import (
	"context"
	"time"

	"afroboost/apperrors"

	"github.com/gofiber/fiber/v2"
)

type HealthController struct {
	Ping    func(ctx context.Context) error
	Started time.Time
}

func NewHealthController(ping func(ctx context.Context) error) *HealthController {
	return &HealthController{Ping: ping, Started: time.Now()}
}

func (hc *HealthController) Health(c *fiber.Ctx) error {
	if hc.Ping != nil {
		if err := hc.Ping(c.UserContext()); err != nil {
			return apperrors.Dependency("database unavailable", err)
		}
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(hc.Started).Round(time.Second).String(),
	})
}
