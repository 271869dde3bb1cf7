package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postpilot/configs"
)

type CronMiddleware struct {
	cfg config.Config
}

func NewCronMiddleware(cfg config.Config) *CronMiddleware {
	return &CronMiddleware{cfg: cfg}
}

// CronMiddleware guards the cron-trigger endpoints with a shared secret
// header. With no secret configured the endpoints are disabled rather than
// left open.
func (m *CronMiddleware) CronMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.cfg.CronSecret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Cron endpoints are not configured",
			})
		}

		secret := c.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(m.cfg.CronSecret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid cron secret",
			})
		}

		return c.Next()
	}
}
