package middleware

import (
	"strconv"

	"afroboost/apperrors"
	"afroboost/metrics"

	"github.com/gofiber/fiber/v2"
)

// Metrics counts requests per route template and status code.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		code := c.Response().StatusCode()
		if err != nil {
			code = apperrors.HTTPStatus(apperrors.KindOf(err))
		}
		route := c.Route().Path
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		return err
	}
}
