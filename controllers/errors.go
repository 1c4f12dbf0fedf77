package controller

import (
	"bytes"

	"afroboost/apperrors"
	"afroboost/utils"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders every handler error as {detail, kind}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(kind)

	if status >= fiber.StatusInternalServerError {
		utils.LogError("http_"+string(kind), err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
	}

	return c.Status(status).JSON(fiber.Map{
		"detail": apperrors.MessageOf(err),
		"kind":   kind,
	})
}

// parseOptional decodes a body when one was sent.
func parseOptional(c *fiber.Ctx, dst interface{}) error {
	if len(bytes.TrimSpace(c.Body())) == 0 {
		return utils.ValidateStruct(dst)
	}
	return utils.ParseStrict(c, dst)
}
