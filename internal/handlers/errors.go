// Package handlers implements the HTTP endpoints of the renderer.
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"docx-renderer/internal/domain"
	"docx-renderer/internal/infra/logging"
)

func writeError(c *fiber.Ctx, de *domain.Error) error {
	return c.Status(de.Kind.Status()).JSON(de.Response())
}

// ErrorHandler is the app-wide fiber error handler. Every error response
// has the {error, details} shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return writeError(c, de)
	}

	code := fiber.StatusInternalServerError
	msg := err.Error()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg, "request_id", requestID(c))

	return c.Status(code).JSON(domain.ErrorResponse{
		Error:   utils.StatusMessage(code),
		Details: msg,
	})
}
