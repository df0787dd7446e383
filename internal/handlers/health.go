package handlers

import (
	"github.com/gofiber/fiber/v2"

	"docx-renderer/internal/domain"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HandleHealth reports that the process is up. It has no dependencies and
// always succeeds.
func HandleHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(HealthResponse{Status: "ok", Service: domain.ServiceName})
}
