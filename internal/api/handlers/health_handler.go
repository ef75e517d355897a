package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/postpilot/internal/transfer"
)

type SchemaVersioner interface {
	CurrentVersion(ctx context.Context) (int, error)
}

type HealthHandler struct {
	versioner SchemaVersioner
	expected  int
}

func NewHealthHandler(versioner SchemaVersioner, expected int) *HealthHandler {
	return &HealthHandler{versioner: versioner, expected: expected}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	resp := transfer.HealthResponse{Status: "ok", Expected: h.expected}
	version, err := h.versioner.CurrentVersion(c.Context())
	if err != nil {
		resp.Status = "store unavailable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	resp.SchemaVersion = version
	if version != h.expected {
		resp.Status = "schema mismatch"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}
