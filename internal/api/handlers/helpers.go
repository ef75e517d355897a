package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/service"
)

const defaultListLimit = 50

func GetOperator(c *fiber.Ctx) string {
	operator, _ := c.Locals("operator").(string)
	return operator
}

// errorResponse maps service and repository errors onto HTTP statuses.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput):
		status = fiber.StatusBadRequest
	case errors.Is(err, repository.ErrConflict):
		status = fiber.StatusConflict
	}
	if status == fiber.StatusInternalServerError {
		slog.Error("admin request failed", "path", c.Path(), "operator", GetOperator(c), "err", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func queryLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit < 1 {
		return defaultListLimit
	}
	return limit
}
