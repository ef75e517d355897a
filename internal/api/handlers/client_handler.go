package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/postpilot/internal/service"
	"github.com/maheshrc27/postpilot/internal/transfer"
)

type ClientHandler struct {
	s      service.ClientService
	runner service.CycleRunner
}

func NewClientHandler(s service.ClientService, runner service.CycleRunner) *ClientHandler {
	return &ClientHandler{s: s, runner: runner}
}

func (h *ClientHandler) CreateClient(c *fiber.Ctx) error {
	var req transfer.CreateClientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse json",
		})
	}

	client, err := h.s.Create(c.Context(), &req)
	if err != nil {
		return errorResponse(c, err)
	}
	slog.Info("client created", "client_id", client.ID, "operator", GetOperator(c))
	return c.Status(fiber.StatusCreated).JSON(client)
}

func (h *ClientHandler) GetClient(c *fiber.Ctx) error {
	client, err := h.s.Get(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(client)
}

func (h *ClientHandler) PauseClient(c *fiber.Ctx) error {
	client, err := h.s.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	slog.Info("client paused", "client_id", client.ID, "operator", GetOperator(c))
	return c.JSON(client)
}

func (h *ClientHandler) ResumeClient(c *fiber.Ctx) error {
	client, err := h.s.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	slog.Info("client resumed", "client_id", client.ID, "operator", GetOperator(c))
	return c.JSON(client)
}

func (h *ClientHandler) UpdateSubscription(c *fiber.Ctx) error {
	var update transfer.SubscriptionUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse json",
		})
	}

	client, err := h.s.SetSubscription(c.Context(), c.Params("id"), &update)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(client)
}

// TriggerCycle runs a cycle now and waits for its result.
func (h *ClientHandler) TriggerCycle(c *fiber.Ctx) error {
	res, err := h.runner.RunCycle(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}
