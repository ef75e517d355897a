package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/postpilot/internal/repository"
)

type RunHandler struct {
	runs  repository.RunRepository
	posts repository.PostRepository
}

func NewRunHandler(runs repository.RunRepository, posts repository.PostRepository) *RunHandler {
	return &RunHandler{runs: runs, posts: posts}
}

func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	runs, err := h.runs.ListByClient(c.Context(), c.Params("id"), queryLimit(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"runs": runs})
}

// GetRun returns the run with its decision trail and posts.
func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	clientID, runID := c.Params("id"), c.Params("run_id")
	run, err := h.runs.GetByID(c.Context(), clientID, runID)
	if err != nil {
		return errorResponse(c, err)
	}
	posts, err := h.posts.ListByRun(c.Context(), clientID, runID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"run": run, "posts": posts})
}
