package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/transfer"
)

type IncidentHandler struct {
	incidents repository.IncidentRepository
}

func NewIncidentHandler(incidents repository.IncidentRepository) *IncidentHandler {
	return &IncidentHandler{incidents: incidents}
}

// ListIncidents filters by ?client_id= or ?open=true.
func (h *IncidentHandler) ListIncidents(c *fiber.Ctx) error {
	var (
		incidents []*models.Incident
		err       error
	)
	if clientID := c.Query("client_id"); clientID != "" {
		incidents, err = h.incidents.ListByClient(c.Context(), clientID, queryLimit(c))
	} else {
		incidents, err = h.incidents.List(c.Context(), c.QueryBool("open", false), queryLimit(c))
	}
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"incidents": incidents})
}

func (h *IncidentHandler) ResolveIncident(c *fiber.Ctx) error {
	var req transfer.ResolveIncidentRequest
	if err := c.BodyParser(&req); err != nil || req.Remediation == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "remediation is required",
		})
	}

	remediation := req.Remediation
	if op := GetOperator(c); op != "" {
		remediation += " (" + op + ")"
	}
	id := c.Params("id")
	resolved, err := h.incidents.Resolve(c.Context(), id, remediation, time.Now().UTC())
	if err != nil {
		return errorResponse(c, err)
	}
	incident, err := h.incidents.GetByID(c.Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	if !resolved {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":    "incident already resolved",
			"incident": incident,
		})
	}
	return c.JSON(incident)
}
