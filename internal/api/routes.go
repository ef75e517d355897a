// Package api wires the admin HTTP surface.
package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/postpilot/internal/api/handlers"
	"github.com/maheshrc27/postpilot/internal/api/middleware"
)

type Handlers struct {
	Health    *handlers.HealthHandler
	Clients   *handlers.ClientHandler
	Runs      *handlers.RunHandler
	Incidents *handlers.IncidentHandler
}

func Register(app *fiber.App, auth *middleware.AuthMiddleware, h Handlers) {
	app.Get("/health", h.Health.Health)

	api := app.Group("/api")
	api.Use(auth.AuthMiddleware())

	api.Post("/clients", h.Clients.CreateClient)
	api.Get("/clients/:id", h.Clients.GetClient)
	api.Post("/clients/:id/pause", h.Clients.PauseClient)
	api.Post("/clients/:id/resume", h.Clients.ResumeClient)
	api.Put("/clients/:id/subscription", h.Clients.UpdateSubscription)
	api.Post("/clients/:id/cycles", h.Clients.TriggerCycle)

	api.Get("/clients/:id/runs", h.Runs.ListRuns)
	api.Get("/clients/:id/runs/:run_id", h.Runs.GetRun)

	api.Get("/incidents", h.Incidents.ListIncidents)
	api.Post("/incidents/:id/resolve", h.Incidents.ResolveIncident)
}
