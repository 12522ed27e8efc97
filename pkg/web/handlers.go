// Package web exposes the outreach control surface over HTTP: workflow
// creation and listing, instance lifecycle, and health.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/scheduler"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/services"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	service   *services.Outreach
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
}

func NewAPIHandlers(service *services.Outreach, reg *registry.Registry, sched *scheduler.Scheduler) *APIHandlers {
	return &APIHandlers{
		service:   service,
		registry:  reg,
		scheduler: sched,
	}
}

// RegisterRoutes mounts all API routes on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Post("/workflows", h.CreateWorkflow)
	app.Get("/workflows", h.GetWorkflows)
	app.Get("/workflows/:id", h.GetWorkflow)
	app.Post("/workflows/:id/run", h.RunWorkflow)

	app.Get("/instances", h.GetInstances)
	app.Get("/instances/:id", h.GetInstance)
	app.Post("/instances/:id/pause", h.PauseInstance)
	app.Post("/instances/:id/resume", h.ResumeInstance)
	app.Post("/instances/:id/cancel", h.CancelInstance)

	if h.scheduler != nil {
		app.Get("/schedules", h.GetSchedules)
		app.Post("/workflows/:id/schedule", h.CreateSchedule)
		app.Delete("/workflows/:id/schedule", h.DeleteSchedule)
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.service.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Outreach API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Outreach API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// CreateWorkflow accepts a raw editor graph payload. The owner comes from
// the query string so the editor never has to rewrite its export format.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Request body is required")
	}

	id, err := h.service.CreateWorkflow(c.Context(), c.Query("owner"), body)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	definitions, err := h.service.Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": definitions})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	definition, err := h.service.Workflow(c.Context(), id)
	if err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	instanceID, err := h.service.Run(c.Context(), id, c.Query("user_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"instance_id": instanceID})
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	filter := services.ListFilter{
		Platform: c.Query("platform"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		filter.Status = &status
	}

	summaries, err := h.service.List(c.Context(), filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"instances": summaries})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	status, err := h.service.Status(c.Context(), id)
	if err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, "Instance not found")
		}

		return internalError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) PauseInstance(c fiber.Ctx) error {
	return h.lifecycle(c, h.service.Pause)
}

func (h *APIHandlers) ResumeInstance(c fiber.Ctx) error {
	return h.lifecycle(c, h.service.Resume)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	return h.lifecycle(c, h.service.Cancel)
}

type createScheduleRequest struct {
	CronExpression string `json:"cron_expression"`
	UserID         string `json:"user_id"`
}

// CreateSchedule registers a recurring run for a workflow definition.
func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req createScheduleRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if req.CronExpression == "" {
		return badRequest(c, "cron_expression is required")
	}

	// The definition must exist before a schedule can point at it.
	if _, err := h.service.Workflow(c.Context(), id); err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	err := h.scheduler.Add(scheduler.Schedule{
		DefinitionID:   id,
		UserID:         req.UserID,
		CronExpression: req.CronExpression,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrScheduleExists) {
			return conflict(c, err.Error())
		}

		return badRequest(c, err.Error())
	}

	return c.SendStatus(fiber.StatusCreated)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	h.scheduler.Remove(id)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetSchedules(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"schedules": h.scheduler.Schedules()})
}

func (h *APIHandlers) lifecycle(c fiber.Ctx, op func(ctx context.Context, instanceID string) error) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	err := op(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}
