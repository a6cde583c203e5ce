// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/flowbase/pkg/fieldmap"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/registry"
	"github.com/dukex/flowbase/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
	registry         *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
		registry:         registry,
	}
}

// Routes mounts every endpoint on the given router.
func (h *APIHandlers) Routes(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/execute", h.ExecuteWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/steps", h.ReplaceSteps)
	w.Delete("/:id/steps", h.ClearSteps)
	w.Post("/:id/triggers", h.ReplaceTriggers)
	w.Delete("/:id/triggers", h.ClearTriggers)
	w.Post("/:id/validate", h.ValidateWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)
	w.Get("/:id/runs", h.GetWorkflowRuns)

	r := router.Group("/runs")
	r.Get("/:id", h.GetRun)
	r.Get("/:id/trace", h.GetRunTrace)
	r.Post("/:id/steps/:stepId/approve", h.ApproveStep)
	r.Post("/:id/steps/:stepId/reject", h.RejectStep)

	router.Post("/events", h.ReceiveEvent)
	router.Get("/actions", h.GetActions)
	router.Post("/field-mappings", h.SuggestFieldMappings)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowbase API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Flowbase API is healthy"
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

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Steps:       req.Steps,
		Connections: req.Connections,
		Triggers:    req.Triggers,
		Layout:      req.Layout,
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), services.UpdateWorkflowRequest{
		Name:        req.Name,
		Description: req.Description,
		Layout:      req.Layout,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ReplaceSteps(c fiber.Ctx) error {
	var req ReplaceStepsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.ReplaceSteps(c.Context(), c.Params("id"), services.ReplaceStepsRequest{
		Steps:       req.Steps,
		Connections: req.Connections,
		Layout:      req.Layout,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ClearSteps(c fiber.Ctx) error {
	updated, err := h.workflowService.ClearSteps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ReplaceTriggers(c fiber.Ctx) error {
	var req ReplaceTriggersRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.ReplaceTriggers(c.Context(), c.Params("id"), req.Triggers)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ClearTriggers(c fiber.Ctx) error {
	updated, err := h.workflowService.ClearTriggers(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// ValidateWorkflow always answers 200 for a readable workflow; problems are
// listed in the body.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Validate(c.Context(), c.Params("id"))
	if err == nil {
		return c.JSON(ValidationResponse{Valid: true, Problems: []graph.Problem{}})
	}

	if invalid, ok := asValidationError(err); ok {
		return c.JSON(ValidationResponse{Valid: false, Problems: invalid.Problems})
	}

	return handleServiceError(c, err)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	activated, err := h.workflowService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(activated)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	deactivated, err := h.workflowService.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(deactivated)
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	return c.JSON(h.registry.Catalog())
}

func (h *APIHandlers) SuggestFieldMappings(c fiber.Ctx) error {
	var req FieldMappingRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(fiber.Map{"mappings": fieldmap.Suggest(req.FormFields, req.DBFields)})
}
