package web

import (
	"context"
	"errors"

	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func asValidationError(err error) (*graph.ValidationError, bool) {
	var invalid *graph.ValidationError
	ok := errors.As(err, &invalid)

	return invalid, ok
}

// ExecuteWorkflow runs a workflow once with the given trigger data. Step
// failures are reported in the body with a 200.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.executionService.TestRun(c.Context(), services.TestRunRequest{
		WorkflowID:    req.WorkflowID,
		TriggerData:   req.TriggerData,
		TriggerStepID: req.TriggerStepID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// ReceiveEvent feeds an inbound event through trigger matching. An event
// no workflow listens to yields an empty list.
func (h *APIHandlers) ReceiveEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	runs, err := h.executionService.Dispatch(c.Context(), models.Event{
		Type:      req.Type,
		SourceID:  req.SourceID,
		Operation: req.Operation,
		Payload:   req.Payload,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	if runs == nil {
		runs = []*models.ExecutionRun{}
	}

	return c.Status(fiber.StatusAccepted).JSON(RunsResponse{Runs: runs})
}

func (h *APIHandlers) GetWorkflowRuns(c fiber.Ctx) error {
	runs, err := h.executionService.ListRuns(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(RunsResponse{Runs: runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.executionService.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunTrace(c fiber.Ctx) error {
	entries, err := h.executionService.Trace(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(entries)
}

func (h *APIHandlers) ApproveStep(c fiber.Ctx) error {
	return h.decide(c, h.executionService.Approve)
}

func (h *APIHandlers) RejectStep(c fiber.Ctx) error {
	return h.decide(c, h.executionService.Reject)
}

type decideFunc = func(ctx context.Context, runID, stepID string, decision services.Decision) (*models.ExecutionRun, error)

func (h *APIHandlers) decide(c fiber.Ctx, fn decideFunc) error {
	var req DecisionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	run, err := fn(c.Context(), c.Params("id"), c.Params("stepId"), services.Decision{
		Actor:   req.Actor,
		Comment: req.Comment,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}
