package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/podbrief/api/internal/model"
	"github.com/podbrief/api/internal/service"
	"github.com/podbrief/api/pkg/response"
)

type WorkflowHandler struct {
	service   *service.WorkflowService
	validator *validator.Validate
}

func NewWorkflowHandler(svc *service.WorkflowService, v *validator.Validate) *WorkflowHandler {
	return &WorkflowHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/workflows/start
func (h *WorkflowHandler) Start(c *fiber.Ctx) error {
	var req model.StartWorkflowRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), model.ObjectRef{
		Bucket:  req.Bucket,
		Key:     req.Key,
		Version: req.Version,
	})
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	if result.Deduplicated {
		return response.OK(c, result)
	}
	return response.Accepted(c, result)
}

// Status handles GET /api/workflows/status/:executionId
func (h *WorkflowHandler) Status(c *fiber.Ctx) error {
	executionID := c.Params("executionId")
	if executionID == "" {
		return response.ValidationError(c, "Execution ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), executionID)
	if err != nil {
		if errors.Is(err, service.ErrExecutionNotFound) {
			return response.NotFound(c, "Execution not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/workflows/result/:executionId
func (h *WorkflowHandler) Result(c *fiber.Ctx) error {
	executionID := c.Params("executionId")
	if executionID == "" {
		return response.ValidationError(c, "Execution ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), executionID)
	if err != nil {
		if errors.Is(err, service.ErrExecutionNotFound) {
			return response.NotFound(c, "Execution not found")
		}
		if errors.Is(err, service.ErrResultNotReady) {
			return response.Conflict(c, response.CodeWorkflowFailed, "Execution has not succeeded")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// History handles GET /api/workflows/history/:executionId
func (h *WorkflowHandler) History(c *fiber.Ctx) error {
	executionID := c.Params("executionId")
	if executionID == "" {
		return response.ValidationError(c, "Execution ID is required", nil)
	}

	result, err := h.service.GetHistory(c.Context(), executionID)
	if err != nil {
		if errors.Is(err, service.ErrExecutionNotFound) {
			return response.NotFound(c, "Execution not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
