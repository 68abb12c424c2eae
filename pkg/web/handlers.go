package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/fluxway/fluxway/pkg/engine"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/registry"
)

type APIHandlers struct {
	engine    *engine.Engine
	store     persistence.Persistence
	registry  *registry.Registry
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	eng *engine.Engine,
	store persistence.Persistence,
	reg *registry.Registry,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		engine:    eng,
		store:     store,
		registry:  reg,
		validator: validator.New(),
		logger:    logger.With("module", "web"),
	}
}

// NewApp builds the fiber application with all routes registered.
func NewApp(h *APIHandlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "fluxway-api",
	})

	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Fluxway API")
	})

	app.Get("/health", h.HealthCheck)

	app.Post("/definitions", h.RegisterDefinition)
	app.Get("/definitions", h.ListDefinitions)
	app.Get("/definitions/:id", h.GetDefinition)
	app.Delete("/definitions/:id", h.DeleteDefinition)
	app.Post("/definitions/:id/executions", h.StartExecution)
	app.Get("/definitions/:id/executions", h.ListExecutions)

	app.Get("/executions/:id", h.GetExecution)
	app.Post("/executions/:id/cancel", h.CancelExecution)
	app.Post("/executions/:id/steps/:stepID/decision", h.SubmitDecision)

	app.Get("/step-types", h.ListStepTypes)

	return app
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	storeErr := h.store.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && storeErr == nil {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	storeStatus := "ok"
	if storeErr != nil {
		storeStatus = storeErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":    registryCheck,
			"persistence": storeStatus,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) RegisterDefinition(c fiber.Ctx) error {
	var req RegisterDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := h.engine.RegisterDefinition(c.Context(), req.ToDefinition())
	if err != nil {
		return handleEngineError(c, err)
	}

	def, err := h.store.DefinitionByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(def)
}

func (h *APIHandlers) ListDefinitions(c fiber.Ctx) error {
	defs, err := h.store.Definitions(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions": defs,
		"total_count": len(defs),
	})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	def, err := h.store.DefinitionByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	if err := h.store.DeleteDefinition(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req StartExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	executionID, err := h.engine.Trigger(c.Context(), id, triggeredBy, req.Input)
	if err != nil {
		return handleEngineError(c, err)
	}

	execution, err := h.engine.GetExecution(c.Context(), executionID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	executions, err := h.store.ExecutionsByDefinition(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.engine.Cancel(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	execution, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) SubmitDecision(c fiber.Ctx) error {
	executionID := c.Params("id")
	stepID := c.Params("stepID")

	if executionID == "" || stepID == "" {
		return badRequest(c, "Execution ID and step ID are required")
	}

	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.SubmitDecision(c.Context(), executionID, stepID, req.Approver, req.Approved)
	if err != nil {
		return handleEngineError(c, err)
	}

	execution, err := h.engine.GetExecution(c.Context(), executionID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ListStepTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"step_types": h.registry.ExecutorTypes(),
	})
}
