// Package main provides the Fluxway worker: it consumes execution requests
// from the event bus and runs them through the engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/trace"

	"github.com/fluxway/fluxway/pkg/engine"
	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/events"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/registry"
)

type Worker struct {
	id       string
	logger   *slog.Logger
	eventBus eventbus.EventBus
	engine   *engine.Engine
}

func NewWorker(
	id string,
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
) *Worker {
	eng := engine.New(logger, reg, store,
		engine.WithEventBus(eventBus),
		engine.WithTracer(tracer),
	)

	return &Worker{
		id:       id,
		logger:   logger,
		eventBus: eventBus,
		engine:   eng,
	}
}

// Start subscribes to execution requests and blocks until the context is
// cancelled or a termination signal arrives.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.eventBus.Handle(events.ExecutionRequestedEvent, w.handleExecutionRequested)

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	go w.engine.Monitor().Run(ctx)

	w.logger.InfoContext(ctx, "Worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		w.logger.InfoContext(ctx, "Shutting down worker")
	case <-ctx.Done():
	}

	return nil
}

func (w *Worker) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionRequested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	logger := w.logger.With(
		"definition_id", requested.DefinitionID,
		"triggered_by", requested.TriggeredBy,
	)
	logger.InfoContext(ctx, "Execution requested")

	executionID, err := w.engine.Trigger(ctx, requested.DefinitionID, requested.TriggeredBy, requested.TriggerData)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start execution", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Execution started", "execution_id", executionID)

	return nil
}
