// Package main provides the Fluxway trigger service: it hosts the trigger
// listeners of every registered definition and publishes execution requests
// on the event bus when they fire.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/events"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/protocol"
	"github.com/fluxway/fluxway/pkg/registry"
	"github.com/fluxway/fluxway/pkg/triggers/webhook"
)

type TriggerManager struct {
	id          string
	store       persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	webhookPort int

	mu       sync.RWMutex
	running  map[string]protocol.Trigger
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func NewTriggerManager(
	id string,
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	webhookPort int,
) *TriggerManager {
	return &TriggerManager{
		id:          id,
		store:       store,
		registry:    reg,
		eventBus:    eventBus,
		webhookPort: webhookPort,
		running:     make(map[string]protocol.Trigger),
		logger:      logger.With("module", "trigger_manager", "service_id", id),
	}
}

// Start launches a listener per definition and blocks until shutdown.
func (tm *TriggerManager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	tm.cancel = cancel

	tm.logger.InfoContext(ctx, "Starting trigger service")

	definitions, err := tm.store.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}

	manager := webhook.GetServerManager(tm.webhookPort, tm.logger)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start webhook server: %w", err)
	}

	started := 0

	for _, def := range definitions {
		if err := tm.startDefinitionTrigger(ctx, def); err != nil {
			tm.logger.ErrorContext(ctx, "Failed to start trigger",
				"definition_id", def.ID, "error", err)

			continue
		}

		started++
	}

	tm.logger.InfoContext(ctx, "Trigger service started",
		"definitions", len(definitions), "listeners", started)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		tm.logger.InfoContext(ctx, "Shutting down trigger service")
	case <-ctx.Done():
	}

	tm.Stop()

	return nil
}

func (tm *TriggerManager) startDefinitionTrigger(ctx context.Context, def *models.WorkflowDefinition) error {
	config, ok := triggerConfig(def)
	if !ok {
		tm.logger.InfoContext(ctx, "Definition has no listener trigger, skipping",
			"definition_id", def.ID, "trigger_type", def.Trigger.Type)

		return nil
	}

	trigger, err := tm.registry.CreateTrigger(string(def.Trigger.Type), config)
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}

	if err := trigger.Start(ctx, tm.publishRequest); err != nil {
		return fmt.Errorf("failed to start trigger: %w", err)
	}

	tm.mu.Lock()
	tm.running[def.ID] = trigger
	tm.mu.Unlock()

	tm.logger.InfoContext(ctx, "Started trigger",
		"definition_id", def.ID, "trigger_type", def.Trigger.Type)

	return nil
}

// triggerConfig flattens a definition's trigger spec into the registry's
// config map. Manual definitions have no listener.
func triggerConfig(def *models.WorkflowDefinition) (map[string]any, bool) {
	config := map[string]any{"definition_id": def.ID}

	switch def.Trigger.Type {
	case models.TriggerTypeSchedule:
		if def.Trigger.Schedule != nil {
			config["cron"] = def.Trigger.Schedule.Cron
			config["timezone"] = def.Trigger.Schedule.Timezone
		}
	case models.TriggerTypeWebhook:
		if def.Trigger.Webhook != nil {
			config["path"] = def.Trigger.Webhook.Path
			config["method"] = def.Trigger.Webhook.Method
		}
	case models.TriggerTypeEvent:
		if def.Trigger.Event != nil {
			config["name"] = def.Trigger.Event.Name
			config["predicate"] = def.Trigger.Event.Predicate
		}
	case models.TriggerTypeManual:
		return nil, false
	default:
		return nil, false
	}

	return config, true
}

func (tm *TriggerManager) publishRequest(ctx context.Context, definitionID, triggeredBy string, data map[string]any) error {
	logger := tm.logger.With(
		"definition_id", definitionID,
		"triggered_by", triggeredBy,
	)
	logger.InfoContext(ctx, "Trigger fired, publishing execution request")

	event := &events.ExecutionRequested{
		BaseEvent: events.BaseEvent{
			ID:           tm.eventBus.GenerateID(),
			Type:         events.ExecutionRequestedEvent,
			Timestamp:    time.Now().UTC(),
			DefinitionID: definitionID,
		},
		TriggeredBy: triggeredBy,
		TriggerData: data,
	}

	if err := tm.eventBus.Publish(ctx, definitionID, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish execution request", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Published execution request", "event_id", event.ID)

	return nil
}

func (tm *TriggerManager) Stop() {
	if tm.cancel != nil {
		tm.cancel()
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	for definitionID, trigger := range tm.running {
		tm.logger.Info("Stopping trigger", "definition_id", definitionID)

		if err := trigger.Stop(context.Background()); err != nil {
			tm.logger.Error("Error stopping trigger",
				"definition_id", definitionID, "error", err)
		}
	}

	tm.running = make(map[string]protocol.Trigger)
	tm.logger.Info("All triggers stopped")
}
