// Package registry maps step types to executor factories and trigger types
// to trigger factories. Pure lookup, no execution state.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/protocol"
)

type Registry struct {
	logger            *slog.Logger
	executorFactories map[string]protocol.ExecutorFactory
	triggerFactories  map[string]protocol.TriggerFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:            logger,
		executorFactories: make(map[string]protocol.ExecutorFactory),
		triggerFactories:  make(map[string]protocol.TriggerFactory),
	}
}

// RegisterExecutor installs a factory under its step type. A later
// registration for the same type replaces the earlier one.
func (r *Registry) RegisterExecutor(factory protocol.ExecutorFactory) {
	r.executorFactories[factory.ID()] = factory
}

func (r *Registry) RegisterTrigger(factory protocol.TriggerFactory) {
	r.triggerFactories[factory.ID()] = factory
}

// CreateExecutor builds an executor for the given step type and parameters.
func (r *Registry) CreateExecutor(stepType string, params map[string]any) (protocol.Executor, error) {
	factory, ok := r.executorFactories[stepType]
	if !ok {
		return nil, fmt.Errorf("executor type %q not registered", stepType)
	}

	return factory.Create(params)
}

func (r *Registry) CreateTrigger(triggerType string, config map[string]any) (protocol.Trigger, error) {
	factory, ok := r.triggerFactories[triggerType]
	if !ok {
		return nil, fmt.Errorf("trigger type %q not registered", triggerType)
	}

	return factory.Create(config, r.logger)
}

// SchemaFor returns the JSON schema registered for a step type. Implements
// validation.SchemaResolver.
func (r *Registry) SchemaFor(stepType models.StepType) (map[string]any, bool) {
	factory, ok := r.executorFactories[string(stepType)]
	if !ok {
		return nil, false
	}

	return factory.Schema(), true
}

// Idempotent reports whether the executor registered for a step type may be
// retried automatically. Unknown types are treated as non-idempotent.
func (r *Registry) Idempotent(stepType string) bool {
	factory, ok := r.executorFactories[stepType]
	if !ok {
		return false
	}

	return factory.Idempotent()
}

// ExecutorTypes returns the registered step types in sorted order.
func (r *Registry) ExecutorTypes() []string {
	types := make([]string, 0, len(r.executorFactories))
	for id := range r.executorFactories {
		types = append(types, id)
	}

	sort.Strings(types)

	return types
}

// HealthCheck reports registry contents for the health endpoint.
func (r *Registry) HealthCheck() (map[string]any, bool) {
	return map[string]any{
		"executors": len(r.executorFactories),
		"triggers":  len(r.triggerFactories),
	}, len(r.executorFactories) > 0
}
