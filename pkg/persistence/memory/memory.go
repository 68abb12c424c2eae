// Package memory provides the in-memory persistence implementation used in
// tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
)

type Persistence struct {
	mu          sync.RWMutex
	definitions map[string]*models.WorkflowDefinition
	executions  map[string]*models.Execution
}

func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		executions:  make(map[string]*models.Execution),
	}
}

func (p *Persistence) SaveDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.definitions[def.ID] = def

	return nil
}

func (p *Persistence) DefinitionByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	def, ok := p.definitions[id]
	if !ok {
		return nil, persistence.ErrDefinitionNotFound
	}

	return def, nil
}

func (p *Persistence) Definitions(_ context.Context) ([]*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.WorkflowDefinition, 0, len(p.definitions))
	for _, def := range p.definitions {
		out = append(out, def)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (p *Persistence) DeleteDefinition(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.definitions[id]; !ok {
		return persistence.ErrDefinitionNotFound
	}

	delete(p.definitions, id)

	return nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.executions[execution.ID] = execution.Clone()

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution.Clone(), nil
}

func (p *Persistence) ExecutionsByDefinition(_ context.Context, definitionID string) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*models.Execution

	for _, execution := range p.executions {
		if execution.DefinitionID == definitionID {
			out = append(out, execution.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
