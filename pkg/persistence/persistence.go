// Package persistence abstracts storage of workflow definitions and
// execution records.
package persistence

import (
	"context"

	"github.com/fluxway/fluxway/pkg/models"
)

type Persistence interface {
	SaveDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	SaveExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ExecutionsByDefinition(ctx context.Context, definitionID string) ([]*models.Execution, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
