// Package redis provides redis-backed persistence: definitions and
// executions stored as JSON values, with set indexes for listing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
)

const (
	definitionKeyPrefix = "fluxway:definition:"
	definitionIndexKey  = "fluxway:definitions"
	executionKeyPrefix  = "fluxway:execution:"
	executionIndexKey   = "fluxway:executions:by-definition:"
)

type Persistence struct {
	client goredis.UniversalClient
}

// NewPersistence connects using a redis URL ("redis://host:6379/0").
func NewPersistence(url string) (*Persistence, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Persistence{client: goredis.NewClient(opts)}, nil
}

// NewPersistenceWithClient wraps an existing client, mainly for tests.
func NewPersistenceWithClient(client goredis.UniversalClient) *Persistence {
	return &Persistence{client: client}
}

func (p *Persistence) SaveDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, definitionKeyPrefix+def.ID, data, 0)
	pipe.SAdd(ctx, definitionIndexKey, def.ID)

	_, err = pipe.Exec(ctx)

	return err
}

func (p *Persistence) DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	data, err := p.client.Get(ctx, definitionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, err
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}

	return &def, nil
}

func (p *Persistence) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := p.client.SMembers(ctx, definitionIndexKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		def, err := p.DefinitionByID(ctx, id)
		if err != nil {
			if persistence.IsDefinitionNotFound(err) {
				continue
			}

			return nil, err
		}

		out = append(out, def)
	}

	return out, nil
}

func (p *Persistence) DeleteDefinition(ctx context.Context, id string) error {
	removed, err := p.client.Del(ctx, definitionKeyPrefix+id).Result()
	if err != nil {
		return err
	}

	if removed == 0 {
		return persistence.ErrDefinitionNotFound
	}

	return p.client.SRem(ctx, definitionIndexKey, id).Err()
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, executionKeyPrefix+execution.ID, data, 0)
	pipe.SAdd(ctx, executionIndexKey+execution.DefinitionID, execution.ID)

	_, err = pipe.Exec(ctx)

	return err
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	data, err := p.client.Get(ctx, executionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, err
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, err
	}

	return &execution, nil
}

func (p *Persistence) ExecutionsByDefinition(ctx context.Context, definitionID string) ([]*models.Execution, error) {
	ids, err := p.client.SMembers(ctx, executionIndexKey+definitionID).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := p.ExecutionByID(ctx, id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		out = append(out, execution)
	}

	return out, nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}
