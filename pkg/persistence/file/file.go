// Package file provides file-based persistence: one JSON document per
// definition and per execution under the configured root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
)

const dirPerm = 0o755
const filePerm = 0o644

type Persistence struct {
	root string
	mu   sync.RWMutex
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

func (p *Persistence) definitionsDir() string {
	return filepath.Join(p.root, "definitions")
}

func (p *Persistence) executionsDir() string {
	return filepath.Join(p.root, "executions")
}

func (p *Persistence) SaveDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return writeJSON(filepath.Join(p.definitionsDir(), def.ID+".json"), def)
}

func (p *Persistence) DefinitionByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var def models.WorkflowDefinition
	if err := readJSON(filepath.Join(p.definitionsDir(), id+".json"), &def); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, err
	}

	return &def, nil
}

func (p *Persistence) Definitions(_ context.Context) ([]*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.definitionsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var out []*models.WorkflowDefinition

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var def models.WorkflowDefinition
		if err := readJSON(filepath.Join(p.definitionsDir(), entry.Name()), &def); err != nil {
			return nil, fmt.Errorf("failed to read definition %s: %w", entry.Name(), err)
		}

		out = append(out, &def)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (p *Persistence) DeleteDefinition(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(filepath.Join(p.definitionsDir(), id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return persistence.ErrDefinitionNotFound
	}

	return err
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return writeJSON(filepath.Join(p.executionsDir(), execution.ID+".json"), execution)
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var execution models.Execution
	if err := readJSON(filepath.Join(p.executionsDir(), id+".json"), &execution); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, err
	}

	return &execution, nil
}

func (p *Persistence) ExecutionsByDefinition(_ context.Context, definitionID string) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.executionsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var out []*models.Execution

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var execution models.Execution
		if err := readJSON(filepath.Join(p.executionsDir(), entry.Name()), &execution); err != nil {
			return nil, fmt.Errorf("failed to read execution %s: %w", entry.Name(), err)
		}

		if execution.DefinitionID == definitionID {
			out = append(out, &execution)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}
