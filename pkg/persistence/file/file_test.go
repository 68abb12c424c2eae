package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/persistence/file"
)

func definition(id string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:      id,
		Name:    "definition " + id,
		Trigger: models.TriggerSpec{Type: models.TriggerTypeManual},
		Steps: []*models.StepSpec{
			{ID: "wait", Type: models.StepTypeDelay,
				Delay: &models.DelayConfig{Duration: models.Duration(time.Minute)}},
		},
	}
}

func TestPersistence_DefinitionRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	def := definition("wf-1")
	require.NoError(t, store.SaveDefinition(ctx, def))

	got, err := store.DefinitionByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.Duration(time.Minute), got.Steps[0].Delay.Duration,
		"durations must survive the JSON round trip")

	_, err = store.DefinitionByID(ctx, "wf-missing")
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestPersistence_DefinitionsListing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	all, err := store.Definitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "empty root lists no definitions")

	require.NoError(t, store.SaveDefinition(ctx, definition("wf-b")))
	require.NoError(t, store.SaveDefinition(ctx, definition("wf-a")))

	all, err = store.Definitions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "wf-a", all[0].ID)
	assert.Equal(t, "wf-b", all[1].ID)
}

func TestPersistence_DeleteDefinition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	require.NoError(t, store.SaveDefinition(ctx, definition("wf-1")))
	require.NoError(t, store.DeleteDefinition(ctx, "wf-1"))

	assert.True(t, persistence.IsDefinitionNotFound(store.DeleteDefinition(ctx, "wf-1")))
}

func TestPersistence_ExecutionRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	store := file.NewPersistence(root)
	now := time.Now().UTC().Truncate(time.Second)

	exec := models.NewExecution("exec-1", definition("wf-1"), "test", map[string]any{"k": "v"}, now)
	exec.Steps["wait"].Status = models.StepStatusCompleted
	exec.AppendLog(now, models.LogLevelInfo, "wait", "done")

	require.NoError(t, store.SaveExecution(ctx, exec))

	got, err := store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, exec.Status, got.Status)
	assert.Equal(t, models.StepStatusCompleted, got.Steps["wait"].Status)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "done", got.Logs[0].Message)

	// One JSON document per execution, atomically written.
	_, err = os.Stat(filepath.Join(root, "executions", "exec-1.json"))
	assert.NoError(t, err)

	_, err = store.ExecutionByID(ctx, "exec-missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestPersistence_ExecutionsByDefinition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	now := time.Now().UTC().Truncate(time.Second)

	first := models.NewExecution("exec-1", definition("wf-1"), "test", nil, now)
	second := models.NewExecution("exec-2", definition("wf-1"), "test", nil, now.Add(time.Minute))
	other := models.NewExecution("exec-3", definition("wf-2"), "test", nil, now)

	require.NoError(t, store.SaveExecution(ctx, second))
	require.NoError(t, store.SaveExecution(ctx, first))
	require.NoError(t, store.SaveExecution(ctx, other))

	byDef, err := store.ExecutionsByDefinition(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, byDef, 2)
	assert.Equal(t, "exec-1", byDef[0].ID)
	assert.Equal(t, "exec-2", byDef[1].ID)
}

func TestPersistence_FileURLPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	store := file.NewPersistence("file://" + root)

	require.NoError(t, store.SaveDefinition(ctx, definition("wf-1")))

	_, err := os.Stat(filepath.Join(root, "definitions", "wf-1.json"))
	assert.NoError(t, err)
}
