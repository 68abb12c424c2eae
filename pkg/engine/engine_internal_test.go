package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence/memory"
	"github.com/fluxway/fluxway/pkg/registry"
)

// Terminal executions must leave the run table once persisted, otherwise a
// long-lived engine grows without bound.
func TestTerminalRunsReleasedFromMemory(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := New(logger, registry.NewRegistry(logger), memory.NewPersistence(),
		WithClock(clockwork.NewFakeClock()))

	def := &models.WorkflowDefinition{
		ID:      "wf-release",
		Name:    "run table release",
		Trigger: models.TriggerSpec{Type: models.TriggerTypeManual},
		Steps: []*models.StepSpec{{
			ID:        "gate",
			Type:      models.StepTypeCondition,
			Condition: &models.ConditionConfig{Expression: "true"},
		}},
	}

	_, err := eng.RegisterDefinition(context.Background(), def)
	require.NoError(t, err)

	// A condition-only workflow finishes synchronously inside Trigger.
	executionID, err := eng.Trigger(context.Background(), "wf-release", "test", nil)
	require.NoError(t, err)

	eng.mu.RLock()
	_, resident := eng.runs[executionID]
	eng.mu.RUnlock()

	assert.False(t, resident, "finished execution still resident in the run table")

	exec, err := eng.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
}
