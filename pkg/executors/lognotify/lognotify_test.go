package lognotify_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxway/fluxway/pkg/executors/lognotify"
	"github.com/fluxway/fluxway/pkg/protocol"
)

func TestExecutor_Execute(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	executor, err := lognotify.NewExecutor(map[string]any{
		"message": "invoice approved",
		"channel": "finance",
	})
	require.NoError(t, err)

	output, err := executor.Execute(context.Background(), protocol.StepContext{Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, true, output["notified"])
	assert.Equal(t, "invoice approved", output["message"])

	logged := buf.String()
	assert.Contains(t, logged, "invoice approved")
	assert.Contains(t, logged, "channel=finance")
}

func TestNewExecutor_RequiresMessage(t *testing.T) {
	t.Parallel()

	_, err := lognotify.NewExecutor(map[string]any{})
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	t.Parallel()

	factory := lognotify.NewFactory()

	assert.Equal(t, "notification", factory.ID())
	assert.True(t, factory.Idempotent())
	assert.NotNil(t, factory.Schema())

	_, err := factory.Create(map[string]any{"message": "hi"})
	require.NoError(t, err)
}
