package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewTrigger(t *testing.T) {
	tests := []struct {
		name        string
		config      map[string]any
		expectError bool
		wantPath    string
		wantMethod  string
	}{
		{
			name: "valid config",
			config: map[string]any{
				"definition_id": "wf-1",
				"path":          "/invoices",
				"method":        "PUT",
			},
			wantPath:   "/invoices",
			wantMethod: "PUT",
		},
		{
			name: "defaults applied",
			config: map[string]any{
				"definition_id": "wf-1",
			},
			wantPath:   "/webhook",
			wantMethod: "POST",
		},
		{
			name: "path without leading slash",
			config: map[string]any{
				"definition_id": "wf-1",
				"path":          "invoices",
			},
			expectError: true,
		},
		{
			name: "missing definition_id",
			config: map[string]any{
				"path": "/invoices",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, err := NewTrigger(tt.config, testLogger())

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, trigger)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, trigger.Path)
			assert.Equal(t, tt.wantMethod, trigger.Method)
			assert.True(t, trigger.Enabled)
		})
	}
}

func TestServerManager_RegisterUnregister(t *testing.T) {
	ResetGlobalManager()
	t.Cleanup(ResetGlobalManager)

	manager := GetServerManager(0, testLogger())
	require.Same(t, manager, GetGlobalServerManager())

	handler := &Handler{DefinitionID: "wf-1", Logger: testLogger()}

	require.NoError(t, manager.RegisterWebhook("/invoices", handler))
	assert.Equal(t, 1, manager.HandlerCount())

	// Registering the same path twice is rejected.
	assert.Error(t, manager.RegisterWebhook("/invoices", handler))

	manager.UnregisterWebhook("/invoices")
	assert.Equal(t, 0, manager.HandlerCount())

	// Unregistering an unknown path is a no-op.
	manager.UnregisterWebhook("/invoices")
}

func TestServerManager_HandleWebhook(t *testing.T) {
	ResetGlobalManager()
	t.Cleanup(ResetGlobalManager)

	manager := GetServerManager(0, testLogger())

	var (
		mu           sync.Mutex
		definitionID string
		triggeredBy  string
		data         map[string]any
	)

	handler := &Handler{
		DefinitionID: "wf-1",
		Logger:       testLogger(),
		Callback: func(_ context.Context, defID, by string, d map[string]any) error {
			mu.Lock()
			defer mu.Unlock()

			definitionID = defID
			triggeredBy = by
			data = d

			return nil
		},
	}

	require.NoError(t, manager.RegisterWebhook("/invoices", handler))

	body := []byte(`{"invoice":"inv-1","amount":120.5}`)
	req := httptest.NewRequest(http.MethodPost, "/invoices?source=billing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	manager.handleWebhook(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var response map[string]any

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "accepted", response["status"])

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return data != nil
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "wf-1", definitionID)
	assert.Equal(t, "webhook:/invoices", triggeredBy)
	assert.Equal(t, http.MethodPost, data["method"])
	assert.Equal(t, "/invoices", data["path"])

	query, ok := data["query"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "billing", query["source"])

	payload, ok := data["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "inv-1", payload["invoice"])
}

func TestServerManager_UnknownPath(t *testing.T) {
	ResetGlobalManager()
	t.Cleanup(ResetGlobalManager)

	manager := GetServerManager(0, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/missing", nil)
	rec := httptest.NewRecorder()

	manager.handleWebhook(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrigger_StartRegistersWithGlobalManager(t *testing.T) {
	ResetGlobalManager()
	t.Cleanup(ResetGlobalManager)

	manager := GetServerManager(0, testLogger())

	trigger, err := NewTrigger(map[string]any{
		"definition_id": "wf-1",
		"path":          "/invoices",
	}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	callback := func(context.Context, string, string, map[string]any) error { return nil }

	require.NoError(t, trigger.Start(ctx, callback))
	assert.Equal(t, 1, manager.HandlerCount())

	require.NoError(t, trigger.Stop(ctx))
	assert.Equal(t, 0, manager.HandlerCount())
}

func TestTrigger_StartWithoutManagerFails(t *testing.T) {
	ResetGlobalManager()
	t.Cleanup(ResetGlobalManager)

	trigger, err := NewTrigger(map[string]any{
		"definition_id": "wf-1",
		"path":          "/invoices",
	}, testLogger())
	require.NoError(t, err)

	err = trigger.Start(context.Background(), func(context.Context, string, string, map[string]any) error {
		return nil
	})
	assert.Error(t, err)
}
