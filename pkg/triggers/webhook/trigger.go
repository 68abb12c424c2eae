// Package webhook provides the HTTP webhook trigger with centralized server
// management: all webhook triggers share one listener and route by path.
package webhook

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fluxway/fluxway/pkg/protocol"
)

type Trigger struct {
	DefinitionID string
	Path         string
	Method       string
	Enabled      bool

	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	definitionID, _ := config["definition_id"].(string)

	path, ok := config["path"].(string)
	if !ok {
		path = "/webhook"
	}

	method, ok := config["method"].(string)
	if !ok {
		method = "POST"
	}

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		DefinitionID: definitionID,
		Path:         path,
		Method:       method,
		Enabled:      enabled,
		logger: logger.With(
			"module", "webhook_trigger",
			"path", path,
			"method", method,
			"definition_id", definitionID,
		),
	}

	if err := trigger.Validate(context.Background()); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.DefinitionID == "" {
		return errors.New("webhook trigger definition_id is required")
	}

	if t.Path == "" {
		return errors.New("webhook trigger path is required")
	}

	if t.Path[0] != '/' {
		return errors.New("webhook trigger path must start with '/'")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Webhook trigger is disabled")

		return nil
	}

	manager := GetGlobalServerManager()
	if manager == nil {
		return errors.New("webhook server manager not initialized")
	}

	t.logger.InfoContext(ctx, "Starting webhook trigger")
	t.callback = callback

	handler := &Handler{
		DefinitionID: t.DefinitionID,
		Callback:     callback,
		Logger:       t.logger,
	}

	err := manager.RegisterWebhook(t.Path, handler)
	if err != nil {
		return err
	}

	t.logger.InfoContext(ctx, "Webhook trigger started", "path", t.Path)

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping webhook trigger", "path", t.Path)

	manager := GetGlobalServerManager()
	if manager != nil {
		manager.UnregisterWebhook(t.Path)
	}

	return nil
}
