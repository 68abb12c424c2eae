// Package schedule implements the cron-based trigger listener.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fluxway/fluxway/pkg/protocol"
)

type Trigger struct {
	DefinitionID string
	CronExpr     string
	Enabled      bool

	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	definitionID, _ := config["definition_id"].(string)
	cronExpr, _ := config["cron"].(string)

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		DefinitionID: definitionID,
		CronExpr:     cronExpr,
		Enabled:      enabled,
		logger: logger.With(
			"module", "schedule_trigger",
			"cron", cronExpr,
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
		return errors.New("schedule trigger definition_id is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Schedule trigger is disabled")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting schedule trigger")
	t.callback = callback

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := t.cron.AddFunc(t.CronExpr, t.fire)
	if err != nil {
		return fmt.Errorf("failed to add cron job for definition %s: %w", t.DefinitionID, err)
	}

	t.logger.InfoContext(ctx, "Added cron job", "entry_id", entryID)
	t.cron.Start()

	return nil
}

func (t *Trigger) fire() {
	t.logger.Info("Cron schedule fired")

	triggerData := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"cron":      t.CronExpr,
	}

	go func() {
		err := t.callback(context.Background(), t.DefinitionID, "schedule:"+t.CronExpr, triggerData)
		if err != nil {
			t.logger.Error("Error starting execution for schedule trigger", "error", err)
		}
	}()
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping schedule trigger")

	if t.cron != nil {
		t.cron.Stop()
	}

	return nil
}
