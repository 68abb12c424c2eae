// Package cmd provides common initialization for the fluxway binaries.
package cmd

import (
	"log/slog"

	"github.com/fluxway/fluxway/pkg/executors/httpcall"
	"github.com/fluxway/fluxway/pkg/executors/lognotify"
	"github.com/fluxway/fluxway/pkg/registry"
	"github.com/fluxway/fluxway/pkg/triggers/queue"
	"github.com/fluxway/fluxway/pkg/triggers/schedule"
	"github.com/fluxway/fluxway/pkg/triggers/webhook"
)

// NewRegistry builds the component registry with the native executors and
// trigger listeners registered. Integration steps may carry side effects, so
// they are registered as non-idempotent and never retried automatically.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterExecutor(httpcall.NewFactory("action", true))
	reg.RegisterExecutor(httpcall.NewFactory("integration", false))
	reg.RegisterExecutor(lognotify.NewFactory())

	reg.RegisterTrigger(schedule.NewFactory())
	reg.RegisterTrigger(webhook.NewFactory())
	reg.RegisterTrigger(queue.NewFactory())

	return reg
}
