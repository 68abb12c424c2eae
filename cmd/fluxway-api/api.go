// Package main provides the Fluxway API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"github.com/fluxway/fluxway/pkg/engine"
	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/registry"
	"github.com/fluxway/fluxway/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	engine      *engine.Engine
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
) *API {
	eng := engine.New(logger, reg, store,
		engine.WithEventBus(eventBus),
		engine.WithTracer(tracer),
	)

	return &API{
		logger:      logger,
		persistence: store,
		registry:    reg,
		eventBus:    eventBus,
		engine:      eng,
	}
}

// Start runs the timeout monitor alongside the HTTP server and blocks until
// the server stops.
func (a *API) Start(ctx context.Context, port int) error {
	go a.engine.Monitor().Run(ctx)

	handlers := web.NewAPIHandlers(a.engine, a.persistence, a.registry, a.logger)
	app := web.NewApp(handlers)

	return app.Listen(":" + strconv.Itoa(port))
}
