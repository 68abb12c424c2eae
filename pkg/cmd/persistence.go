package cmd

import (
	"fmt"
	"strings"

	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/persistence/file"
	"github.com/fluxway/fluxway/pkg/persistence/memory"
	"github.com/fluxway/fluxway/pkg/persistence/redis"
)

// NewPersistence selects the store from the database URL scheme:
// redis://... for Redis, memory:// for the in-memory store, anything else is
// treated as a filesystem root.
func NewPersistence(databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "redis":
		p, err := redis.NewPersistence(databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis persistence: %w", err))
		}

		return p
	case "memory":
		return memory.NewPersistence()
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
