// Package cmd provides shared bootstrap for the zaplet binaries:
// integration registry, persistence, event bus, dedup store and OAuth
// provider wiring.
package cmd

import (
	"log/slog"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/integrations/gmail"
	"github.com/zaplet/zaplet/pkg/integrations/googleforms"
	"github.com/zaplet/zaplet/pkg/integrations/httpbridge"
)

// NewRegistry builds the integration registry with every built-in
// connector registered.
func NewRegistry(logger *slog.Logger) *integration.Registry {
	registry := integration.NewRegistry(logger)

	factories := []integration.Factory{
		&gmail.Factory{},
		&googleforms.Factory{},
		&httpbridge.Factory{},
	}

	for _, factory := range factories {
		err := registry.Register(factory)
		if err != nil {
			panic("failed to register integration " + factory.ID() + ": " + err.Error())
		}
	}

	return registry
}
