package integration

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/zaplet/zaplet/pkg/models"
)

// Registry maps integration identifiers to service factories. It is an
// explicit value populated once at start-up (pkg/cmd wires the built-in
// connectors) and read-only thereafter except in tests.
type Registry struct {
	logger    *slog.Logger
	factories map[string]Factory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "integration_registry"),
		factories: make(map[string]Factory),
	}
}

// Register binds a factory under its declared identifier.
func (r *Registry) Register(factory Factory) error {
	id := factory.ID()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateIntegration, id)
	}

	r.factories[id] = factory
	r.logger.Info("Registered integration", "integration_id", id)

	return nil
}

// Create resolves an identifier and constructs a service bound to the
// given connection.
func (r *Registry) Create(integrationID string, connection *models.Connection) (Service, error) {
	factory, ok := r.factories[integrationID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntegration, integrationID)
	}

	return factory.Create(connection)
}

// CatalogEntry describes one registered integration for configuration
// surfaces.
type CatalogEntry struct {
	ID          string                       `json:"id"`
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Triggers    map[string]TriggerDescriptor `json:"triggers"`
	Actions     map[string]ActionDescriptor  `json:"actions"`
}

// Catalog lists every registered integration with its declared
// capability maps, sorted by identifier for stable output.
func (r *Registry) Catalog() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(r.factories))

	for id, factory := range r.factories {
		service, err := factory.Create(nil)
		if err != nil {
			r.logger.Warn("Skipping integration in catalog", "integration_id", id, "error", err)

			continue
		}

		entries = append(entries, CatalogEntry{
			ID:          id,
			Name:        factory.Name(),
			Description: factory.Description(),
			Triggers:    service.Triggers(),
			Actions:     service.Actions(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return entries
}
