// Package integration defines the capability contract every third-party
// connector implements, and the registry that resolves connectors by
// identifier.
package integration

import (
	"context"
	"net/http"
	"time"

	"github.com/zaplet/zaplet/pkg/models"
)

// FetchFunc pulls raw items from the provider. since is the polling
// watermark (nil on the first run) and limit bounds the batch size.
type FetchFunc func(ctx context.Context, client *http.Client, since *time.Time, limit int) ([]map[string]any, error)

// FilterFunc narrows raw items against the trigger instance config. It
// must be declarative: only fields named by the trigger's ConfigSchema
// may be inspected.
type FilterFunc func(items []map[string]any, config map[string]any) []map[string]any

// NormalizeFunc converts one raw provider item into a canonical Event.
type NormalizeFunc func(raw map[string]any) (*models.Event, error)

// SampleFunc produces a canned event for test-mode webhook triggers.
type SampleFunc func() *models.Event

// TriggerDescriptor declares one trigger capability of a service. The
// function fields are bound at registration time, so a missing operation
// fails at start-up rather than at call time.
type TriggerDescriptor struct {
	Key          string             `json:"key"`
	Name         string             `json:"name"`
	Type         models.TriggerType `json:"type"`
	Testable     bool               `json:"testable"`
	ConfigSchema map[string]any     `json:"config_schema,omitempty"`

	Fetch     FetchFunc     `json:"-"` // poll triggers
	Filter    FilterFunc    `json:"-"`
	Normalize NormalizeFunc `json:"-"`
	Sample    SampleFunc    `json:"-"` // webhook triggers
}

// ActionDescriptor declares one action capability of a service.
// ConfigSchema is a JSON Schema validated against the resolved payload
// before the action is dispatched.
type ActionDescriptor struct {
	Key          string         `json:"key"`
	Name         string         `json:"name"`
	ConfigSchema map[string]any `json:"config_schema,omitempty"`
}

// Service is the polymorphic contract all integrations implement. One
// instance is bound to one connection; implementations re-resolve their
// credentials from the connection at the start of each call.
type Service interface {
	// ID returns the integration identifier, e.g. "gmail".
	ID() string

	// TestConnection performs a minimal authenticated call. Expected
	// auth failures return false, never an error.
	TestConnection(ctx context.Context) bool

	// Connect finishes connection setup (e.g. an OAuth code exchange)
	// and returns a secrets patch to merge into the connection. It must
	// be idempotent under retry.
	Connect(ctx context.Context, config map[string]any, code string) (map[string]string, error)

	// PerformAction executes one step's side effect. The orchestrator
	// owns ordering and retries; a single invocation is synchronous.
	PerformAction(ctx context.Context, actionKey string, payload map[string]any) (map[string]any, error)

	// Triggers and Actions expose the declared capability maps.
	Triggers() map[string]TriggerDescriptor
	Actions() map[string]ActionDescriptor
}

// Factory constructs a service bound to a connection.
type Factory interface {
	ID() string
	Name() string
	Description() string
	Create(connection *models.Connection) (Service, error)
}
