// Package persistence provides the data storage abstraction consumed by
// the automation engine. The engine re-resolves its inputs from the
// store at the start of each unit of work; no live in-memory reference
// crosses process boundaries.
package persistence

import (
	"context"
	"time"

	"github.com/zaplet/zaplet/pkg/models"
)

type Persistence interface {
	ConnectionRepository() ConnectionRepository
	AutomationRepository() AutomationRepository
	TriggerRepository() TriggerRepository
	ExecutionRepository() ExecutionRepository
	RetryPolicyRepository() RetryPolicyRepository
	WebhookEventRepository() WebhookEventRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ConnectionRepository stores workspace credential bindings. Secrets are
// written through UpdateSecrets only, so the per-connection refresh path
// stays the single writer.
type ConnectionRepository interface {
	Save(ctx context.Context, connection *models.Connection) error
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*models.Connection, error)
	UpdateSecrets(ctx context.Context, id string, secrets map[string]string) error
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus, lastTestedAt *time.Time) error
}

type AutomationRepository interface {
	Save(ctx context.Context, automation *models.Automation) error
	GetByID(ctx context.Context, id string) (*models.Automation, error)
	ListEnabled(ctx context.Context) ([]*models.Automation, error)
	Delete(ctx context.Context, id string) error
}

type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.Trigger) error
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	ListByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error)
	// UpdateLastRun persists the polling watermark. Implementations must
	// never move it backwards.
	UpdateLastRun(ctx context.Context, id string, lastRunAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.Execution) error
	GetExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ListExecutionsByAutomation(ctx context.Context, automationID string) ([]*models.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status models.ExecutionStatus, finishedAt *time.Time) error

	SaveTask(ctx context.Context, task *models.Task) error
	ListTasksByExecution(ctx context.Context, executionID string) ([]*models.Task, error)
}

type RetryPolicyRepository interface {
	Save(ctx context.Context, policy *models.RetryPolicy) error
	GetByID(ctx context.Context, id string) (*models.RetryPolicy, error)
}

// WebhookEventRepository stores raw inbound deliveries before they are
// processed, keyed by trigger and provider-assigned source id.
type WebhookEventRepository interface {
	Save(ctx context.Context, event *models.WebhookEvent) error
	AttachSource(ctx context.Context, id, sourceID string) error
	MarkProcessed(ctx context.Context, id string) error
	ListUnprocessed(ctx context.Context, triggerID string) ([]*models.WebhookEvent, error)
}
