package file

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

const (
	connectionsCollection   = "connections"
	automationsCollection   = "automations"
	triggersCollection      = "triggers"
	executionsCollection    = "executions"
	tasksCollection         = "tasks"
	retryPoliciesCollection = "retry_policies"
	webhookEventsCollection = "webhook_events"
)

type ConnectionRepository struct {
	store *Persistence
}

func (r *ConnectionRepository) Save(_ context.Context, connection *models.Connection) error {
	return r.store.write(connectionsCollection, connection.ID, connection)
}

func (r *ConnectionRepository) GetByID(_ context.Context, id string) (*models.Connection, error) {
	connection := &models.Connection{}

	err := r.store.read(connectionsCollection, id, connection, persistence.ErrConnectionNotFound)
	if err != nil {
		return nil, err
	}

	return connection, nil
}

func (r *ConnectionRepository) ListByWorkspace(_ context.Context, workspaceID string) ([]*models.Connection, error) {
	connections := make([]*models.Connection, 0)

	err := r.store.readAll(connectionsCollection, func(data []byte) error {
		connection := &models.Connection{}
		if err := json.Unmarshal(data, connection); err != nil {
			return fmt.Errorf("failed to unmarshal connection: %w", err)
		}

		if connection.WorkspaceID == workspaceID {
			connections = append(connections, connection)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return connections, nil
}

func (r *ConnectionRepository) UpdateSecrets(ctx context.Context, id string, secrets map[string]string) error {
	connection, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	connection.MergeSecrets(secrets)
	connection.UpdatedAt = time.Now().UTC()

	return r.Save(ctx, connection)
}

func (r *ConnectionRepository) UpdateStatus(
	ctx context.Context,
	id string,
	status models.ConnectionStatus,
	lastTestedAt *time.Time,
) error {
	connection, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	connection.Status = status
	if lastTestedAt != nil {
		connection.LastTestedAt = lastTestedAt
	}

	connection.UpdatedAt = time.Now().UTC()

	return r.Save(ctx, connection)
}

type AutomationRepository struct {
	store *Persistence
}

func (r *AutomationRepository) Save(_ context.Context, automation *models.Automation) error {
	return r.store.write(automationsCollection, automation.ID, automation)
}

func (r *AutomationRepository) GetByID(_ context.Context, id string) (*models.Automation, error) {
	automation := &models.Automation{}

	err := r.store.read(automationsCollection, id, automation, persistence.ErrAutomationNotFound)
	if err != nil {
		return nil, err
	}

	if automation.DeletedAt != nil {
		return nil, persistence.ErrAutomationNotFound
	}

	return automation, nil
}

func (r *AutomationRepository) ListEnabled(_ context.Context) ([]*models.Automation, error) {
	automations := make([]*models.Automation, 0)

	err := r.store.readAll(automationsCollection, func(data []byte) error {
		automation := &models.Automation{}
		if err := json.Unmarshal(data, automation); err != nil {
			return fmt.Errorf("failed to unmarshal automation: %w", err)
		}

		if automation.DeletedAt == nil && automation.Status == models.AutomationStatusEnabled {
			automations = append(automations, automation)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return automations, nil
}

func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	automation, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	automation.DeletedAt = &now

	return r.Save(ctx, automation)
}

type TriggerRepository struct {
	store *Persistence
}

func (r *TriggerRepository) Save(_ context.Context, trigger *models.Trigger) error {
	return r.store.write(triggersCollection, trigger.ID, trigger)
}

func (r *TriggerRepository) GetByID(_ context.Context, id string) (*models.Trigger, error) {
	trigger := &models.Trigger{}

	err := r.store.read(triggersCollection, id, trigger, persistence.ErrTriggerNotFound)
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

func (r *TriggerRepository) ListByType(_ context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	triggers := make([]*models.Trigger, 0)

	err := r.store.readAll(triggersCollection, func(data []byte) error {
		trigger := &models.Trigger{}
		if err := json.Unmarshal(data, trigger); err != nil {
			return fmt.Errorf("failed to unmarshal trigger: %w", err)
		}

		if trigger.Type == triggerType {
			triggers = append(triggers, trigger)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return triggers, nil
}

func (r *TriggerRepository) UpdateLastRun(ctx context.Context, id string, lastRunAt time.Time) error {
	trigger, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if trigger.LastRunAt != nil && lastRunAt.Before(*trigger.LastRunAt) {
		return persistence.NewStoreError("UpdateLastRun", id, persistence.ErrStaleWatermark)
	}

	trigger.LastRunAt = &lastRunAt
	trigger.UpdatedAt = time.Now().UTC()

	return r.Save(ctx, trigger)
}

func (r *TriggerRepository) Delete(_ context.Context, id string) error {
	return r.store.remove(triggersCollection, id, persistence.ErrTriggerNotFound)
}

type ExecutionRepository struct {
	store *Persistence
}

func (r *ExecutionRepository) SaveExecution(_ context.Context, execution *models.Execution) error {
	return r.store.write(executionsCollection, execution.ID, execution)
}

func (r *ExecutionRepository) GetExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	execution := &models.Execution{}

	err := r.store.read(executionsCollection, id, execution, persistence.ErrExecutionNotFound)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) ListExecutionsByAutomation(_ context.Context, automationID string) ([]*models.Execution, error) {
	executions := make([]*models.Execution, 0)

	err := r.store.readAll(executionsCollection, func(data []byte) error {
		execution := &models.Execution{}
		if err := json.Unmarshal(data, execution); err != nil {
			return fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		if execution.AutomationID == automationID {
			executions = append(executions, execution)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return executions, nil
}

func (r *ExecutionRepository) UpdateExecutionStatus(
	ctx context.Context,
	id string,
	status models.ExecutionStatus,
	finishedAt *time.Time,
) error {
	execution, err := r.GetExecutionByID(ctx, id)
	if err != nil {
		return err
	}

	execution.Status = status
	if finishedAt != nil {
		execution.FinishedAt = finishedAt
	}

	return r.SaveExecution(ctx, execution)
}

func (r *ExecutionRepository) SaveTask(_ context.Context, task *models.Task) error {
	return r.store.write(tasksCollection, task.ID, task)
}

func (r *ExecutionRepository) ListTasksByExecution(_ context.Context, executionID string) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0)

	err := r.store.readAll(tasksCollection, func(data []byte) error {
		task := &models.Task{}
		if err := json.Unmarshal(data, task); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}

		if task.ExecutionID == executionID {
			tasks = append(tasks, task)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

type RetryPolicyRepository struct {
	store *Persistence
}

func (r *RetryPolicyRepository) Save(_ context.Context, policy *models.RetryPolicy) error {
	return r.store.write(retryPoliciesCollection, policy.ID, policy)
}

func (r *RetryPolicyRepository) GetByID(_ context.Context, id string) (*models.RetryPolicy, error) {
	policy := &models.RetryPolicy{}

	err := r.store.read(retryPoliciesCollection, id, policy, persistence.ErrRetryPolicyNotFound)
	if err != nil {
		return nil, err
	}

	return policy, nil
}

type WebhookEventRepository struct {
	store *Persistence
}

func (r *WebhookEventRepository) Save(_ context.Context, event *models.WebhookEvent) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate webhook event ID: %w", err)
		}

		event.ID = id.String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	return r.store.write(webhookEventsCollection, event.ID, event)
}

func (r *WebhookEventRepository) AttachSource(ctx context.Context, id, sourceID string) error {
	event := &models.WebhookEvent{}

	err := r.store.read(webhookEventsCollection, id, event, persistence.ErrWebhookEventNotFound)
	if err != nil {
		return err
	}

	event.SourceID = sourceID

	return r.Save(ctx, event)
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id string) error {
	event := &models.WebhookEvent{}

	err := r.store.read(webhookEventsCollection, id, event, persistence.ErrWebhookEventNotFound)
	if err != nil {
		return err
	}

	event.Processed = true

	return r.Save(ctx, event)
}

func (r *WebhookEventRepository) ListUnprocessed(_ context.Context, triggerID string) ([]*models.WebhookEvent, error) {
	events := make([]*models.WebhookEvent, 0)

	err := r.store.readAll(webhookEventsCollection, func(data []byte) error {
		event := &models.WebhookEvent{}
		if err := json.Unmarshal(data, event); err != nil {
			return fmt.Errorf("failed to unmarshal webhook event: %w", err)
		}

		if event.TriggerID == triggerID && !event.Processed {
			events = append(events, event)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}
