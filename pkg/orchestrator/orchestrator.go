// Package orchestrator runs automations: it turns one normalized trigger
// event into one execution with ordered tasks, applying dedup, retry
// policies, condition gates, and cancellation at task boundaries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zaplet/zaplet/pkg/dedup"
	"github.com/zaplet/zaplet/pkg/eventbus"
	"github.com/zaplet/zaplet/pkg/events"
	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/otelhelper"
	"github.com/zaplet/zaplet/pkg/persistence"
	"github.com/zaplet/zaplet/pkg/template"
)

// CredentialSource keeps a connection's stored secrets usable: a
// proactive freshen before the token is used and a forced refresh after
// the provider rejected it. The OAuth manager is the production
// implementation.
type CredentialSource interface {
	EnsureFresh(ctx context.Context, connection *models.Connection) error
	ForceRefresh(ctx context.Context, connection *models.Connection) error
}

type Orchestrator struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *integration.Registry
	dedup       dedup.Store
	credentials CredentialSource
	publisher   eventbus.EventPublisher
	sleep       Sleeper
	tracer      trace.Tracer
	workerID    string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(
	logger *slog.Logger,
	store persistence.Persistence,
	registry *integration.Registry,
	dedupStore dedup.Store,
	credentials CredentialSource,
	publisher eventbus.EventPublisher,
	workerID string,
) *Orchestrator {
	return &Orchestrator{
		logger:      logger.With("module", "orchestrator", "worker_id", workerID),
		persistence: store,
		registry:    registry,
		dedup:       dedupStore,
		credentials: credentials,
		publisher:   publisher,
		sleep:       defaultSleeper,
		tracer:      otel.Tracer("orchestrator"),
		workerID:    workerID,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Orchestrate runs one automation for one triggering event. Events for
// non-enabled automations and duplicate deliveries are discarded with a
// nil execution. Runs of the same automation are serialized so step
// side effects never interleave.
func (o *Orchestrator) Orchestrate(ctx context.Context, automationID string, event *models.Event) (*models.Execution, error) {
	logger := o.logger.With("automation_id", automationID, "event_id", event.ID)

	automation, err := o.persistence.AutomationRepository().GetByID(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load automation %s: %w", automationID, err)
	}

	if !automation.AcceptsEvents() {
		logger.InfoContext(ctx, "Discarding event, automation not enabled", "status", automation.Status)

		return nil, nil
	}

	fresh, err := o.dedup.MarkIfNew(ctx, event.DedupKey(automation.ID), dedup.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("dedup check failed: %w", err)
	}

	if !fresh {
		logger.InfoContext(ctx, "Discarding duplicate event", "source_id", event.SourceID)

		return nil, nil
	}

	lock := o.automationLock(automation.ID)
	lock.Lock()
	defer lock.Unlock()

	return o.run(ctx, logger, automation, event)
}

func (o *Orchestrator) run(
	ctx context.Context,
	logger *slog.Logger,
	automation *models.Automation,
	event *models.Event,
) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.run",
		attribute.String(otelhelper.AutomationIDKey, automation.ID),
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.WorkerIDKey, o.workerID),
	)
	defer span.End()

	executions := o.persistence.ExecutionRepository()
	startedAt := time.Now().UTC()

	execution := &models.Execution{
		ID:           "exec-" + uuid.New().String(),
		AutomationID: automation.ID,
		TriggerEvent: event,
		Status:       models.ExecutionStatusPending,
		Attempt:      1,
	}

	err := executions.SaveExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &startedAt

	err = executions.SaveExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to start execution: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	o.publish(ctx, automation.ID, events.ExecutionStarted{
		BaseEvent:   o.baseEvent(events.ExecutionStartedEvent, automation.ID),
		ExecutionID: execution.ID,
	})

	logger = logger.With("execution_id", execution.ID)
	logger.InfoContext(ctx, "Started execution", "steps", len(automation.Steps))

	policy := o.resolveRetryPolicy(ctx, automation)

	steps := make([]*models.Step, len(automation.Steps))
	copy(steps, automation.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	stepOutputs := make(map[string]map[string]any)

	for _, step := range steps {
		halted, err := o.checkCancelled(ctx, logger, execution)
		if err != nil {
			return execution, err
		}

		if halted {
			return execution, nil
		}

		templateData := template.Context(execution, stepOutputs)

		switch step.Kind {
		case models.StepKindCondition:
			proceed, err := o.runConditionStep(ctx, logger, execution, step, templateData)
			if err != nil {
				otelhelper.SetError(span, err)

				return execution, o.fail(ctx, execution, startedAt, err)
			}

			if !proceed {
				logger.InfoContext(ctx, "Condition not met, ending run early", "step_id", step.ID)

				return execution, o.succeed(ctx, execution, startedAt)
			}
		case models.StepKindAction:
			output, err := o.runActionStep(ctx, logger, execution, step, policy, templateData)
			if err != nil {
				otelhelper.SetError(span, err)

				return execution, o.fail(ctx, execution, startedAt, err)
			}

			stepOutputs[step.ID] = output
		default:
			err := fmt.Errorf("unknown step kind %q", step.Kind)
			otelhelper.SetError(span, err)

			return execution, o.fail(ctx, execution, startedAt, err)
		}
	}

	return execution, o.succeed(ctx, execution, startedAt)
}

// checkCancelled honors cancellation at task boundaries: either the
// context was cancelled or an external caller set the stored execution
// status to cancelled.
func (o *Orchestrator) checkCancelled(ctx context.Context, logger *slog.Logger, execution *models.Execution) (bool, error) {
	executions := o.persistence.ExecutionRepository()

	cancelled := ctx.Err() != nil

	if !cancelled {
		stored, err := executions.GetExecutionByID(ctx, execution.ID)
		if err != nil {
			return false, fmt.Errorf("failed to re-read execution: %w", err)
		}

		cancelled = stored.Status == models.ExecutionStatusCancelled
	}

	if !cancelled {
		return false, nil
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.FinishedAt = &now

	err := executions.UpdateExecutionStatus(context.WithoutCancel(ctx), execution.ID, models.ExecutionStatusCancelled, &now)
	if err != nil {
		return true, fmt.Errorf("failed to record cancellation: %w", err)
	}

	logger.InfoContext(ctx, "Execution cancelled at task boundary")

	o.publish(context.WithoutCancel(ctx), execution.AutomationID, events.ExecutionCancelled{
		BaseEvent:   o.baseEvent(events.ExecutionCancelledEvent, execution.AutomationID),
		ExecutionID: execution.ID,
	})

	return true, nil
}

func (o *Orchestrator) runConditionStep(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	step *models.Step,
	templateData map[string]any,
) (bool, error) {
	task := o.newTask(execution.ID, step.ID)
	task.Input = step.Config

	proceed, err := evaluateCondition(step.Config, templateData)

	now := time.Now().UTC()
	task.FinishedAt = &now

	if err != nil {
		task.Status = models.TaskStatusFailed
		task.Error = err.Error()
	} else {
		task.Status = models.TaskStatusSuccess
		task.Output = map[string]any{"result": proceed}
	}

	saveErr := o.persistence.ExecutionRepository().SaveTask(ctx, task)
	if saveErr != nil {
		return false, fmt.Errorf("failed to save condition task: %w", saveErr)
	}

	if err != nil {
		return false, fmt.Errorf("condition step %s failed: %w", step.ID, err)
	}

	logger.InfoContext(ctx, "Evaluated condition step", "step_id", step.ID, "result", proceed)

	return proceed, nil
}

func (o *Orchestrator) runActionStep(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	step *models.Step,
	policy *models.RetryPolicy,
	templateData map[string]any,
) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.step",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.IntegrationIDKey, step.IntegrationID),
		attribute.String(otelhelper.ActionKeyKey, step.ActionName),
	)
	defer span.End()

	task := o.newTask(execution.ID, step.ID)

	err := o.persistence.ExecutionRepository().SaveTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	payload, err := template.RenderMap(step.Config, templateData)
	if err != nil {
		return nil, o.failTask(ctx, execution, task, fmt.Errorf("failed to render step config: %w", err))
	}

	task.Input = payload

	service, connection, descriptor, err := o.resolveAction(ctx, step)
	if err != nil {
		return nil, o.failTask(ctx, execution, task, err)
	}

	err = integration.ValidatePayload(descriptor.ConfigSchema, payload)
	if err != nil {
		// Validation failures are permanent; retrying the same payload
		// cannot succeed.
		return nil, o.failTask(ctx, execution, task, err)
	}

	task.Status = models.TaskStatusRunning

	err = o.persistence.ExecutionRepository().SaveTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to start task: %w", err)
	}

	backoff := backoffFor(policy)

	var (
		output    map[string]any
		refreshed bool
	)

	for attempt := 1; ; attempt++ {
		task.Attempt = attempt

		output, err = service.PerformAction(ctx, step.ActionName, payload)
		if err == nil {
			break
		}

		// A rejected token gets one forced refresh and an immediate
		// retry, outside the retry policy's attempt budget.
		if errors.Is(err, integration.ErrAuthExpired) && !refreshed && o.canRefresh(connection) {
			refreshed = true

			refreshErr := o.credentials.ForceRefresh(ctx, connection)
			if refreshErr == nil {
				logger.InfoContext(ctx, "Token rejected, retrying with refreshed credentials",
					"step_id", step.ID, "connection_id", connection.ID)

				continue
			}

			err = refreshErr
		}

		if !integration.IsRetryable(err) || attempt >= policy.MaxAttempts {
			return nil, o.failTask(ctx, execution, task, fmt.Errorf("action %s failed after %d attempt(s): %w",
				step.ActionName, attempt, err))
		}

		delay, stop := backoff.Next()
		if stop {
			return nil, o.failTask(ctx, execution, task, fmt.Errorf("action %s exhausted backoff: %w", step.ActionName, err))
		}

		logger.WarnContext(ctx, "Action failed, retrying",
			"step_id", step.ID, "attempt", attempt, "delay", delay, "error", err)

		err = o.sleep(ctx, delay)
		if err != nil {
			return nil, o.failTask(ctx, execution, task, fmt.Errorf("retry wait interrupted: %w", err))
		}
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusSuccess
	task.Output = output
	task.FinishedAt = &now

	err = o.persistence.ExecutionRepository().SaveTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	logger.InfoContext(ctx, "Completed action step",
		"step_id", step.ID, "action", step.ActionName, "attempts", task.Attempt)

	o.publish(ctx, execution.AutomationID, events.TaskFinished{
		BaseEvent:   o.baseEvent(events.TaskFinishedEvent, execution.AutomationID),
		ExecutionID: execution.ID,
		TaskID:      task.ID,
		StepID:      step.ID,
		Output:      output,
		DurationMs:  now.Sub(task.CreatedAt).Milliseconds(),
	})

	return output, nil
}

// resolveAction loads the step's connection, freshens its credentials,
// constructs the bound service, and looks up the action descriptor.
func (o *Orchestrator) resolveAction(ctx context.Context, step *models.Step) (integration.Service, *models.Connection, integration.ActionDescriptor, error) {
	var (
		connection *models.Connection
		err        error
	)

	if step.ConnectionID != "" {
		connection, err = o.persistence.ConnectionRepository().GetByID(ctx, step.ConnectionID)
		if err != nil {
			return nil, nil, integration.ActionDescriptor{}, fmt.Errorf("failed to load connection %s: %w", step.ConnectionID, err)
		}
	}

	if o.canRefresh(connection) {
		err = o.credentials.EnsureFresh(ctx, connection)
		if err != nil {
			return nil, nil, integration.ActionDescriptor{}, err
		}
	}

	service, err := o.registry.Create(step.IntegrationID, connection)
	if err != nil {
		return nil, nil, integration.ActionDescriptor{}, err
	}

	descriptor, ok := service.Actions()[step.ActionName]
	if !ok {
		return nil, nil, integration.ActionDescriptor{}, fmt.Errorf("%w: %q on %q",
			integration.ErrUnknownAction, step.ActionName, step.IntegrationID)
	}

	return service, connection, descriptor, nil
}

// canRefresh reports whether the credential source manages this
// connection. API-key connections carry no access token and are left
// alone.
func (o *Orchestrator) canRefresh(connection *models.Connection) bool {
	return o.credentials != nil && connection != nil && connection.AccessToken() != ""
}

func (o *Orchestrator) failTask(ctx context.Context, execution *models.Execution, task *models.Task, cause error) error {
	otelhelper.SetError(trace.SpanFromContext(ctx), cause)

	now := time.Now().UTC()
	task.Status = models.TaskStatusFailed
	task.Error = cause.Error()
	task.FinishedAt = &now

	if task.Attempt == 0 {
		task.Attempt = 1
	}

	err := o.persistence.ExecutionRepository().SaveTask(ctx, task)
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to save failed task", "task_id", task.ID, "error", err)
	}

	o.publish(ctx, execution.AutomationID, events.TaskFailed{
		BaseEvent:   o.baseEvent(events.TaskFailedEvent, execution.AutomationID),
		ExecutionID: execution.ID,
		TaskID:      task.ID,
		StepID:      task.StepID,
		Error:       cause.Error(),
		Attempt:     task.Attempt,
	})

	return cause
}

func (o *Orchestrator) succeed(ctx context.Context, execution *models.Execution, startedAt time.Time) error {
	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusSuccess
	execution.FinishedAt = &now

	err := o.persistence.ExecutionRepository().UpdateExecutionStatus(ctx, execution.ID, models.ExecutionStatusSuccess, &now)
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}

	o.publish(ctx, execution.AutomationID, events.ExecutionCompleted{
		BaseEvent:   o.baseEvent(events.ExecutionCompletedEvent, execution.AutomationID),
		ExecutionID: execution.ID,
		Duration:    now.Sub(startedAt),
	})

	return nil
}

func (o *Orchestrator) fail(ctx context.Context, execution *models.Execution, startedAt time.Time, cause error) error {
	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.FinishedAt = &now

	err := o.persistence.ExecutionRepository().UpdateExecutionStatus(ctx, execution.ID, models.ExecutionStatusFailed, &now)
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to record execution failure", "execution_id", execution.ID, "error", err)
	}

	o.publish(ctx, execution.AutomationID, events.ExecutionFailed{
		BaseEvent:   o.baseEvent(events.ExecutionFailedEvent, execution.AutomationID),
		ExecutionID: execution.ID,
		Error:       cause.Error(),
		Duration:    now.Sub(startedAt),
	})

	return cause
}

// Cancel requests cancellation of a running execution. The running
// orchestration observes it at the next task boundary.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	executions := o.persistence.ExecutionRepository()

	execution, err := executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.IsTerminal() {
		return fmt.Errorf("execution %s already finished with status %s", executionID, execution.Status)
	}

	return executions.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusCancelled, nil)
}

func (o *Orchestrator) resolveRetryPolicy(ctx context.Context, automation *models.Automation) *models.RetryPolicy {
	if automation.RetryPolicyID == "" {
		return models.DefaultRetryPolicy()
	}

	policy, err := o.persistence.RetryPolicyRepository().GetByID(ctx, automation.RetryPolicyID)
	if err != nil {
		if !errors.Is(err, persistence.ErrRetryPolicyNotFound) {
			o.logger.WarnContext(ctx, "Failed to load retry policy, using default",
				"retry_policy_id", automation.RetryPolicyID, "error", err)
		}

		return models.DefaultRetryPolicy()
	}

	return policy
}

func (o *Orchestrator) newTask(executionID, stepID string) *models.Task {
	return &models.Task{
		ID:          "task-" + uuid.New().String(),
		ExecutionID: executionID,
		StepID:      stepID,
		Status:      models.TaskStatusQueued,
		Attempt:     1,
		CreatedAt:   time.Now().UTC(),
	}
}

func (o *Orchestrator) baseEvent(eventType events.EventType, automationID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, automationID)
	base.WorkerID = o.workerID

	return base
}

func (o *Orchestrator) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	err := o.publisher.Publish(ctx, key, event)
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (o *Orchestrator) automationLock(automationID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.locks[automationID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[automationID] = lock
	}

	return lock
}
