// Package events defines the lifecycle notifications published while
// automations trigger and execute.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/zaplet/zaplet/pkg/models"
)

type EventType string

// Topic carries every lifecycle event; consumers route by the
// event_type metadata.
const Topic = "zaplet.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	AutomationTriggeredEvent EventType = "automation.triggered"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	TaskFinishedEvent EventType = "task.finished"
	TaskFailedEvent   EventType = "task.failed"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	AutomationID string         `json:"automation_id"`
	WorkerID     string         `json:"worker_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, automationID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		AutomationID: automationID,
	}
}

// AutomationTriggered is published when a trigger produces a normalized
// event for an enabled automation. The worker picks it up and starts an
// execution.
type AutomationTriggered struct {
	BaseEvent

	TriggerID    string        `json:"trigger_id"`
	TriggerEvent *models.Event `json:"trigger_event"`
}

func (e AutomationTriggered) GetType() EventType {
	return AutomationTriggeredEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type TaskFinished struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TaskID      string         `json:"task_id"`
	StepID      string         `json:"step_id"`
	Output      map[string]any `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e TaskFinished) GetType() EventType {
	return TaskFinishedEvent
}

type TaskFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	TaskID      string `json:"task_id"`
	StepID      string `json:"step_id"`
	Error       string `json:"error"`
	Attempt     int    `json:"attempt"`
}

func (e TaskFailed) GetType() EventType {
	return TaskFailedEvent
}
