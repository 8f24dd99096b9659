package models

import "time"

// ExecutionStatus represents the state machine of one automation run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Execution is one run of an automation for one triggering event.
type Execution struct {
	ID           string          `json:"id"            validate:"required"`
	AutomationID string          `json:"automation_id" validate:"required"`
	TriggerEvent *Event          `json:"trigger_event"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Attempt      int             `json:"attempt"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TaskStatus represents the state machine of one step execution.
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is one step's execution within an execution. After it reaches a
// terminal status it is only mutated by an explicit retry, which
// increments Attempt and resets the status.
type Task struct {
	ID          string         `json:"id"           validate:"required"`
	ExecutionID string         `json:"execution_id" validate:"required"`
	StepID      string         `json:"step_id"`
	Status      TaskStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempt     int            `json:"attempt"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
