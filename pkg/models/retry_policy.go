package models

import "time"

// BackoffKind selects how retry delays grow between attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy is pure configuration referenced by automations and steps.
type RetryPolicy struct {
	ID           string        `json:"id"           validate:"required"`
	WorkspaceID  string        `json:"workspace_id"`
	Name         string        `json:"name"         validate:"required"`
	MaxAttempts  int           `json:"max_attempts" validate:"gte=1"`
	Backoff      BackoffKind   `json:"backoff"      validate:"required,oneof=fixed exponential"`
	InitialDelay time.Duration `json:"initial_delay"`
}

// DefaultRetryPolicy is applied when neither the step nor the automation
// references a policy: a single attempt, no retries.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		ID:          "default",
		Name:        "default",
		MaxAttempts: 1,
		Backoff:     BackoffFixed,
	}
}
