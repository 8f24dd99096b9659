// Package persistence provides standardized error types for storage
// operations; all implementations return these sentinels.
package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrAutomationNotFound   = errors.New("automation not found")
	ErrTriggerNotFound      = errors.New("trigger not found")
	ErrExecutionNotFound    = errors.New("execution not found")
	ErrTaskNotFound         = errors.New("task not found")
	ErrRetryPolicyNotFound  = errors.New("retry policy not found")
	ErrWebhookEventNotFound = errors.New("webhook event not found")

	// ErrStaleWatermark indicates an UpdateLastRun that would move the
	// polling watermark backwards.
	ErrStaleWatermark = errors.New("stale watermark")
)

// StoreError wraps storage failures with the operation and record they
// occurred on.
type StoreError struct {
	Op       string
	RecordID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError wraps err with operation context.
func NewStoreError(op, recordID string, err error) *StoreError {
	return &StoreError{Op: op, RecordID: recordID, Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrAutomationNotFound) ||
		errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrRetryPolicyNotFound) ||
		errors.Is(err, ErrWebhookEventNotFound)
}
