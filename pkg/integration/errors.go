// Package integration provides the standardized error taxonomy for the
// engine. Services never let provider errors escape unwrapped; they are
// re-raised as one of these kinds at the service boundary.
package integration

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownIntegration indicates a registry miss. Fatal to the
	// request, never retried.
	ErrUnknownIntegration = errors.New("unknown integration")

	// ErrDuplicateIntegration indicates an identifier registered twice.
	ErrDuplicateIntegration = errors.New("integration already registered")

	// ErrCredentialExpired indicates the refresh grant failed. The
	// connection is disabled and the user must re-authorize.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrValidationFailed indicates a payload/config schema mismatch.
	// Fatal to the one task or test, never retried.
	ErrValidationFailed = errors.New("validation failed")

	// ErrTransientExternal indicates a timeout, 5xx or rate limit.
	// Retried per the applicable retry policy.
	ErrTransientExternal = errors.New("transient external error")

	// ErrAuthExpired indicates a 400, 401 or 403 mid-call. Triggers exactly one
	// refresh-and-retry before being reclassified.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrDuplicateEvent indicates a source_id re-delivery. Silently
	// deduplicated, not surfaced to the caller.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrUnknownAction indicates an action key absent from the service's
	// declared capability map.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownTrigger indicates a trigger key absent from the
	// service's declared capability map.
	ErrUnknownTrigger = errors.New("unknown trigger")
)

// ServiceError wraps a provider failure with the integration and
// operation it occurred in.
type ServiceError struct {
	Integration string
	Op          string
	Err         error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Integration, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewServiceError wraps err as a service-boundary failure.
func NewServiceError(integration, op string, err error) *ServiceError {
	return &ServiceError{Integration: integration, Op: op, Err: err}
}

// IsRetryable reports whether a task failure should be retried under the
// applicable retry policy.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientExternal)
}

// IsValidation reports whether the failure is a schema/config violation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}
