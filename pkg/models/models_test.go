package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zaplet/zaplet/pkg/models"
)

func TestConnectionTokenExpiry(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conn := &models.Connection{
		Secrets: map[string]string{
			models.SecretAccessToken: "tok",
			models.SecretExpiry:      expiry.Format(time.RFC3339),
		},
	}

	assert.Equal(t, expiry, conn.TokenExpiry())
	assert.Equal(t, "tok", conn.AccessToken())
}

func TestConnectionTokenExpiryUnparseable(t *testing.T) {
	t.Parallel()

	conn := &models.Connection{Secrets: map[string]string{models.SecretExpiry: "not-a-time"}}
	assert.True(t, conn.TokenExpiry().IsZero())

	empty := &models.Connection{}
	assert.True(t, empty.TokenExpiry().IsZero())
	assert.Empty(t, empty.AccessToken())
}

func TestConnectionMergeSecrets(t *testing.T) {
	t.Parallel()

	conn := &models.Connection{Secrets: map[string]string{
		models.SecretAccessToken:  "old",
		models.SecretRefreshToken: "keep-me",
	}}

	conn.MergeSecrets(map[string]string{models.SecretAccessToken: "new"})

	assert.Equal(t, "new", conn.Secrets[models.SecretAccessToken])
	assert.Equal(t, "keep-me", conn.Secrets[models.SecretRefreshToken])
}

func TestAutomationAcceptsEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  models.AutomationStatus
		accepts bool
	}{
		{models.AutomationStatusEnabled, true},
		{models.AutomationStatusDisabled, false},
		{models.AutomationStatusPaused, false},
		{models.AutomationStatusDraft, false},
	}

	for _, tt := range tests {
		a := &models.Automation{Status: tt.status}
		assert.Equal(t, tt.accepts, a.AcceptsEvents(), string(tt.status))
	}
}

func TestEventDedupKey(t *testing.T) {
	t.Parallel()

	occurred := time.Now().UTC()
	event := models.NewEvent("gmail", "new_email", "msg-1", occurred, map[string]any{"subject": "hi"}, nil)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "auto-1:gmail:new_email:msg-1", event.DedupKey("auto-1"))
	assert.Equal(t, occurred, event.OccurredAt)
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, models.ExecutionStatusPending.IsTerminal())
	assert.False(t, models.ExecutionStatusRunning.IsTerminal())
	assert.True(t, models.ExecutionStatusSuccess.IsTerminal())
	assert.True(t, models.ExecutionStatusFailed.IsTerminal())
	assert.True(t, models.ExecutionStatusCancelled.IsTerminal())
}

func TestDefaultRetryPolicy(t *testing.T) {
	t.Parallel()

	policy := models.DefaultRetryPolicy()
	assert.Equal(t, 1, policy.MaxAttempts)
	assert.Equal(t, models.BackoffFixed, policy.Backoff)
}
