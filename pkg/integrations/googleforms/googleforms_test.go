package googleforms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaplet/zaplet/pkg/integration"
)

func TestNormalizeResponse(t *testing.T) {
	t.Parallel()

	descriptor := (&Service{}).Triggers()["new_response"]

	event, err := descriptor.Normalize(map[string]any{
		"form_id":     "form-1",
		"response_id": "resp-1",
		"create_time": "2026-02-01T09:00:00Z",
		"answers":     map[string]any{"Name": "Ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, ID, event.IntegrationID)
	assert.Equal(t, "new_response", event.TriggerKey)
	assert.Equal(t, "resp-1", event.SourceID)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), event.OccurredAt)
	assert.Equal(t, "form-1", event.Data["form_id"])
}

func TestNormalizeRejectsIncompletePayloads(t *testing.T) {
	t.Parallel()

	descriptor := (&Service{}).Triggers()["new_response"]

	_, err := descriptor.Normalize(map[string]any{"form_id": "form-1"})
	require.Error(t, err)

	_, err = descriptor.Normalize(map[string]any{"response_id": "resp-1", "create_time": "not a time"})
	require.Error(t, err)
}

func TestFilterByFormID(t *testing.T) {
	t.Parallel()

	descriptor := (&Service{}).Triggers()["new_response"]

	items := []map[string]any{
		{"form_id": "form-1", "response_id": "r1"},
		{"form_id": "form-2", "response_id": "r2"},
	}

	matched := descriptor.Filter(items, map[string]any{"form_id_equals": "form-2"})
	require.Len(t, matched, 1)
	assert.Equal(t, "r2", matched[0]["response_id"])
}

func TestSampleEventIsNormalizable(t *testing.T) {
	t.Parallel()

	descriptor := (&Service{}).Triggers()["new_response"]
	require.NotNil(t, descriptor.Sample)

	event := descriptor.Sample()
	require.NotNil(t, event)

	assert.Equal(t, ID, event.IntegrationID)
	assert.NotEmpty(t, event.SourceID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestNoActions(t *testing.T) {
	t.Parallel()

	service := &Service{}
	assert.Empty(t, service.Actions())

	_, err := service.PerformAction(t.Context(), "anything", nil)
	require.ErrorIs(t, err, integration.ErrUnknownAction)
}
