package trigger

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
)

func formsDescriptor() integration.TriggerDescriptor {
	return integration.TriggerDescriptor{
		Key:      "new_response",
		Name:     "New Form Response",
		Type:     models.TriggerTypeWebhook,
		Testable: true,
		Normalize: func(raw map[string]any) (*models.Event, error) {
			return models.NewEvent("googleforms", "new_response",
				raw["response_id"].(string),
				time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
				map[string]any{"answers": raw["answers"]}, raw), nil
		},
		Sample: func() *models.Event {
			return models.NewEvent("googleforms", "new_response", "sample-response",
				time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				map[string]any{"answers": map[string]any{"q1": "yes"}}, nil)
		},
	}
}

func webhookTrigger() *models.Trigger {
	return &models.Trigger{
		ID:            "trg-wh",
		AutomationID:  "auto-1",
		IntegrationID: "googleforms",
		TriggerKey:    "new_response",
		Type:          models.TriggerTypeWebhook,
	}
}

func TestWebhookHandleNormalizesPayload(t *testing.T) {
	t.Parallel()

	executor := NewWebhookExecutor(testSlog())

	event, err := executor.Handle(context.Background(), webhookTrigger(), formsDescriptor(),
		map[string]any{"response_id": "resp-9", "answers": map[string]any{"q1": "no"}})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "resp-9", event.SourceID)
	assert.Equal(t, "googleforms", event.IntegrationID)
}

func TestWebhookHandleFiltersOut(t *testing.T) {
	t.Parallel()

	descriptor := formsDescriptor()
	descriptor.Filter = func(items []map[string]any, _ map[string]any) []map[string]any {
		return nil
	}

	executor := NewWebhookExecutor(testSlog())

	event, err := executor.Handle(context.Background(), webhookTrigger(), descriptor,
		map[string]any{"response_id": "resp-9"})
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestWebhookHandleRejectsPollDescriptor(t *testing.T) {
	t.Parallel()

	executor := NewWebhookExecutor(testSlog())

	_, err := executor.Handle(context.Background(), webhookTrigger(), emailDescriptor(), map[string]any{})
	assert.ErrorIs(t, err, integration.ErrUnknownTrigger)
}

func newTester(repo *fakeTriggerRepo) *Tester {
	return NewTester(testSlog(), NewPollingExecutor(testSlog(), repo, staticClients{}))
}

func TestTesterNonTestableShortCircuits(t *testing.T) {
	t.Parallel()

	descriptor := emailDescriptor()
	descriptor.Testable = false
	descriptor.Fetch = func(_ context.Context, _ *http.Client, _ *time.Time, _ int) ([]map[string]any, error) {
		t.Fatal("fetch must not run for a non-testable trigger")

		return nil, nil
	}

	trigger := pollTrigger(nil, nil)
	result := newTester(newFakeTriggerRepo(trigger)).Run(context.Background(), trigger, nil, descriptor)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "does not support test runs")
}

func TestTesterPollReturnsSampleAndRaw(t *testing.T) {
	t.Parallel()

	watermark := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	trigger := pollTrigger(&watermark, map[string]any{"subject_contains": "invoice"})
	repo := newFakeTriggerRepo(trigger)

	result := newTester(repo).Run(context.Background(), trigger, nil, emailDescriptor())

	require.True(t, result.Success)
	require.NotNil(t, result.SampleEvent)
	assert.Equal(t, "Invoice #1", result.SampleEvent.Data["subject"])
	assert.Len(t, result.RawEvents, 2)

	// Test runs never touch the stored watermark.
	assert.Equal(t, 0, repo.updates)
	assert.True(t, trigger.LastRunAt.Equal(watermark))
}

func TestTesterPollZeroEventsStillSucceeds(t *testing.T) {
	t.Parallel()

	trigger := pollTrigger(nil, map[string]any{"subject_contains": "no-such-subject"})
	result := newTester(newFakeTriggerRepo(trigger)).Run(context.Background(), trigger, nil, emailDescriptor())

	assert.True(t, result.Success)
	assert.Nil(t, result.SampleEvent)
	assert.Contains(t, result.Message, "No matching events")
}

func TestTesterRecoversFromPanic(t *testing.T) {
	t.Parallel()

	descriptor := emailDescriptor()
	descriptor.Fetch = func(_ context.Context, _ *http.Client, _ *time.Time, _ int) ([]map[string]any, error) {
		panic("integration bug")
	}

	trigger := pollTrigger(nil, nil)
	result := newTester(newFakeTriggerRepo(trigger)).Run(context.Background(), trigger, nil, descriptor)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "crashed")
}

func TestTesterWebhookReturnsSample(t *testing.T) {
	t.Parallel()

	result := newTester(newFakeTriggerRepo()).Run(context.Background(), webhookTrigger(), nil, formsDescriptor())

	require.True(t, result.Success)
	require.NotNil(t, result.SampleEvent)
	assert.Equal(t, "sample-response", result.SampleEvent.SourceID)
}

func TestTesterWebhookWithoutSampleFails(t *testing.T) {
	t.Parallel()

	descriptor := formsDescriptor()
	descriptor.Sample = nil

	result := newTester(newFakeTriggerRepo()).Run(context.Background(), webhookTrigger(), nil, descriptor)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no sample event")
}
