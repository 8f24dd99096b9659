package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

type fakeTriggerRepo struct {
	triggers map[string]*models.Trigger
	updates  int
}

func newFakeTriggerRepo(triggers ...*models.Trigger) *fakeTriggerRepo {
	repo := &fakeTriggerRepo{triggers: make(map[string]*models.Trigger)}
	for _, tr := range triggers {
		repo.triggers[tr.ID] = tr
	}

	return repo
}

func (r *fakeTriggerRepo) Save(_ context.Context, trigger *models.Trigger) error {
	r.triggers[trigger.ID] = trigger

	return nil
}

func (r *fakeTriggerRepo) GetByID(_ context.Context, id string) (*models.Trigger, error) {
	trigger, ok := r.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	return trigger, nil
}

func (r *fakeTriggerRepo) ListByType(_ context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	out := make([]*models.Trigger, 0)

	for _, trigger := range r.triggers {
		if trigger.Type == triggerType {
			out = append(out, trigger)
		}
	}

	return out, nil
}

func (r *fakeTriggerRepo) UpdateLastRun(_ context.Context, id string, lastRunAt time.Time) error {
	trigger, ok := r.triggers[id]
	if !ok {
		return persistence.ErrTriggerNotFound
	}

	if trigger.LastRunAt != nil && lastRunAt.Before(*trigger.LastRunAt) {
		return persistence.NewStoreError("UpdateLastRun", id, persistence.ErrStaleWatermark)
	}

	r.updates++
	trigger.LastRunAt = &lastRunAt

	return nil
}

func (r *fakeTriggerRepo) Delete(_ context.Context, id string) error {
	delete(r.triggers, id)

	return nil
}

type staticClients struct{}

func (staticClients) Client(_ context.Context, _ *models.Connection) (*http.Client, error) {
	return http.DefaultClient, nil
}

func testSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func emailItem(id, subject string, occurredAt time.Time) map[string]any {
	return map[string]any{
		"id":          id,
		"subject":     subject,
		"occurred_at": occurredAt.Format(time.RFC3339),
	}
}

func emailDescriptor() integration.TriggerDescriptor {
	return integration.TriggerDescriptor{
		Key:      "new_email",
		Name:     "New Email",
		Type:     models.TriggerTypePoll,
		Testable: true,
		Fetch: func(_ context.Context, _ *http.Client, since *time.Time, limit int) ([]map[string]any, error) {
			base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
			all := []map[string]any{
				emailItem("m1", "Invoice #1", base),
				emailItem("m2", "Lunch?", base.Add(time.Minute)),
				emailItem("m3", "Invoice #2", base.Add(2*time.Minute)),
			}

			out := make([]map[string]any, 0, len(all))

			for _, item := range all {
				occurredAt, _ := time.Parse(time.RFC3339, item["occurred_at"].(string))
				if since != nil && !occurredAt.After(*since) {
					continue
				}

				out = append(out, item)
				if len(out) == limit {
					break
				}
			}

			return out, nil
		},
		Filter: integration.ApplyFieldFilters,
		Normalize: func(raw map[string]any) (*models.Event, error) {
			occurredAt, err := time.Parse(time.RFC3339, raw["occurred_at"].(string))
			if err != nil {
				return nil, err
			}

			return models.NewEvent("gmail", "new_email", raw["id"].(string), occurredAt,
				map[string]any{"subject": raw["subject"]}, raw), nil
		},
	}
}

func pollTrigger(lastRunAt *time.Time, config map[string]any) *models.Trigger {
	return &models.Trigger{
		ID:            "trg-1",
		AutomationID:  "auto-1",
		IntegrationID: "gmail",
		TriggerKey:    "new_email",
		Type:          models.TriggerTypePoll,
		Config:        config,
		LastRunAt:     lastRunAt,
	}
}

func TestPollLiveAdvancesWatermark(t *testing.T) {
	t.Parallel()

	trigger := pollTrigger(nil, nil)
	repo := newFakeTriggerRepo(trigger)
	executor := NewPollingExecutor(testSlog(), repo, staticClients{})

	events, raw, err := executor.Poll(context.Background(), trigger, nil, emailDescriptor(), ModeLive)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Len(t, raw, 3)

	require.NotNil(t, trigger.LastRunAt)
	// The watermark is the newest OccurredAt among the events.
	assert.Equal(t, time.Date(2026, 2, 1, 9, 2, 0, 0, time.UTC), trigger.LastRunAt.UTC())

	// A second live poll from the new watermark finds nothing and
	// leaves the watermark alone.
	events, _, err = executor.Poll(context.Background(), trigger, nil, emailDescriptor(), ModeLive)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 1, repo.updates)
}

func TestPollAppliesDeclarativeFilter(t *testing.T) {
	t.Parallel()

	trigger := pollTrigger(nil, map[string]any{"subject_contains": "invoice"})
	repo := newFakeTriggerRepo(trigger)
	executor := NewPollingExecutor(testSlog(), repo, staticClients{})

	events, _, err := executor.Poll(context.Background(), trigger, nil, emailDescriptor(), ModeLive)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Invoice #1", events[0].Data["subject"])
	assert.Equal(t, "Invoice #2", events[1].Data["subject"])
}

func TestPollTestModeDoesNotMutate(t *testing.T) {
	t.Parallel()

	watermark := time.Date(2026, 2, 1, 9, 1, 0, 0, time.UTC)
	trigger := pollTrigger(&watermark, nil)
	repo := newFakeTriggerRepo(trigger)
	executor := NewPollingExecutor(testSlog(), repo, staticClients{})

	// Test mode ignores the stored watermark on fetch...
	events, _, err := executor.Poll(context.Background(), trigger, nil, emailDescriptor(), ModeTest)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	// ...and never writes it back.
	assert.Equal(t, 0, repo.updates)
	assert.True(t, trigger.LastRunAt.Equal(watermark))
}

func TestPollNormalizeFailureKeepsWatermark(t *testing.T) {
	t.Parallel()

	trigger := pollTrigger(nil, nil)
	repo := newFakeTriggerRepo(trigger)
	executor := NewPollingExecutor(testSlog(), repo, staticClients{})

	descriptor := emailDescriptor()
	descriptor.Normalize = func(raw map[string]any) (*models.Event, error) {
		if raw["id"] == "m2" {
			return nil, fmt.Errorf("malformed item")
		}

		return models.NewEvent("gmail", "new_email", raw["id"].(string), time.Now().UTC(), raw, nil), nil
	}

	_, _, err := executor.Poll(context.Background(), trigger, nil, descriptor, ModeLive)
	require.Error(t, err)
	assert.Nil(t, trigger.LastRunAt)
	assert.Equal(t, 0, repo.updates)
}

func TestPollStaleWatermarkIsNotAnError(t *testing.T) {
	t.Parallel()

	ahead := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	trigger := pollTrigger(nil, nil)
	repo := newFakeTriggerRepo(trigger)
	// Simulate a concurrent poller that advanced the stored watermark
	// past anything this run will produce.
	repo.triggers[trigger.ID].LastRunAt = &ahead

	executor := NewPollingExecutor(testSlog(), repo, staticClients{})

	stale := *trigger
	stale.LastRunAt = nil

	_, _, err := executor.Poll(context.Background(), &stale, nil, emailDescriptor(), ModeLive)
	require.NoError(t, err)
	assert.True(t, repo.triggers[trigger.ID].LastRunAt.Equal(ahead))
}

func TestPollRejectsWrongTriggerType(t *testing.T) {
	t.Parallel()

	trigger := pollTrigger(nil, nil)
	executor := NewPollingExecutor(testSlog(), newFakeTriggerRepo(trigger), staticClients{})

	descriptor := emailDescriptor()
	descriptor.Type = models.TriggerTypeWebhook

	_, _, err := executor.Poll(context.Background(), trigger, nil, descriptor, ModeLive)
	assert.ErrorIs(t, err, integration.ErrUnknownTrigger)
}
