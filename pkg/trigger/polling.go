package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// PollingExecutor runs poll-type triggers: fetch since the watermark,
// filter declaratively, normalize, then advance the watermark. The
// watermark only advances after every fetched item normalized cleanly,
// so a failed run is re-polled in full.
type PollingExecutor struct {
	logger   *slog.Logger
	triggers persistence.TriggerRepository
	clients  ClientProvider
}

func NewPollingExecutor(logger *slog.Logger, triggers persistence.TriggerRepository, clients ClientProvider) *PollingExecutor {
	return &PollingExecutor{
		logger:   logger.With("module", "polling_executor"),
		triggers: triggers,
		clients:  clients,
	}
}

// Poll executes one polling cycle. It returns the normalized events and
// the filtered raw items they came from. In test mode the watermark is
// ignored on fetch and never written.
func (e *PollingExecutor) Poll(
	ctx context.Context,
	trigger *models.Trigger,
	connection *models.Connection,
	descriptor integration.TriggerDescriptor,
	mode Mode,
) ([]*models.Event, []map[string]any, error) {
	if descriptor.Type != models.TriggerTypePoll {
		return nil, nil, fmt.Errorf("trigger %q is not a poll trigger: %w", descriptor.Key, integration.ErrUnknownTrigger)
	}

	if descriptor.Fetch == nil {
		return nil, nil, fmt.Errorf("poll trigger %q has no fetch operation: %w", descriptor.Key, integration.ErrUnknownTrigger)
	}

	client, err := clientFor(ctx, e.clients, connection)
	if err != nil {
		return nil, nil, err
	}

	since := trigger.LastRunAt
	limit := liveFetchLimit

	if mode == ModeTest {
		since = nil
		limit = testFetchLimit
	}

	raw, err := descriptor.Fetch(ctx, client, since, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch failed for trigger %s: %w", trigger.ID, err)
	}

	if descriptor.Filter != nil {
		raw = descriptor.Filter(raw, trigger.Config)
	}

	events := make([]*models.Event, 0, len(raw))

	for _, item := range raw {
		event, err := descriptor.Normalize(item)
		if err != nil {
			return nil, nil, fmt.Errorf("normalize failed for trigger %s: %w", trigger.ID, err)
		}

		events = append(events, event)
	}

	if mode == ModeLive {
		err = e.advanceWatermark(ctx, trigger, events)
		if err != nil {
			return nil, nil, err
		}
	}

	e.logger.InfoContext(ctx, "Polled trigger",
		"trigger_id", trigger.ID, "mode", mode, "fetched", len(raw), "events", len(events))

	return events, raw, nil
}

// advanceWatermark moves LastRunAt to the newest OccurredAt among the
// normalized events. A concurrent poller that already advanced further
// is not an error.
func (e *PollingExecutor) advanceWatermark(ctx context.Context, trigger *models.Trigger, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	watermark := events[0].OccurredAt
	for _, event := range events[1:] {
		if event.OccurredAt.After(watermark) {
			watermark = event.OccurredAt
		}
	}

	err := e.triggers.UpdateLastRun(ctx, trigger.ID, watermark)
	if err != nil {
		if errors.Is(err, persistence.ErrStaleWatermark) {
			e.logger.WarnContext(ctx, "Watermark already ahead, keeping stored value",
				"trigger_id", trigger.ID, "candidate", watermark)

			return nil
		}

		return fmt.Errorf("failed to advance watermark for trigger %s: %w", trigger.ID, err)
	}

	trigger.LastRunAt = &watermark

	return nil
}
