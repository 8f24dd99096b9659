package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
)

// WebhookExecutor turns inbound webhook payloads into normalized events.
// It does not touch transport concerns; the HTTP layer persists the raw
// delivery before calling in.
type WebhookExecutor struct {
	logger *slog.Logger
}

func NewWebhookExecutor(logger *slog.Logger) *WebhookExecutor {
	return &WebhookExecutor{logger: logger.With("module", "webhook_executor")}
}

// Handle normalizes one live delivery and applies the trigger's
// declarative filter. A filtered-out delivery returns a nil event and
// no error.
func (e *WebhookExecutor) Handle(
	ctx context.Context,
	trigger *models.Trigger,
	descriptor integration.TriggerDescriptor,
	payload map[string]any,
) (*models.Event, error) {
	if descriptor.Type != models.TriggerTypeWebhook {
		return nil, fmt.Errorf("trigger %q is not a webhook trigger: %w", descriptor.Key, integration.ErrUnknownTrigger)
	}

	if descriptor.Normalize == nil {
		return nil, fmt.Errorf("webhook trigger %q has no normalize operation: %w", descriptor.Key, integration.ErrUnknownTrigger)
	}

	if descriptor.Filter != nil {
		kept := descriptor.Filter([]map[string]any{payload}, trigger.Config)
		if len(kept) == 0 {
			e.logger.InfoContext(ctx, "Webhook delivery filtered out", "trigger_id", trigger.ID)

			return nil, nil
		}

		payload = kept[0]
	}

	event, err := descriptor.Normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("normalize failed for trigger %s: %w", trigger.ID, err)
	}

	e.logger.InfoContext(ctx, "Normalized webhook delivery",
		"trigger_id", trigger.ID, "event_id", event.ID, "source_id", event.SourceID)

	return event, nil
}
