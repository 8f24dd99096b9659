package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
)

// TestResult is the outcome of a dry trigger run, shown to the user
// while they wire up an automation.
type TestResult struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	SampleEvent *models.Event    `json:"sample_event,omitempty"`
	RawEvents   []map[string]any `json:"raw_events,omitempty"`
}

// Tester runs triggers in test mode. Test runs must never mutate stored
// state, and a misbehaving integration must not take the process down,
// so panics are converted into failed results.
type Tester struct {
	logger *slog.Logger
	poller *PollingExecutor
}

func NewTester(logger *slog.Logger, poller *PollingExecutor) *Tester {
	return &Tester{
		logger: logger.With("module", "trigger_tester"),
		poller: poller,
	}
}

func (t *Tester) Run(
	ctx context.Context,
	trigger *models.Trigger,
	connection *models.Connection,
	descriptor integration.TriggerDescriptor,
) (result TestResult) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.ErrorContext(ctx, "Trigger test panicked",
				"trigger_id", trigger.ID, "panic", r)

			result = TestResult{
				Success: false,
				Message: fmt.Sprintf("trigger test crashed: %v", r),
			}
		}
	}()

	if !descriptor.Testable {
		return TestResult{
			Success: false,
			Message: fmt.Sprintf("trigger %q does not support test runs", descriptor.Key),
		}
	}

	switch descriptor.Type {
	case models.TriggerTypePoll:
		return t.runPollTest(ctx, trigger, connection, descriptor)
	case models.TriggerTypeWebhook:
		return t.runWebhookTest(descriptor)
	default:
		return TestResult{
			Success: false,
			Message: fmt.Sprintf("unknown trigger type %q", descriptor.Type),
		}
	}
}

func (t *Tester) runPollTest(
	ctx context.Context,
	trigger *models.Trigger,
	connection *models.Connection,
	descriptor integration.TriggerDescriptor,
) TestResult {
	events, raw, err := t.poller.Poll(ctx, trigger, connection, descriptor, ModeTest)
	if err != nil {
		return TestResult{
			Success: false,
			Message: fmt.Sprintf("trigger test failed: %v", err),
		}
	}

	if len(events) == 0 {
		return TestResult{
			Success: true,
			Message: "No matching events found. The trigger is configured correctly but nothing recent matches its filters.",
		}
	}

	return TestResult{
		Success:     true,
		Message:     fmt.Sprintf("Found %d matching event(s).", len(events)),
		SampleEvent: events[0],
		RawEvents:   raw,
	}
}

func (t *Tester) runWebhookTest(descriptor integration.TriggerDescriptor) TestResult {
	if descriptor.Sample == nil {
		return TestResult{
			Success: false,
			Message: fmt.Sprintf("trigger %q has no sample event", descriptor.Key),
		}
	}

	return TestResult{
		Success:     true,
		Message:     "Webhook is ready to receive deliveries. Sample event attached.",
		SampleEvent: descriptor.Sample(),
	}
}
