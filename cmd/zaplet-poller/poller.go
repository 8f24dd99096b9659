package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/zaplet/zaplet/pkg/eventbus"
	"github.com/zaplet/zaplet/pkg/events"
	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/oauth"
	"github.com/zaplet/zaplet/pkg/persistence"
	"github.com/zaplet/zaplet/pkg/trigger"
)

// PollerManager drives every live polling trigger on a cron schedule
// and publishes one AutomationTriggered event per normalized event.
type PollerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *integration.Registry
	eventBus    eventbus.EventBus
	executor    *trigger.PollingExecutor
	schedule    string
}

func NewPollerManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	registry *integration.Registry,
	oauthManager *oauth.Manager,
	schedule string,
) *PollerManager {
	return &PollerManager{
		id:          id,
		logger:      logger.With("module", "zaplet-poller", "poller_id", id),
		persistence: store,
		registry:    registry,
		eventBus:    eventBus,
		executor:    trigger.NewPollingExecutor(logger, store.TriggerRepository(), oauthManager),
		schedule:    schedule,
	}
}

func (p *PollerManager) Start(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting poller", "schedule", p.schedule)

	scheduler := cron.New()

	_, err := scheduler.AddFunc(p.schedule, func() {
		p.pollAll(ctx)
	})
	if err != nil {
		return err
	}

	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	p.logger.InfoContext(ctx, "Shutting down poller...")

	<-scheduler.Stop().Done()

	return nil
}

func (p *PollerManager) pollAll(ctx context.Context) {
	triggers, err := p.persistence.TriggerRepository().ListByType(ctx, models.TriggerTypePoll)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list polling triggers", "error", err)

		return
	}

	for _, t := range triggers {
		err := p.pollOne(ctx, t)
		if err != nil {
			p.logger.ErrorContext(ctx, "Polling cycle failed",
				"trigger_id", t.ID, "integration_id", t.IntegrationID, "error", err)
		}
	}
}

// pollOne runs one live polling cycle for one trigger. Failures are
// isolated: a broken connection or provider outage never blocks the
// other triggers, and the watermark logic guarantees the failed batch
// is re-fetched next cycle.
func (p *PollerManager) pollOne(ctx context.Context, t *models.Trigger) error {
	service, err := p.registry.Create(t.IntegrationID, nil)
	if err != nil {
		return err
	}

	descriptor, ok := service.Triggers()[t.TriggerKey]
	if !ok {
		return integration.NewServiceError(t.IntegrationID, "poll", integration.ErrUnknownTrigger)
	}

	var connection *models.Connection

	if t.ConnectionID != "" {
		connection, err = p.persistence.ConnectionRepository().GetByID(ctx, t.ConnectionID)
		if err != nil {
			return err
		}
	}

	newEvents, _, err := p.executor.Poll(ctx, t, connection, descriptor, trigger.ModeLive)
	if err != nil {
		return err
	}

	for _, event := range newEvents {
		triggered := events.AutomationTriggered{
			BaseEvent:    events.NewBaseEvent(events.AutomationTriggeredEvent, t.AutomationID),
			TriggerID:    t.ID,
			TriggerEvent: event,
		}
		triggered.WorkerID = p.id

		err := p.eventBus.Publish(ctx, t.AutomationID, triggered)
		if err != nil {
			return err
		}
	}

	if len(newEvents) > 0 {
		p.logger.InfoContext(ctx, "Published triggered events",
			"trigger_id", t.ID, "count", len(newEvents))
	}

	return nil
}
