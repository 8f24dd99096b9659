package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zaplet/zaplet/pkg/dedup"
	"github.com/zaplet/zaplet/pkg/eventbus"
	"github.com/zaplet/zaplet/pkg/events"
	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/oauth"
	"github.com/zaplet/zaplet/pkg/orchestrator"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// WorkerManager subscribes to triggered events and runs the
// orchestrator for each one.
type WorkerManager struct {
	id           string
	logger       *slog.Logger
	eventBus     eventbus.EventBus
	orchestrator *orchestrator.Orchestrator
}

func NewWorkerManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	registry *integration.Registry,
	dedupStore dedup.Store,
	oauthManager *oauth.Manager,
) *WorkerManager {
	return &WorkerManager{
		id:           id,
		logger:       logger.With("module", "zaplet-worker", "worker_id", id),
		eventBus:     eventBus,
		orchestrator: orchestrator.New(logger, store, registry, dedupStore, oauthManager, eventBus, id),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.AutomationTriggeredEvent, w.handleAutomationTriggered)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleAutomationTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.AutomationTriggered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for AutomationTriggered")

		return nil
	}

	logger := w.logger.With(
		"automation_id", triggered.AutomationID,
		"trigger_id", triggered.TriggerID,
		"event_id", triggered.ID,
	)

	if triggered.TriggerEvent == nil {
		logger.ErrorContext(ctx, "Triggered event carries no trigger event")

		return nil
	}

	logger.InfoContext(ctx, "Processing triggered automation")

	execution, err := w.orchestrator.Orchestrate(ctx, triggered.AutomationID, triggered.TriggerEvent)
	if err != nil {
		logger.ErrorContext(ctx, "Automation run failed", "error", err)

		return err
	}

	if execution == nil {
		logger.InfoContext(ctx, "Event discarded")

		return nil
	}

	logger.InfoContext(ctx, "Automation run finished",
		"execution_id", execution.ID, "status", execution.Status)

	return nil
}
