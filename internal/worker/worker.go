package worker

import (
	"context"
	"errors"
	"fmt"

	"order-etl/internal/broker"
	"order-etl/internal/models"
	"order-etl/internal/service"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

// RunExecutor executes a pipeline run. *service.Runner satisfies it.
type RunExecutor interface {
	Run(ctx context.Context, req service.RunRequest) (*models.Run, error)
}

// EventLog remembers which events were already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// RunWorker executes runs requested over Kafka
type RunWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	runner       RunExecutor
	events       EventLog
	logger       *zap.Logger
}

// NewRunWorker creates a new run worker. events may be nil, in which case
// redelivered requests run again.
func NewRunWorker(consumer *broker.Consumer, runner RunExecutor, events EventLog) *RunWorker {
	w := &RunWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		runner:       runner,
		events:       events,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnRunRequested(w.HandleRunRequested)
	return w
}

// Start starts the worker
func (w *RunWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting run worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RunWorker) Stop() error {
	w.logger.Info("Stopping run worker")
	return w.consumer.Close()
}

// HandleRunRequested executes one requested run. A request that finds
// another run in progress is left unmarked so a redelivery can retry it.
func (w *RunWorker) HandleRunRequested(ctx context.Context, event *models.RunRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "RunWorker.HandleRunRequested")
	defer span.End()

	if w.events != nil && event.EventID != "" {
		processed, err := w.events.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	run, err := w.runner.Run(ctx, service.RunRequest{
		IncludeStripe: event.IncludeStripe,
		OutputPath:    event.OutputPath,
	})
	if errors.Is(err, models.ErrRunInProgress) {
		return err
	}
	if err != nil {
		w.logger.Warn("Requested run failed",
			zap.String("event_id", event.EventID),
			zap.String("run_id", run.ID),
			zap.Error(err))
	} else {
		w.logger.Info("Requested run completed",
			zap.String("event_id", event.EventID),
			zap.String("run_id", run.ID),
			zap.Int("records", run.RowsWritten))
	}

	if w.events != nil && event.EventID != "" {
		if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			w.logger.Error("Failed to mark event processed", zap.Error(err))
		}
	}
	return nil
}
