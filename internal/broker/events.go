package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"order-etl/internal/models"
	"order-etl/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter writes a keyed event to a topic. *Producer satisfies it.
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing run events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrdersLoaded publishes OrdersLoaded event
func (ep *EventPublisher) PublishOrdersLoaded(ctx context.Context, event *models.OrdersLoadedEvent) error {
	return ep.producer.PublishEvent(ctx, runKey(event.RunID), event)
}

// PublishRunFailed publishes RunFailed event
func (ep *EventPublisher) PublishRunFailed(ctx context.Context, event *models.RunFailedEvent) error {
	return ep.producer.PublishEvent(ctx, runKey(event.RunID), event)
}

// PublishRunRequested publishes RunRequested event
func (ep *EventPublisher) PublishRunRequested(ctx context.Context, event *models.RunRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, event.EventID, event)
}

func runKey(runID string) string {
	return fmt.Sprintf("run-%s", runID)
}

// EventHandler handles incoming events
type EventHandler struct {
	onRunRequested func(context.Context, *models.RunRequestedEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnRunRequested registers a handler for RunRequested events
func (eh *EventHandler) OnRunRequested(handler func(context.Context, *models.RunRequestedEvent) error) {
	eh.onRunRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Info("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeRunRequested:
		if eh.onRunRequested != nil {
			var event models.RunRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RunRequested event: %w", err)
			}
			return eh.onRunRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
