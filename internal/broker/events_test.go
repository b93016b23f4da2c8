package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"order-etl/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	keys   []string
	events []interface{}
}

func (w *recordingWriter) PublishEvent(_ context.Context, key string, event interface{}) error {
	w.keys = append(w.keys, key)
	w.events = append(w.events, event)
	return nil
}

func TestPublishOrdersLoadedKeyedByRun(t *testing.T) {
	writer := &recordingWriter{}
	publisher := NewEventPublisher(writer)

	event := &models.OrdersLoadedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrdersLoaded, Timestamp: time.Now()},
		RunID:     "abc",
		RowCount:  3,
	}
	require.NoError(t, publisher.PublishOrdersLoaded(context.Background(), event))
	require.NoError(t, publisher.PublishRunFailed(context.Background(), &models.RunFailedEvent{RunID: "abc"}))

	assert.Equal(t, []string{"run-abc", "run-abc"}, writer.keys)
	assert.Same(t, event, writer.events[0])
}

func TestNewMessageEncodesJSON(t *testing.T) {
	msg, err := newMessage("run-1", &models.RunFailedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeRunFailed},
		RunID:     "1",
		Stage:     "LOAD",
		Reason:    "disk full",
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("run-1"), msg.Key)
	assert.JSONEq(t,
		`{"event_id":"","event_type":"RUN_FAILED","timestamp":"0001-01-01T00:00:00Z","run_id":"1","stage":"LOAD","reason":"disk full"}`,
		string(msg.Value))
}

func TestHandleRunRequested(t *testing.T) {
	handler := NewEventHandler()

	var got *models.RunRequestedEvent
	handler.OnRunRequested(func(_ context.Context, event *models.RunRequestedEvent) error {
		got = event
		return nil
	})

	include := true
	value, err := json.Marshal(&models.RunRequestedEvent{
		BaseEvent:     models.BaseEvent{EventID: "req-1", EventType: models.EventTypeRunRequested},
		IncludeStripe: &include,
		OutputPath:    "s3://bucket/out.csv",
	})
	require.NoError(t, err)

	require.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: value}))
	require.NotNil(t, got)
	assert.Equal(t, "req-1", got.EventID)
	require.NotNil(t, got.IncludeStripe)
	assert.True(t, *got.IncludeStripe)
	assert.Equal(t, "s3://bucket/out.csv", got.OutputPath)
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	handler := NewEventHandler()
	handler.OnRunRequested(func(context.Context, *models.RunRequestedEvent) error {
		return errors.New("must not be called")
	})

	value := []byte(`{"event_id":"x","event_type":"ORDERS_LOADED"}`)
	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: value}))
}

func TestHandleMessageInvalidJSON(t *testing.T) {
	handler := NewEventHandler()
	assert.Error(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}

func TestHandleMessagePropagatesHandlerError(t *testing.T) {
	handler := NewEventHandler()
	handler.OnRunRequested(func(context.Context, *models.RunRequestedEvent) error {
		return models.ErrRunInProgress
	})

	value := []byte(`{"event_id":"x","event_type":"RUN_REQUESTED"}`)
	assert.ErrorIs(t, handler.HandleMessage(context.Background(), kafka.Message{Value: value}), models.ErrRunInProgress)
}
