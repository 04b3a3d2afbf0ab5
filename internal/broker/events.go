package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"clinic-service/internal/models"
	"clinic-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// eventProducer is what the relay needs from a producer
type eventProducer interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// Relay mirrors in-process domain events onto the events topic
type Relay struct {
	producer eventProducer
}

// NewRelay creates a relay
func NewRelay(producer eventProducer) *Relay {
	return &Relay{producer: producer}
}

// Handle is an events.Handler; register it with Bus.SubscribeAll.
func (r *Relay) Handle(ctx context.Context, ev models.Event) error {
	return r.producer.PublishEvent(ctx, eventKey(ev), ev)
}

// events for one appointment share a key and therefore a partition
func eventKey(ev models.Event) string {
	if ev.Payload.AppointmentID != 0 {
		return "appointment-" + strconv.FormatInt(ev.Payload.AppointmentID, 10)
	}
	return ev.EventID
}

// EventHandler routes consumed events by name
type EventHandler struct {
	routes map[string]func(context.Context, models.Event) error
	logger *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		routes: make(map[string]func(context.Context, models.Event) error),
		logger: util.Named("kafka"),
	}
}

// On registers a handler for events named name
func (eh *EventHandler) On(name string, handler func(context.Context, models.Event) error) {
	eh.routes[name] = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var ev models.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	handler, ok := eh.routes[ev.Name]
	if !ok {
		eh.logger.Debug("Unhandled event", zap.String("event", ev.Name))
		return nil
	}

	eh.logger.Debug("Handling event", zap.String("event", ev.Name), zap.String("event_id", ev.EventID))
	return handler(ctx, ev)
}
