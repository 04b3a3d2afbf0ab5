package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinic-service/internal/models"
	"clinic-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTooManyListeners is returned when an event already has MaxListeners handlers
var ErrTooManyListeners = errors.New("too many listeners for event")

// Handler reacts to a published event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, ev models.Event) error

// Publisher is the producer side of the bus
type Publisher interface {
	Publish(ctx context.Context, name string, payload models.EventPayload)
}

// Bus is an in-process, synchronous fan-out of domain events.
type Bus struct {
	mu           sync.RWMutex
	handlers     map[string][]Handler
	wildcard     []Handler
	maxListeners int
	logger       *zap.Logger
}

// NewBus creates a bus. maxListeners <= 0 means unbounded.
func NewBus(maxListeners int) *Bus {
	return &Bus{
		handlers:     make(map[string][]Handler),
		maxListeners: maxListeners,
		logger:       util.Named("events"),
	}
}

// Subscribe registers h for events named name.
func (b *Bus) Subscribe(name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxListeners > 0 && len(b.handlers[name]) >= b.maxListeners {
		return fmt.Errorf("%w: %s", ErrTooManyListeners, name)
	}
	b.handlers[name] = append(b.handlers[name], h)
	return nil
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxListeners > 0 && len(b.wildcard) >= b.maxListeners {
		return fmt.Errorf("%w: *", ErrTooManyListeners)
	}
	b.wildcard = append(b.wildcard, h)
	return nil
}

// Publish delivers the event to every current listener. It never fails.
func (b *Bus) Publish(ctx context.Context, name string, payload models.EventPayload) {
	ev := models.Event{
		EventID:    uuid.New().String(),
		Name:       name,
		OccurredAt: time.Now(),
		Payload:    payload,
	}

	b.mu.RLock()
	listeners := make([]Handler, 0, len(b.handlers[name])+len(b.wildcard))
	listeners = append(listeners, b.handlers[name]...)
	listeners = append(listeners, b.wildcard...)
	b.mu.RUnlock()

	for _, h := range listeners {
		b.invoke(ctx, h, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panicked",
				zap.String("event", ev.Name),
				zap.String("event_id", ev.EventID),
				zap.Any("panic", r))
		}
	}()

	if err := h(ctx, ev); err != nil {
		b.logger.Error("Event listener failed",
			zap.String("event", ev.Name),
			zap.String("event_id", ev.EventID),
			zap.Error(err))
	}
}
