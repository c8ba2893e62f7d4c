package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/internal/observability"
	"github.com/oryxworks/flowcore/model"
)

// Handler consumes one domain event. Handlers run on their own goroutine and
// must honor the context deadline.
type Handler func(ctx context.Context, event model.DomainEvent) error

type subscriber struct {
	name    string
	handler Handler
}

// Bus broadcasts domain events to registered subscribers. Delivery is
// at-most-once: a failed or panicking handler is logged and never retried,
// and publication never propagates handler errors back to the caller.
type Bus struct {
	serviceName    string
	handlerTimeout time.Duration
	store          Store
	logger         *zap.Logger
	metrics        *observability.Metrics

	mu          sync.RWMutex
	subscribers map[string][]subscriber
	closed      bool

	wg sync.WaitGroup
}

// New creates a Bus that persists events to store before dispatch.
func New(serviceName string, handlerTimeout time.Duration, store Store, logger *zap.Logger, metrics *observability.Metrics) *Bus {
	return &Bus{
		serviceName:    serviceName,
		handlerTimeout: handlerTimeout,
		store:          store,
		logger:         logger,
		metrics:        metrics,
		subscribers:    make(map[string][]subscriber),
	}
}

// Subscribe registers a named handler for an event type. Registration after
// Close is ignored.
func (b *Bus) Subscribe(eventType, consumerName string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{
		name:    consumerName,
		handler: h,
	})
}

// Publish stamps, persists, and broadcasts the event. It returns once
// dispatch goroutines are launched; it never waits for handlers and never
// returns an error. Persistence failures are logged and dispatch continues.
func (b *Bus) Publish(ctx context.Context, rc model.RequestContext, eventType string, payload map[string]any) model.DomainEvent {
	event := model.DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		ServiceName:   b.serviceName,
		CorrelationID: rc.CorrelationID,
		Payload:       payload,
		Metadata: map[string]any{
			"organization_id": rc.OrganizationID,
			"user_id":         rc.UserID,
		},
		PublishedAt: time.Now().UTC(),
	}

	logger := observability.LoggerFrom(ctx, b.logger)
	if err := b.store.Append(ctx, event); err != nil {
		b.metrics.EventPersistFailuresTotal.Inc()
		logger.Error("event persistence failed, broadcasting anyway",
			zap.String("event_id", event.EventID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
	b.metrics.EventsPublishedTotal.WithLabelValues(eventType).Inc()

	b.mu.RLock()
	subs := b.subscribers[eventType]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return event
	}

	for _, sub := range subs {
		b.wg.Add(1)
		go b.dispatch(sub, event)
	}
	return event
}

// dispatch runs one handler with panic isolation and a bounded timeout. The
// handler gets a fresh context so it outlives the originating request.
func (b *Bus) dispatch(sub subscriber, event model.DomainEvent) {
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.metrics.EventHandlerFailuresTotal.WithLabelValues(event.EventType).Inc()
			b.logger.Error("event handler panicked",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.String("consumer", sub.name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.handler(ctx, event); err != nil {
		b.metrics.EventHandlerFailuresTotal.WithLabelValues(event.EventType).Inc()
		b.logger.Warn("event handler failed",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.String("consumer", sub.name),
			zap.Error(err),
		)
		return
	}

	b.metrics.EventsDeliveredTotal.WithLabelValues(event.EventType).Inc()
	if err := b.store.MarkProcessed(ctx, event.EventID, sub.name); err != nil {
		b.logger.Warn("processed_by update failed",
			zap.String("event_id", event.EventID),
			zap.String("consumer", sub.name),
			zap.Error(err),
		)
	}
}

// Replay re-dispatches a persisted event to its current subscribers.
func (b *Bus) Replay(ctx context.Context, eventID string) (model.DomainEvent, error) {
	event, err := b.store.Event(ctx, eventID)
	if err != nil {
		return model.DomainEvent{}, err
	}

	b.mu.RLock()
	subs := b.subscribers[event.EventType]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return model.DomainEvent{}, model.NewConflictError("event bus is shut down")
	}

	for _, sub := range subs {
		b.wg.Add(1)
		go b.dispatch(sub, event)
	}
	return event, nil
}

// Close stops accepting publications and waits up to drainTimeout for
// in-flight handlers to finish.
func (b *Bus) Close(drainTimeout time.Duration) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		b.logger.Warn("event bus drain timed out, abandoning in-flight handlers")
		return context.DeadlineExceeded
	}
}
