package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oryxworks/flowcore/model"
)

// MemoryStore is an in-memory event Store for testing.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]model.DomainEvent
	order  []string

	// AppendErr, when set, makes Append fail. For testing.
	AppendErr error
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]model.DomainEvent)}
}

// Append persists the event.
func (s *MemoryStore) Append(_ context.Context, event model.DomainEvent) error {
	if s.AppendErr != nil {
		return s.AppendErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.EventID] = event
	s.order = append(s.order, event.EventID)
	return nil
}

// MarkProcessed appends the consumer to the event's processed_by list.
func (s *MemoryStore) MarkProcessed(_ context.Context, eventID, consumer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("event %q not found", eventID))
	}
	for _, c := range event.ProcessedBy {
		if c == consumer {
			return nil
		}
	}
	event.ProcessedBy = append(event.ProcessedBy, consumer)
	s.events[eventID] = event
	return nil
}

// Events returns persisted events, newest first.
func (s *MemoryStore) Events(_ context.Context, organizationID, eventType, correlationID string, limit int) ([]model.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DomainEvent
	for _, id := range s.order {
		event := s.events[id]
		if organizationID != "" {
			org, _ := event.Metadata["organization_id"].(string)
			if org != organizationID {
				continue
			}
		}
		if eventType != "" && event.EventType != eventType {
			continue
		}
		if correlationID != "" && event.CorrelationID != correlationID {
			continue
		}
		result = append(result, event)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PublishedAt.After(result[j].PublishedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Event returns one persisted event by ID.
func (s *MemoryStore) Event(_ context.Context, eventID string) (model.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[eventID]
	if !ok {
		return model.DomainEvent{}, model.NewNotFoundError(fmt.Sprintf("event %q not found", eventID))
	}
	return event, nil
}
