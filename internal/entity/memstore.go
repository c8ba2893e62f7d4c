package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/oryxworks/flowcore/model"
)

type memKey struct {
	org  string
	kind model.EntityKind
	id   string
}

// MemoryStore is an in-memory entity Store for testing.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[memKey]map[string]any
}

// NewMemoryStore creates a new in-memory entity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[memKey]map[string]any)}
}

// Put seeds an entity. For testing.
func (s *MemoryStore) Put(organizationID string, kind model.EntityKind, entityID string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.entities[memKey{organizationID, kind, entityID}] = cp
}

// Load returns a copy of the entity's field values.
func (s *MemoryStore) Load(_ context.Context, organizationID string, kind model.EntityKind, entityID string) (map[string]any, error) {
	if _, err := StrategyFor(kind); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.entities[memKey{organizationID, kind, entityID}]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, entityID))
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp, nil
}

// SetStatus updates the entity's status field.
func (s *MemoryStore) SetStatus(_ context.Context, organizationID string, kind model.EntityKind, entityID, status string) error {
	strat, err := StrategyFor(kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.entities[memKey{organizationID, kind, entityID}]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, entityID))
	}
	fields[strat.StatusColumn] = status
	return nil
}

// Status returns the entity's current status. For testing.
func (s *MemoryStore) Status(organizationID string, kind model.EntityKind, entityID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.entities[memKey{organizationID, kind, entityID}]
	if !ok {
		return ""
	}
	status, _ := fields["status"].(string)
	return status
}
