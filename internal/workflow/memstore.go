package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oryxworks/flowcore/model"
)

type stateKey struct {
	kind     model.EntityKind
	entityID string
}

// MemoryStore is an in-memory workflow Store for testing.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[stateKey]model.WorkflowState
	approvals []model.Approval
}

// NewMemoryStore creates a new in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[stateKey]model.WorkflowState)}
}

// CreateState persists a new state row, one per entity.
func (s *MemoryStore) CreateState(_ context.Context, state model.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{state.EntityKind, state.EntityID}
	if _, exists := s.states[key]; exists {
		return model.NewConflictError(
			fmt.Sprintf("%s %q already has a workflow", state.EntityKind, state.EntityID),
		)
	}
	s.states[key] = state
	return nil
}

// State returns the state row for an entity.
func (s *MemoryStore) State(_ context.Context, organizationID string, kind model.EntityKind, entityID string) (model.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[stateKey{kind, entityID}]
	if !ok || state.OrganizationID != organizationID {
		return model.WorkflowState{}, model.NewNotFoundError(
			fmt.Sprintf("no workflow for %s %q", kind, entityID),
		)
	}
	return state, nil
}

// UpdateState persists the row under an optimistic version check. Approval
// records go in under the same lock, so the trail and the state never
// diverge.
func (s *MemoryStore) UpdateState(_ context.Context, state model.WorkflowState, expectedVersion int, approvals ...model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{state.EntityKind, state.EntityID}
	current, ok := s.states[key]
	if !ok {
		return model.NewNotFoundError(
			fmt.Sprintf("no workflow for %s %q", state.EntityKind, state.EntityID),
		)
	}
	if current.Version != expectedVersion {
		return model.NewConflictError("workflow was modified concurrently, retry the operation")
	}
	state.Version = expectedVersion + 1
	state.UpdatedAt = time.Now().UTC()
	s.states[key] = state
	s.approvals = append(s.approvals, approvals...)
	return nil
}

// DeleteState removes the state row and records the approvals under the same
// lock.
func (s *MemoryStore) DeleteState(_ context.Context, stateID string, approvals ...model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, state := range s.states {
		if state.ID == stateID {
			delete(s.states, key)
			s.approvals = append(s.approvals, approvals...)
			return nil
		}
	}
	return model.NewNotFoundError(fmt.Sprintf("workflow state %q not found", stateID))
}

// TemplateInUse reports whether any state row references the template.
func (s *MemoryStore) TemplateInUse(_ context.Context, templateID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.states {
		if state.TemplateID == templateID {
			return true, nil
		}
	}
	return false, nil
}

// Approvals returns the approval trail for an entity, oldest first.
func (s *MemoryStore) Approvals(_ context.Context, kind model.EntityKind, entityID string) ([]model.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Approval
	for _, a := range s.approvals {
		if a.EntityKind == kind && a.EntityID == entityID {
			result = append(result, a)
		}
	}
	return result, nil
}
