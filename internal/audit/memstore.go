package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oryxworks/flowcore/model"
)

// MemoryStore is an in-memory audit Store for testing.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []model.ExecutionLogEntry
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendLog persists one execution log entry.
func (s *MemoryStore) AppendLog(_ context.Context, entry model.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Logs returns execution log entries for an entity, newest first.
func (s *MemoryStore) Logs(_ context.Context, organizationID string, kind model.EntityKind, entityID string) ([]model.ExecutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ExecutionLogEntry
	for _, e := range s.entries {
		if e.OrganizationID == organizationID && e.EntityKind == kind && e.EntityID == entityID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Summary aggregates execution log rows for an organization.
func (s *MemoryStore) Summary(_ context.Context, organizationID string, since time.Time) (model.AnalyticsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := model.AnalyticsSummary{
		OrganizationID: organizationID,
		ByAction:       make(map[string]int),
	}
	var totalDuration int64
	for _, e := range s.entries {
		if e.OrganizationID != organizationID || e.CreatedAt.Before(since) {
			continue
		}
		summary.TotalOperations++
		if e.Success {
			summary.SuccessCount++
		}
		summary.ByAction[e.Action]++
		totalDuration += e.DurationMS
	}
	if summary.TotalOperations > 0 {
		summary.SuccessRate = float64(summary.SuccessCount) / float64(summary.TotalOperations)
		summary.AverageDurationMS = float64(totalDuration) / float64(summary.TotalOperations)
	}
	return summary, nil
}

// Count returns the number of entries matching the entity. For testing.
func (s *MemoryStore) Count(organizationID string, kind model.EntityKind, entityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if e.OrganizationID == organizationID && e.EntityKind == kind && e.EntityID == entityID {
			n++
		}
	}
	return n
}
