package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oryxworks/flowcore/model"
)

// MemoryStore is an in-memory registry Store for testing.
type MemoryStore struct {
	mu          sync.RWMutex
	templates   map[string]model.WorkflowTemplate
	steps       map[string]model.TemplateStep
	assignments map[string]model.StepRoleAssignment
	conditions  map[string]model.StepCondition
}

// NewMemoryStore creates a new in-memory registry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:   make(map[string]model.WorkflowTemplate),
		steps:       make(map[string]model.TemplateStep),
		assignments: make(map[string]model.StepRoleAssignment),
		conditions:  make(map[string]model.StepCondition),
	}
}

// CreateTemplate persists a new template.
func (s *MemoryStore) CreateTemplate(_ context.Context, tpl model.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[tpl.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("template %q already exists", tpl.ID))
	}
	s.templates[tpl.ID] = tpl
	return nil
}

// Template retrieves a template by ID, scoped to an organization.
func (s *MemoryStore) Template(_ context.Context, organizationID, templateID string) (model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[templateID]
	if !ok || tpl.OrganizationID != organizationID {
		return model.WorkflowTemplate{}, model.NewNotFoundError(
			fmt.Sprintf("template %q not found", templateID),
		)
	}
	return tpl, nil
}

// Templates lists all templates for an organization, newest first.
func (s *MemoryStore) Templates(_ context.Context, organizationID string) ([]model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowTemplate
	for _, tpl := range s.templates {
		if tpl.OrganizationID == organizationID {
			result = append(result, tpl)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateTemplate persists template field changes.
func (s *MemoryStore) UpdateTemplate(_ context.Context, tpl model.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[tpl.ID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", tpl.ID))
	}
	tpl.UpdatedAt = time.Now().UTC()
	s.templates[tpl.ID] = tpl
	return nil
}

// DeleteTemplate removes a template and its dependents.
func (s *MemoryStore) DeleteTemplate(_ context.Context, organizationID, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[templateID]
	if !ok || tpl.OrganizationID != organizationID {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", templateID))
	}
	delete(s.templates, templateID)
	for id, step := range s.steps {
		if step.TemplateID != templateID {
			continue
		}
		delete(s.steps, id)
		for aid, a := range s.assignments {
			if a.StepID == id {
				delete(s.assignments, aid)
			}
		}
		for cid, c := range s.conditions {
			if c.StepID == id {
				delete(s.conditions, cid)
			}
		}
	}
	return nil
}

// SetDefault marks the template as default, clearing the previous one.
func (s *MemoryStore) SetDefault(_ context.Context, organizationID string, kind model.EntityKind, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.templates[templateID]
	if !ok || target.OrganizationID != organizationID || target.EntityKind != kind {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", templateID))
	}

	for id, tpl := range s.templates {
		if tpl.OrganizationID == organizationID && tpl.EntityKind == kind && tpl.IsDefault {
			tpl.IsDefault = false
			s.templates[id] = tpl
		}
	}
	target.IsDefault = true
	target.UpdatedAt = time.Now().UTC()
	s.templates[templateID] = target
	return nil
}

// DefaultTemplate returns the active default template for the kind.
func (s *MemoryStore) DefaultTemplate(_ context.Context, organizationID string, kind model.EntityKind) (model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tpl := range s.templates {
		if tpl.OrganizationID == organizationID && tpl.EntityKind == kind && tpl.IsDefault && tpl.IsActive {
			return tpl, nil
		}
	}
	return model.WorkflowTemplate{}, model.NewNotFoundError(
		fmt.Sprintf("no active default template for %s", kind),
	)
}

// CreateStep persists a new step.
func (s *MemoryStore) CreateStep(_ context.Context, step model.TemplateStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[step.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("step %q already exists", step.ID))
	}
	s.steps[step.ID] = step
	return nil
}

// Step retrieves a step by ID.
func (s *MemoryStore) Step(_ context.Context, stepID string) (model.TemplateStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, ok := s.steps[stepID]
	if !ok {
		return model.TemplateStep{}, model.NewNotFoundError(fmt.Sprintf("step %q not found", stepID))
	}
	return step, nil
}

// StepsByTemplate returns a template's steps ordered by step_order.
func (s *MemoryStore) StepsByTemplate(_ context.Context, templateID string) ([]model.TemplateStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TemplateStep
	for _, step := range s.steps {
		if step.TemplateID == templateID {
			result = append(result, step)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StepOrder < result[j].StepOrder
	})
	return result, nil
}

// UpdateStep persists step field changes.
func (s *MemoryStore) UpdateStep(_ context.Context, step model.TemplateStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[step.ID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("step %q not found", step.ID))
	}
	s.steps[step.ID] = step
	return nil
}

// DeleteStep removes a step with its grants and conditions.
func (s *MemoryStore) DeleteStep(_ context.Context, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[stepID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("step %q not found", stepID))
	}
	delete(s.steps, stepID)
	for id, a := range s.assignments {
		if a.StepID == stepID {
			delete(s.assignments, id)
		}
	}
	for id, c := range s.conditions {
		if c.StepID == stepID {
			delete(s.conditions, id)
		}
	}
	return nil
}

// CreateRoleAssignment persists a role grant on a step.
func (s *MemoryStore) CreateRoleAssignment(_ context.Context, a model.StepRoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[a.StepID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("step %q not found", a.StepID))
	}
	s.assignments[a.ID] = a
	return nil
}

// RoleAssignment retrieves a role grant by ID.
func (s *MemoryStore) RoleAssignment(_ context.Context, assignmentID string) (model.StepRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[assignmentID]
	if !ok {
		return model.StepRoleAssignment{}, model.NewNotFoundError(
			fmt.Sprintf("role assignment %q not found", assignmentID),
		)
	}
	return a, nil
}

// RoleAssignments returns all role grants for a step.
func (s *MemoryStore) RoleAssignments(_ context.Context, stepID string) ([]model.StepRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepRoleAssignment
	for _, a := range s.assignments {
		if a.StepID == stepID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteRoleAssignment removes a role grant.
func (s *MemoryStore) DeleteRoleAssignment(_ context.Context, assignmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[assignmentID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("role assignment %q not found", assignmentID))
	}
	delete(s.assignments, assignmentID)
	return nil
}

// CreateCondition persists a transition condition on a step.
func (s *MemoryStore) CreateCondition(_ context.Context, c model.StepCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[c.StepID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("step %q not found", c.StepID))
	}
	s.conditions[c.ID] = c
	return nil
}

// Condition retrieves a condition by ID.
func (s *MemoryStore) Condition(_ context.Context, conditionID string) (model.StepCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conditions[conditionID]
	if !ok {
		return model.StepCondition{}, model.NewNotFoundError(
			fmt.Sprintf("condition %q not found", conditionID),
		)
	}
	return c, nil
}

// Conditions returns all conditions for a step.
func (s *MemoryStore) Conditions(_ context.Context, stepID string) ([]model.StepCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepCondition
	for _, c := range s.conditions {
		if c.StepID == stepID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteCondition removes a condition.
func (s *MemoryStore) DeleteCondition(_ context.Context, conditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conditions[conditionID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("condition %q not found", conditionID))
	}
	delete(s.conditions, conditionID)
	return nil
}
