package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/model"
)

// UsageChecker reports whether any live workflow instance still references a
// template. The workflow state store implements it.
type UsageChecker interface {
	TemplateInUse(ctx context.Context, templateID string) (bool, error)
}

// GrantCacheInvalidator evicts cached role grants for a step. The
// authorization evaluator implements it so grant changes take effect before
// its cache TTL expires.
type GrantCacheInvalidator interface {
	Invalidate(stepID string)
}

var validOperators = map[string]bool{
	model.OpEquals:      true,
	model.OpNotEquals:   true,
	model.OpGreaterThan: true,
	model.OpLessThan:    true,
	model.OpContains:    true,
}

// Service validates and applies template configuration changes on top of a
// Store.
type Service struct {
	store  Store
	usage  UsageChecker
	grants GrantCacheInvalidator
	logger *zap.Logger
}

// NewService creates a registry service.
func NewService(store Store, usage UsageChecker, logger *zap.Logger) *Service {
	return &Service{store: store, usage: usage, logger: logger}
}

// SetGrantCache registers the cache to evict when a step's role grants
// change. Optional.
func (s *Service) SetGrantCache(inv GrantCacheInvalidator) {
	s.grants = inv
}

func (s *Service) invalidateGrants(stepID string) {
	if s.grants != nil {
		s.grants.Invalidate(stepID)
	}
}

// CreateTemplate validates and persists a new template. The caller becomes
// CreatedBy.
func (s *Service) CreateTemplate(ctx context.Context, rc model.RequestContext, tpl model.WorkflowTemplate) (model.WorkflowTemplate, error) {
	var details []model.FieldError
	if strings.TrimSpace(tpl.Name) == "" {
		details = append(details, model.FieldError{
			Field: "name", Code: "required", Message: "name is required",
		})
	}
	if !tpl.EntityKind.Valid() {
		details = append(details, model.FieldError{
			Field: "entity_kind", Code: "invalid", Message: fmt.Sprintf("unknown entity kind %q", tpl.EntityKind),
		})
	}
	if len(details) > 0 {
		return model.WorkflowTemplate{}, model.NewValidationError(details)
	}

	now := time.Now().UTC()
	tpl.ID = uuid.NewString()
	tpl.OrganizationID = rc.OrganizationID
	tpl.IsDefault = false
	tpl.Version = 1
	tpl.CreatedBy = rc.UserID
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return model.WorkflowTemplate{}, err
	}
	s.logger.Info("template created",
		zap.String("template_id", tpl.ID),
		zap.String("entity_kind", string(tpl.EntityKind)),
		zap.String("organization_id", tpl.OrganizationID),
	)
	return tpl, nil
}

// Template returns one template with its steps, grants, and conditions.
func (s *Service) Template(ctx context.Context, rc model.RequestContext, templateID string) (model.WorkflowTemplate, []model.TemplateStep, error) {
	tpl, err := s.store.Template(ctx, rc.OrganizationID, templateID)
	if err != nil {
		return model.WorkflowTemplate{}, nil, err
	}
	steps, err := s.store.StepsByTemplate(ctx, templateID)
	if err != nil {
		return model.WorkflowTemplate{}, nil, err
	}
	return tpl, steps, nil
}

// Templates lists the organization's templates.
func (s *Service) Templates(ctx context.Context, rc model.RequestContext) ([]model.WorkflowTemplate, error) {
	return s.store.Templates(ctx, rc.OrganizationID)
}

// UpdateTemplate applies name, description, and active-flag changes and bumps
// the template version.
func (s *Service) UpdateTemplate(ctx context.Context, rc model.RequestContext, tpl model.WorkflowTemplate) (model.WorkflowTemplate, error) {
	current, err := s.store.Template(ctx, rc.OrganizationID, tpl.ID)
	if err != nil {
		return model.WorkflowTemplate{}, err
	}
	if strings.TrimSpace(tpl.Name) == "" {
		return model.WorkflowTemplate{}, model.NewValidationError([]model.FieldError{
			{Field: "name", Code: "required", Message: "name is required"},
		})
	}

	current.Name = tpl.Name
	current.Description = tpl.Description
	current.IsActive = tpl.IsActive
	current.Version++
	current.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTemplate(ctx, current); err != nil {
		return model.WorkflowTemplate{}, err
	}
	return current, nil
}

// DeleteTemplate removes a template. Templates still referenced by a live
// workflow instance cannot be removed.
func (s *Service) DeleteTemplate(ctx context.Context, rc model.RequestContext, templateID string) error {
	if _, err := s.store.Template(ctx, rc.OrganizationID, templateID); err != nil {
		return err
	}
	inUse, err := s.usage.TemplateInUse(ctx, templateID)
	if err != nil {
		return err
	}
	if inUse {
		return model.NewConflictError("template is referenced by active workflow instances")
	}
	if err := s.store.DeleteTemplate(ctx, rc.OrganizationID, templateID); err != nil {
		return err
	}
	s.logger.Info("template deleted",
		zap.String("template_id", templateID),
		zap.String("organization_id", rc.OrganizationID),
	)
	return nil
}

// SetDefault makes the template the default for its organization and kind.
func (s *Service) SetDefault(ctx context.Context, rc model.RequestContext, templateID string) error {
	tpl, err := s.store.Template(ctx, rc.OrganizationID, templateID)
	if err != nil {
		return err
	}
	if !tpl.IsActive {
		return model.NewPreconditionFailedError("inactive template cannot be the default")
	}
	return s.store.SetDefault(ctx, rc.OrganizationID, tpl.EntityKind, templateID)
}

// CreateStep validates and appends a step to a template. Duplicate step
// orders within the template are rejected.
func (s *Service) CreateStep(ctx context.Context, rc model.RequestContext, step model.TemplateStep) (model.TemplateStep, error) {
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return model.TemplateStep{}, err
	}

	var details []model.FieldError
	if strings.TrimSpace(step.Name) == "" {
		details = append(details, model.FieldError{
			Field: "name", Code: "required", Message: "name is required",
		})
	}
	if step.StepOrder < 1 {
		details = append(details, model.FieldError{
			Field: "step_order", Code: "invalid", Message: "step_order must be >= 1",
		})
	}
	if step.ApprovalType != model.ApprovalTypeNone && step.ApprovalType != model.ApprovalTypeRole {
		details = append(details, model.FieldError{
			Field: "approval_type", Code: "invalid", Message: fmt.Sprintf("unknown approval type %q", step.ApprovalType),
		})
	}
	if step.SLAHours != nil && *step.SLAHours <= 0 {
		details = append(details, model.FieldError{
			Field: "sla_hours", Code: "invalid", Message: "sla_hours must be positive",
		})
	}

	existing, err := s.store.StepsByTemplate(ctx, step.TemplateID)
	if err != nil {
		return model.TemplateStep{}, err
	}
	for _, e := range existing {
		if e.StepOrder == step.StepOrder {
			details = append(details, model.FieldError{
				Field: "step_order", Code: "duplicate",
				Message: fmt.Sprintf("step_order %d already used by step %q", step.StepOrder, e.Name),
			})
			break
		}
	}
	if len(details) > 0 {
		return model.TemplateStep{}, model.NewValidationError(details)
	}

	step.ID = uuid.NewString()
	step.CreatedAt = time.Now().UTC()
	if err := s.store.CreateStep(ctx, step); err != nil {
		return model.TemplateStep{}, err
	}
	return step, nil
}

// UpdateStep applies step field changes, re-checking order uniqueness.
func (s *Service) UpdateStep(ctx context.Context, rc model.RequestContext, step model.TemplateStep) (model.TemplateStep, error) {
	current, err := s.store.Step(ctx, step.ID)
	if err != nil {
		return model.TemplateStep{}, err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, current.TemplateID); err != nil {
		return model.TemplateStep{}, err
	}

	siblings, err := s.store.StepsByTemplate(ctx, current.TemplateID)
	if err != nil {
		return model.TemplateStep{}, err
	}
	for _, e := range siblings {
		if e.ID != current.ID && e.StepOrder == step.StepOrder {
			return model.TemplateStep{}, model.NewValidationError([]model.FieldError{{
				Field: "step_order", Code: "duplicate",
				Message: fmt.Sprintf("step_order %d already used by step %q", step.StepOrder, e.Name),
			}})
		}
	}

	current.Name = step.Name
	current.StepOrder = step.StepOrder
	current.ApprovalType = step.ApprovalType
	current.SLAHours = step.SLAHours
	current.EntityStatus = step.EntityStatus
	current.CanApprove = step.CanApprove
	current.CanReject = step.CanReject
	current.CanAssign = step.CanAssign
	current.CanTransition = step.CanTransition
	current.RejectTargetStepID = step.RejectTargetStepID

	if err := s.store.UpdateStep(ctx, current); err != nil {
		return model.TemplateStep{}, err
	}
	return current, nil
}

// DeleteStep removes a step from a template the caller's organization owns.
func (s *Service) DeleteStep(ctx context.Context, rc model.RequestContext, stepID string) error {
	step, err := s.store.Step(ctx, stepID)
	if err != nil {
		return err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return err
	}
	if err := s.store.DeleteStep(ctx, stepID); err != nil {
		return err
	}
	s.invalidateGrants(stepID)
	return nil
}

// CreateRoleAssignment validates and persists a role grant on a step.
func (s *Service) CreateRoleAssignment(ctx context.Context, rc model.RequestContext, a model.StepRoleAssignment) (model.StepRoleAssignment, error) {
	step, err := s.store.Step(ctx, a.StepID)
	if err != nil {
		return model.StepRoleAssignment{}, err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return model.StepRoleAssignment{}, err
	}
	if strings.TrimSpace(a.Role) == "" {
		return model.StepRoleAssignment{}, model.NewValidationError([]model.FieldError{
			{Field: "role", Code: "required", Message: "role is required"},
		})
	}

	a.ID = uuid.NewString()
	a.CreatedAt = time.Now().UTC()
	if err := s.store.CreateRoleAssignment(ctx, a); err != nil {
		return model.StepRoleAssignment{}, err
	}
	s.invalidateGrants(a.StepID)
	return a, nil
}

// RoleAssignments lists the role grants for a step.
func (s *Service) RoleAssignments(ctx context.Context, rc model.RequestContext, stepID string) ([]model.StepRoleAssignment, error) {
	step, err := s.store.Step(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return nil, err
	}
	return s.store.RoleAssignments(ctx, stepID)
}

// DeleteRoleAssignment removes a role grant from a step the caller's
// organization owns.
func (s *Service) DeleteRoleAssignment(ctx context.Context, rc model.RequestContext, assignmentID string) error {
	a, err := s.store.RoleAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	step, err := s.store.Step(ctx, a.StepID)
	if err != nil {
		return err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return err
	}
	if err := s.store.DeleteRoleAssignment(ctx, assignmentID); err != nil {
		return err
	}
	s.invalidateGrants(a.StepID)
	return nil
}

// CreateCondition validates and persists a transition condition on a step.
func (s *Service) CreateCondition(ctx context.Context, rc model.RequestContext, c model.StepCondition) (model.StepCondition, error) {
	step, err := s.store.Step(ctx, c.StepID)
	if err != nil {
		return model.StepCondition{}, err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return model.StepCondition{}, err
	}

	var details []model.FieldError
	if strings.TrimSpace(c.FieldName) == "" {
		details = append(details, model.FieldError{
			Field: "field_name", Code: "required", Message: "field_name is required",
		})
	}
	if !validOperators[c.Operator] {
		details = append(details, model.FieldError{
			Field: "operator", Code: "invalid", Message: fmt.Sprintf("unknown operator %q", c.Operator),
		})
	}
	if len(details) > 0 {
		return model.StepCondition{}, model.NewValidationError(details)
	}

	c.ID = uuid.NewString()
	c.IsActive = true
	c.CreatedAt = time.Now().UTC()
	if err := s.store.CreateCondition(ctx, c); err != nil {
		return model.StepCondition{}, err
	}
	return c, nil
}

// Conditions lists the conditions on a step.
func (s *Service) Conditions(ctx context.Context, rc model.RequestContext, stepID string) ([]model.StepCondition, error) {
	step, err := s.store.Step(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return nil, err
	}
	return s.store.Conditions(ctx, stepID)
}

// DeleteCondition removes a condition from a step the caller's organization
// owns.
func (s *Service) DeleteCondition(ctx context.Context, rc model.RequestContext, conditionID string) error {
	c, err := s.store.Condition(ctx, conditionID)
	if err != nil {
		return err
	}
	step, err := s.store.Step(ctx, c.StepID)
	if err != nil {
		return err
	}
	if _, err := s.store.Template(ctx, rc.OrganizationID, step.TemplateID); err != nil {
		return err
	}
	return s.store.DeleteCondition(ctx, conditionID)
}
