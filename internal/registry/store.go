// Package registry manages organization-defined workflow templates: the
// process graphs, their ordered steps, per-step role grants, and per-step
// conditional-transition rules.
package registry

import (
	"context"

	"github.com/oryxworks/flowcore/model"
)

// Store persists workflow templates and their configuration.
type Store interface {
	// CreateTemplate persists a new template.
	CreateTemplate(ctx context.Context, tpl model.WorkflowTemplate) error

	// Template retrieves a template by ID, scoped to an organization.
	Template(ctx context.Context, organizationID, templateID string) (model.WorkflowTemplate, error)

	// Templates lists all templates for an organization.
	Templates(ctx context.Context, organizationID string) ([]model.WorkflowTemplate, error)

	// UpdateTemplate persists template field changes.
	UpdateTemplate(ctx context.Context, tpl model.WorkflowTemplate) error

	// DeleteTemplate removes a template and its steps, grants, and
	// conditions.
	DeleteTemplate(ctx context.Context, organizationID, templateID string) error

	// SetDefault marks the given template as the default for its
	// organization and entity kind, atomically clearing the previous
	// default.
	SetDefault(ctx context.Context, organizationID string, kind model.EntityKind, templateID string) error

	// DefaultTemplate returns the active default template for the
	// organization and kind, or NOT_FOUND.
	DefaultTemplate(ctx context.Context, organizationID string, kind model.EntityKind) (model.WorkflowTemplate, error)

	// CreateStep persists a new step.
	CreateStep(ctx context.Context, step model.TemplateStep) error

	// Step retrieves a step by ID.
	Step(ctx context.Context, stepID string) (model.TemplateStep, error)

	// StepsByTemplate returns a template's steps ordered by step_order.
	StepsByTemplate(ctx context.Context, templateID string) ([]model.TemplateStep, error)

	// UpdateStep persists step field changes.
	UpdateStep(ctx context.Context, step model.TemplateStep) error

	// DeleteStep removes a step with its grants and conditions.
	DeleteStep(ctx context.Context, stepID string) error

	// CreateRoleAssignment persists a role grant on a step.
	CreateRoleAssignment(ctx context.Context, a model.StepRoleAssignment) error

	// RoleAssignment retrieves a role grant by ID.
	RoleAssignment(ctx context.Context, assignmentID string) (model.StepRoleAssignment, error)

	// RoleAssignments returns all role grants for a step.
	RoleAssignments(ctx context.Context, stepID string) ([]model.StepRoleAssignment, error)

	// DeleteRoleAssignment removes a role grant.
	DeleteRoleAssignment(ctx context.Context, assignmentID string) error

	// CreateCondition persists a transition condition on a step.
	CreateCondition(ctx context.Context, c model.StepCondition) error

	// Condition retrieves a condition by ID.
	Condition(ctx context.Context, conditionID string) (model.StepCondition, error)

	// Conditions returns all conditions for a step, active or not.
	Conditions(ctx context.Context, stepID string) ([]model.StepCondition, error)

	// DeleteCondition removes a condition.
	DeleteCondition(ctx context.Context, conditionID string) error
}
