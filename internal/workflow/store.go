// Package workflow implements the template-driven state machine that moves
// entities through their organization's approval process.
package workflow

import (
	"context"

	"github.com/oryxworks/flowcore/model"
)

// Store persists workflow state rows and the append-only approval trail.
type Store interface {
	// CreateState persists a new state row. At most one row may exist per
	// (kind, entity); a second create returns CONFLICT.
	CreateState(ctx context.Context, state model.WorkflowState) error

	// State returns the state row for an entity, or NOT_FOUND.
	State(ctx context.Context, organizationID string, kind model.EntityKind, entityID string) (model.WorkflowState, error)

	// UpdateState persists the row if its stored version still equals
	// expectedVersion, bumping the version, and appends the given approval
	// trail records in the same atomic write. A version mismatch returns
	// CONFLICT and nothing is written.
	UpdateState(ctx context.Context, state model.WorkflowState, expectedVersion int, approvals ...model.Approval) error

	// DeleteState removes the state row, appending the given approval trail
	// records in the same atomic write. Workflow completion is the only
	// caller; the approval rows are all that survives of the workflow.
	DeleteState(ctx context.Context, stateID string, approvals ...model.Approval) error

	// TemplateInUse reports whether any state row references the template.
	TemplateInUse(ctx context.Context, templateID string) (bool, error)

	// Approvals returns the approval trail for an entity, oldest first.
	Approvals(ctx context.Context, kind model.EntityKind, entityID string) ([]model.Approval, error)
}
