package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oryxworks/flowcore/model"
)

// PgStore is a PostgreSQL-backed workflow Store using pgx/v5. The
// workflow_states table carries a UNIQUE (entity_kind, entity_id) constraint
// backing the one-row-per-entity rule.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL workflow store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// CreateState persists a new state row, one per entity.
func (s *PgStore) CreateState(ctx context.Context, state model.WorkflowState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_states
			(id, entity_kind, entity_id, organization_id, template_id, current_step_id,
			 assigned_to_user_id, pending_approval_from_role, step_started_at, sla_due_at,
			 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		state.ID, state.EntityKind, state.EntityID, state.OrganizationID, state.TemplateID, state.CurrentStepID,
		state.AssignedToUserID, state.PendingApprovalFromRole, state.StepStartedAt, state.SLADueAt,
		state.Version, state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewConflictError(
				fmt.Sprintf("%s %q already has a workflow", state.EntityKind, state.EntityID),
			)
		}
		return fmt.Errorf("insert workflow state: %w", err)
	}
	return nil
}

// State returns the state row for an entity.
func (s *PgStore) State(ctx context.Context, organizationID string, kind model.EntityKind, entityID string) (model.WorkflowState, error) {
	var state model.WorkflowState
	err := s.pool.QueryRow(ctx, `
		SELECT id, entity_kind, entity_id, organization_id, template_id, current_step_id,
		       assigned_to_user_id, pending_approval_from_role, step_started_at, sla_due_at,
		       version, created_at, updated_at
		FROM workflow_states
		WHERE entity_kind = $1 AND entity_id = $2 AND organization_id = $3`,
		kind, entityID, organizationID,
	).Scan(
		&state.ID, &state.EntityKind, &state.EntityID, &state.OrganizationID, &state.TemplateID, &state.CurrentStepID,
		&state.AssignedToUserID, &state.PendingApprovalFromRole, &state.StepStartedAt, &state.SLADueAt,
		&state.Version, &state.CreatedAt, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowState{}, model.NewNotFoundError(
			fmt.Sprintf("no workflow for %s %q", kind, entityID),
		)
	}
	if err != nil {
		return model.WorkflowState{}, fmt.Errorf("query workflow state: %w", err)
	}
	return state, nil
}

// UpdateState persists the row under an optimistic version check. Approval
// records ride in the same transaction, so the trail and the state never
// diverge.
func (s *PgStore) UpdateState(ctx context.Context, state model.WorkflowState, expectedVersion int, approvals ...model.Approval) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin state update: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE workflow_states
		SET current_step_id = $1, assigned_to_user_id = $2, pending_approval_from_role = $3,
		    step_started_at = $4, sla_due_at = $5, version = version + 1, updated_at = $6
		WHERE id = $7 AND version = $8`,
		state.CurrentStepID, state.AssignedToUserID, state.PendingApprovalFromRole,
		state.StepStartedAt, state.SLADueAt, time.Now().UTC(),
		state.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update workflow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError("workflow was modified concurrently, retry the operation")
	}
	for _, a := range approvals {
		if err := appendApproval(ctx, tx, a); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit state update: %w", err)
	}
	return nil
}

// DeleteState removes the state row and records the approvals in the same
// transaction.
func (s *PgStore) DeleteState(ctx context.Context, stateID string, approvals ...model.Approval) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin state delete: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM workflow_states WHERE id = $1`, stateID)
	if err != nil {
		return fmt.Errorf("delete workflow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow state %q not found", stateID))
	}
	for _, a := range approvals {
		if err := appendApproval(ctx, tx, a); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit state delete: %w", err)
	}
	return nil
}

// TemplateInUse reports whether any state row references the template.
func (s *PgStore) TemplateInUse(ctx context.Context, templateID string) (bool, error) {
	var inUse bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_states WHERE template_id = $1)`,
		templateID,
	).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("check template usage: %w", err)
	}
	return inUse, nil
}

func appendApproval(ctx context.Context, tx pgx.Tx, approval model.Approval) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO workflow_approvals
			(id, entity_kind, entity_id, step_id, actor_id, action, comments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		approval.ID, approval.EntityKind, approval.EntityID, approval.StepID,
		approval.ActorID, approval.Action, approval.Comments, approval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Approvals returns the approval trail for an entity, oldest first.
func (s *PgStore) Approvals(ctx context.Context, kind model.EntityKind, entityID string) ([]model.Approval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_kind, entity_id, step_id, actor_id, action, comments, created_at
		FROM workflow_approvals
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at ASC`,
		kind, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var result []model.Approval
	for rows.Next() {
		var a model.Approval
		if err := rows.Scan(
			&a.ID, &a.EntityKind, &a.EntityID, &a.StepID, &a.ActorID, &a.Action, &a.Comments, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
