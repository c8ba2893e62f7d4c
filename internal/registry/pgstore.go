package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oryxworks/flowcore/model"
)

// PgStore is a PostgreSQL-backed registry Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL registry store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// CreateTemplate persists a new template.
func (s *PgStore) CreateTemplate(ctx context.Context, tpl model.WorkflowTemplate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_templates
			(id, organization_id, entity_kind, name, description,
			 is_default, is_active, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tpl.ID, tpl.OrganizationID, tpl.EntityKind, tpl.Name, tpl.Description,
		tpl.IsDefault, tpl.IsActive, tpl.Version, tpl.CreatedBy, tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// Template retrieves a template by ID, scoped to an organization.
func (s *PgStore) Template(ctx context.Context, organizationID, templateID string) (model.WorkflowTemplate, error) {
	var tpl model.WorkflowTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, entity_kind, name, description,
		       is_default, is_active, version, created_by, created_at, updated_at
		FROM workflow_templates
		WHERE id = $1 AND organization_id = $2`,
		templateID, organizationID,
	).Scan(
		&tpl.ID, &tpl.OrganizationID, &tpl.EntityKind, &tpl.Name, &tpl.Description,
		&tpl.IsDefault, &tpl.IsActive, &tpl.Version, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowTemplate{}, model.NewNotFoundError(
			fmt.Sprintf("template %q not found", templateID),
		)
	}
	if err != nil {
		return model.WorkflowTemplate{}, fmt.Errorf("query template: %w", err)
	}
	return tpl, nil
}

// Templates lists all templates for an organization, newest first.
func (s *PgStore) Templates(ctx context.Context, organizationID string) ([]model.WorkflowTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, entity_kind, name, description,
		       is_default, is_active, version, created_by, created_at, updated_at
		FROM workflow_templates
		WHERE organization_id = $1
		ORDER BY created_at DESC`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowTemplate
	for rows.Next() {
		var tpl model.WorkflowTemplate
		if err := rows.Scan(
			&tpl.ID, &tpl.OrganizationID, &tpl.EntityKind, &tpl.Name, &tpl.Description,
			&tpl.IsDefault, &tpl.IsActive, &tpl.Version, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		result = append(result, tpl)
	}
	return result, rows.Err()
}

// UpdateTemplate persists template field changes.
func (s *PgStore) UpdateTemplate(ctx context.Context, tpl model.WorkflowTemplate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_templates
		SET name = $1, description = $2, is_active = $3, version = $4, updated_at = $5
		WHERE id = $6 AND organization_id = $7`,
		tpl.Name, tpl.Description, tpl.IsActive, tpl.Version, time.Now().UTC(),
		tpl.ID, tpl.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", tpl.ID))
	}
	return nil
}

// DeleteTemplate removes a template and its dependents in one transaction.
func (s *PgStore) DeleteTemplate(ctx context.Context, organizationID, templateID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete template: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM step_role_assignments
		WHERE step_id IN (SELECT id FROM workflow_template_steps WHERE template_id = $1)`,
		templateID,
	); err != nil {
		return fmt.Errorf("delete role assignments: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM step_conditions
		WHERE step_id IN (SELECT id FROM workflow_template_steps WHERE template_id = $1)`,
		templateID,
	); err != nil {
		return fmt.Errorf("delete conditions: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM workflow_template_steps WHERE template_id = $1`,
		templateID,
	); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM workflow_templates WHERE id = $1 AND organization_id = $2`,
		templateID, organizationID,
	)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", templateID))
	}
	return tx.Commit(ctx)
}

// SetDefault marks the template as default, clearing the previous one in the
// same transaction.
func (s *PgStore) SetDefault(ctx context.Context, organizationID string, kind model.EntityKind, templateID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set default: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE workflow_templates SET is_default = FALSE, updated_at = $1
		WHERE organization_id = $2 AND entity_kind = $3 AND is_default`,
		time.Now().UTC(), organizationID, kind,
	); err != nil {
		return fmt.Errorf("clear default: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE workflow_templates SET is_default = TRUE, updated_at = $1
		WHERE id = $2 AND organization_id = $3 AND entity_kind = $4`,
		time.Now().UTC(), templateID, organizationID, kind,
	)
	if err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", templateID))
	}
	return tx.Commit(ctx)
}

// DefaultTemplate returns the active default template for the kind.
func (s *PgStore) DefaultTemplate(ctx context.Context, organizationID string, kind model.EntityKind) (model.WorkflowTemplate, error) {
	var tpl model.WorkflowTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, entity_kind, name, description,
		       is_default, is_active, version, created_by, created_at, updated_at
		FROM workflow_templates
		WHERE organization_id = $1 AND entity_kind = $2 AND is_default AND is_active`,
		organizationID, kind,
	).Scan(
		&tpl.ID, &tpl.OrganizationID, &tpl.EntityKind, &tpl.Name, &tpl.Description,
		&tpl.IsDefault, &tpl.IsActive, &tpl.Version, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowTemplate{}, model.NewNotFoundError(
			fmt.Sprintf("no active default template for %s", kind),
		)
	}
	if err != nil {
		return model.WorkflowTemplate{}, fmt.Errorf("query default template: %w", err)
	}
	return tpl, nil
}

// CreateStep persists a new step.
func (s *PgStore) CreateStep(ctx context.Context, step model.TemplateStep) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_template_steps
			(id, template_id, name, step_order, approval_type, sla_hours,
			 entity_status, can_approve, can_reject, can_assign, can_transition,
			 reject_target_step_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		step.ID, step.TemplateID, step.Name, step.StepOrder, step.ApprovalType, step.SLAHours,
		step.EntityStatus, step.CanApprove, step.CanReject, step.CanAssign, step.CanTransition,
		step.RejectTargetStepID, step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// Step retrieves a step by ID.
func (s *PgStore) Step(ctx context.Context, stepID string) (model.TemplateStep, error) {
	var step model.TemplateStep
	err := s.pool.QueryRow(ctx, `
		SELECT id, template_id, name, step_order, approval_type, sla_hours,
		       entity_status, can_approve, can_reject, can_assign, can_transition,
		       reject_target_step_id, created_at
		FROM workflow_template_steps
		WHERE id = $1`,
		stepID,
	).Scan(
		&step.ID, &step.TemplateID, &step.Name, &step.StepOrder, &step.ApprovalType, &step.SLAHours,
		&step.EntityStatus, &step.CanApprove, &step.CanReject, &step.CanAssign, &step.CanTransition,
		&step.RejectTargetStepID, &step.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TemplateStep{}, model.NewNotFoundError(fmt.Sprintf("step %q not found", stepID))
	}
	if err != nil {
		return model.TemplateStep{}, fmt.Errorf("query step: %w", err)
	}
	return step, nil
}

// StepsByTemplate returns a template's steps ordered by step_order.
func (s *PgStore) StepsByTemplate(ctx context.Context, templateID string) ([]model.TemplateStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, template_id, name, step_order, approval_type, sla_hours,
		       entity_status, can_approve, can_reject, can_assign, can_transition,
		       reject_target_step_id, created_at
		FROM workflow_template_steps
		WHERE template_id = $1
		ORDER BY step_order ASC`,
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var result []model.TemplateStep
	for rows.Next() {
		var step model.TemplateStep
		if err := rows.Scan(
			&step.ID, &step.TemplateID, &step.Name, &step.StepOrder, &step.ApprovalType, &step.SLAHours,
			&step.EntityStatus, &step.CanApprove, &step.CanReject, &step.CanAssign, &step.CanTransition,
			&step.RejectTargetStepID, &step.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		result = append(result, step)
	}
	return result, rows.Err()
}

// UpdateStep persists step field changes.
func (s *PgStore) UpdateStep(ctx context.Context, step model.TemplateStep) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_template_steps
		SET name = $1, step_order = $2, approval_type = $3, sla_hours = $4,
		    entity_status = $5, can_approve = $6, can_reject = $7, can_assign = $8,
		    can_transition = $9, reject_target_step_id = $10
		WHERE id = $11`,
		step.Name, step.StepOrder, step.ApprovalType, step.SLAHours,
		step.EntityStatus, step.CanApprove, step.CanReject, step.CanAssign,
		step.CanTransition, step.RejectTargetStepID,
		step.ID,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("step %q not found", step.ID))
	}
	return nil
}

// DeleteStep removes a step with its grants and conditions.
func (s *PgStore) DeleteStep(ctx context.Context, stepID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete step: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM step_role_assignments WHERE step_id = $1`, stepID); err != nil {
		return fmt.Errorf("delete role assignments: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM step_conditions WHERE step_id = $1`, stepID); err != nil {
		return fmt.Errorf("delete conditions: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM workflow_template_steps WHERE id = $1`, stepID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("step %q not found", stepID))
	}
	return tx.Commit(ctx)
}

// CreateRoleAssignment persists a role grant on a step.
func (s *PgStore) CreateRoleAssignment(ctx context.Context, a model.StepRoleAssignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO step_role_assignments
			(id, step_id, role, can_view, can_edit, can_approve, can_reject, can_assign, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.StepID, a.Role, a.CanView, a.CanEdit, a.CanApprove, a.CanReject, a.CanAssign, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert role assignment: %w", err)
	}
	return nil
}

// RoleAssignment retrieves a role grant by ID.
func (s *PgStore) RoleAssignment(ctx context.Context, assignmentID string) (model.StepRoleAssignment, error) {
	var a model.StepRoleAssignment
	err := s.pool.QueryRow(ctx, `
		SELECT id, step_id, role, can_view, can_edit, can_approve, can_reject, can_assign, created_at
		FROM step_role_assignments
		WHERE id = $1`,
		assignmentID,
	).Scan(
		&a.ID, &a.StepID, &a.Role, &a.CanView, &a.CanEdit, &a.CanApprove, &a.CanReject, &a.CanAssign, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StepRoleAssignment{}, model.NewNotFoundError(
			fmt.Sprintf("role assignment %q not found", assignmentID),
		)
	}
	if err != nil {
		return model.StepRoleAssignment{}, fmt.Errorf("query role assignment: %w", err)
	}
	return a, nil
}

// RoleAssignments returns all role grants for a step.
func (s *PgStore) RoleAssignments(ctx context.Context, stepID string) ([]model.StepRoleAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, step_id, role, can_view, can_edit, can_approve, can_reject, can_assign, created_at
		FROM step_role_assignments
		WHERE step_id = $1
		ORDER BY created_at ASC`,
		stepID,
	)
	if err != nil {
		return nil, fmt.Errorf("query role assignments: %w", err)
	}
	defer rows.Close()

	var result []model.StepRoleAssignment
	for rows.Next() {
		var a model.StepRoleAssignment
		if err := rows.Scan(
			&a.ID, &a.StepID, &a.Role, &a.CanView, &a.CanEdit, &a.CanApprove, &a.CanReject, &a.CanAssign, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// DeleteRoleAssignment removes a role grant.
func (s *PgStore) DeleteRoleAssignment(ctx context.Context, assignmentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM step_role_assignments WHERE id = $1`, assignmentID)
	if err != nil {
		return fmt.Errorf("delete role assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("role assignment %q not found", assignmentID))
	}
	return nil
}

// CreateCondition persists a transition condition on a step.
func (s *PgStore) CreateCondition(ctx context.Context, c model.StepCondition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO step_conditions
			(id, step_id, field_name, operator, expected_value, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.StepID, c.FieldName, c.Operator, c.ExpectedValue, c.IsActive, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert condition: %w", err)
	}
	return nil
}

// Condition retrieves a condition by ID.
func (s *PgStore) Condition(ctx context.Context, conditionID string) (model.StepCondition, error) {
	var c model.StepCondition
	err := s.pool.QueryRow(ctx, `
		SELECT id, step_id, field_name, operator, expected_value, is_active, created_at
		FROM step_conditions
		WHERE id = $1`,
		conditionID,
	).Scan(
		&c.ID, &c.StepID, &c.FieldName, &c.Operator, &c.ExpectedValue, &c.IsActive, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StepCondition{}, model.NewNotFoundError(
			fmt.Sprintf("condition %q not found", conditionID),
		)
	}
	if err != nil {
		return model.StepCondition{}, fmt.Errorf("query condition: %w", err)
	}
	return c, nil
}

// Conditions returns all conditions for a step.
func (s *PgStore) Conditions(ctx context.Context, stepID string) ([]model.StepCondition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, step_id, field_name, operator, expected_value, is_active, created_at
		FROM step_conditions
		WHERE step_id = $1
		ORDER BY created_at ASC`,
		stepID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	var result []model.StepCondition
	for rows.Next() {
		var c model.StepCondition
		if err := rows.Scan(
			&c.ID, &c.StepID, &c.FieldName, &c.Operator, &c.ExpectedValue, &c.IsActive, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// DeleteCondition removes a condition.
func (s *PgStore) DeleteCondition(ctx context.Context, conditionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM step_conditions WHERE id = $1`, conditionID)
	if err != nil {
		return fmt.Errorf("delete condition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("condition %q not found", conditionID))
	}
	return nil
}
