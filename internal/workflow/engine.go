package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/internal/audit"
	"github.com/oryxworks/flowcore/internal/authz"
	"github.com/oryxworks/flowcore/internal/entity"
	"github.com/oryxworks/flowcore/internal/eventbus"
	"github.com/oryxworks/flowcore/internal/observability"
	"github.com/oryxworks/flowcore/internal/registry"
	"github.com/oryxworks/flowcore/internal/rules"
	"github.com/oryxworks/flowcore/model"
)

// Engine executes workflow operations. Each call is stateless; concurrency
// on the same entity is resolved by the store's version check.
type Engine struct {
	registry registry.Store
	states   Store
	entities entity.Store
	authz    *authz.Evaluator
	bus      *eventbus.Bus
	recorder *audit.Recorder
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewEngine creates a workflow engine.
func NewEngine(
	reg registry.Store,
	states Store,
	entities entity.Store,
	evaluator *authz.Evaluator,
	bus *eventbus.Bus,
	recorder *audit.Recorder,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		registry: reg,
		states:   states,
		entities: entities,
		authz:    evaluator,
		bus:      bus,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// Initialize creates the workflow state for an entity using the
// organization's active default template. The entity starts at the step with
// the lowest order.
func (e *Engine) Initialize(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID string) (model.WorkflowState, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.initialize",
		observability.AttrEntityKind.String(string(kind)),
		observability.AttrEntityID.String(entityID),
		observability.AttrOrganizationID.String(rc.OrganizationID),
	)
	start := time.Now()
	var opErr error
	defer func() {
		observability.EndSpanWithError(span, opErr)
	}()

	state, err := e.initialize(ctx, rc, kind, entityID)
	opErr = err

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	e.metrics.WorkflowInitializationsTotal.WithLabelValues(string(kind), outcome).Inc()
	e.record(ctx, rc, kind, entityID, state.CurrentStepID, "initialized", start, err)
	return state, err
}

func (e *Engine) initialize(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID string) (model.WorkflowState, error) {
	if !kind.Valid() {
		return model.WorkflowState{}, model.NewBadRequestError("unknown entity type " + string(kind))
	}

	tpl, err := e.registry.DefaultTemplate(ctx, rc.OrganizationID, kind)
	if err != nil {
		return model.WorkflowState{}, err
	}
	steps, err := e.registry.StepsByTemplate(ctx, tpl.ID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	if len(steps) == 0 {
		return model.WorkflowState{}, model.NewPreconditionFailedError(
			fmt.Sprintf("template %q has no steps", tpl.Name),
		)
	}
	first := steps[0]

	// Entity must exist before a workflow can govern it.
	if _, err := e.entities.Load(ctx, rc.OrganizationID, kind, entityID); err != nil {
		return model.WorkflowState{}, err
	}

	pendingRole, err := e.pendingRole(ctx, first)
	if err != nil {
		return model.WorkflowState{}, err
	}

	now := time.Now().UTC()
	state := model.WorkflowState{
		ID:                      uuid.NewString(),
		EntityKind:              kind,
		EntityID:                entityID,
		OrganizationID:          rc.OrganizationID,
		TemplateID:              tpl.ID,
		CurrentStepID:           first.ID,
		PendingApprovalFromRole: pendingRole,
		StepStartedAt:           now,
		SLADueAt:                slaDeadline(now, first),
		Version:                 1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := e.states.CreateState(ctx, state); err != nil {
		return model.WorkflowState{}, err
	}

	if first.EntityStatus != "" {
		if err := e.entities.SetStatus(ctx, rc.OrganizationID, kind, entityID, first.EntityStatus); err != nil {
			observability.RequestLogger(ctx, e.logger).Warn("entity status update failed after initialization",
				zap.String("entity_id", entityID),
				zap.Error(err),
			)
		}
	}

	e.bus.Publish(ctx, rc, model.EventWorkflowInitialized, map[string]any{
		"entity_kind": string(kind),
		"entity_id":   entityID,
		"template_id": tpl.ID,
		"step_id":     first.ID,
	})
	return state, nil
}

// Transition moves an entity to a target step: authorizes the actor against
// the current step, evaluates the target step's conditions, updates state
// under a version check, applies the status mapping, and records the move.
func (e *Engine) Transition(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, targetStepID, action, comments string) (model.WorkflowState, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.transition",
		observability.AttrEntityKind.String(string(kind)),
		observability.AttrEntityID.String(entityID),
		observability.AttrStepID.String(targetStepID),
		observability.AttrAction.String(action),
	)
	start := time.Now()
	var opErr error
	defer func() {
		observability.EndSpanWithError(span, opErr)
	}()

	state, err := e.transition(ctx, rc, kind, entityID, targetStepID, action, comments)
	opErr = err

	e.metrics.RecordWorkflowOperation(string(kind), action, err == nil, time.Since(start))
	e.record(ctx, rc, kind, entityID, targetStepID, action, start, err)
	return state, err
}

func (e *Engine) transition(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, targetStepID, action, comments string) (model.WorkflowState, error) {
	state, err := e.states.State(ctx, rc.OrganizationID, kind, entityID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	current, err := e.registry.Step(ctx, state.CurrentStepID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	target, err := e.registry.Step(ctx, targetStepID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	if target.TemplateID != state.TemplateID {
		return model.WorkflowState{}, model.NewNotFoundError(
			fmt.Sprintf("step %q does not belong to the active template", targetStepID),
		)
	}

	if !current.AutoTransition() {
		if err := e.authz.Require(ctx, rc, current, capabilityFor(action)); err != nil {
			return model.WorkflowState{}, err
		}
	}

	fields, err := e.entities.Load(ctx, rc.OrganizationID, kind, entityID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	conditions, err := e.registry.Conditions(ctx, target.ID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	if failing, failed := rules.FirstFailing(conditions, fields); failed {
		return model.WorkflowState{}, model.NewPreconditionFailedError(
			fmt.Sprintf("condition on field %q (%s %s) not met",
				failing.FieldName, failing.Operator, failing.ExpectedValue),
		)
	}

	if state.SLADueAt != nil && time.Now().After(*state.SLADueAt) {
		e.metrics.WorkflowSLABreachesTotal.WithLabelValues(string(kind)).Inc()
	}

	pendingRole, err := e.pendingRole(ctx, target)
	if err != nil {
		return model.WorkflowState{}, err
	}

	now := time.Now().UTC()
	expectedVersion := state.Version
	fromStepID := state.CurrentStepID
	state.CurrentStepID = target.ID
	state.PendingApprovalFromRole = pendingRole
	state.StepStartedAt = now
	state.SLADueAt = slaDeadline(now, target)

	if err := e.states.UpdateState(ctx, state, expectedVersion, model.Approval{
		ID:         uuid.NewString(),
		EntityKind: kind,
		EntityID:   entityID,
		StepID:     current.ID,
		ActorID:    rc.UserID,
		Action:     action,
		Comments:   comments,
		CreatedAt:  now,
	}); err != nil {
		return model.WorkflowState{}, err
	}
	state.Version = expectedVersion + 1

	if target.EntityStatus != "" {
		if err := e.entities.SetStatus(ctx, rc.OrganizationID, kind, entityID, target.EntityStatus); err != nil {
			observability.RequestLogger(ctx, e.logger).Warn("entity status update failed after transition",
				zap.String("entity_id", entityID),
				zap.Error(err),
			)
		}
	}

	e.bus.Publish(ctx, rc, model.EventStepTransitioned, map[string]any{
		"entity_kind":  string(kind),
		"entity_id":    entityID,
		"from_step_id": fromStepID,
		"to_step_id":   target.ID,
		"action":       action,
		"actor":        rc.UserID,
	})
	return state, nil
}

// Approve advances the entity. An empty target resolves to the next step by
// order; approving at the terminal step has nowhere to go.
func (e *Engine) Approve(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, targetStepID, comments string) (model.WorkflowState, error) {
	if targetStepID == "" {
		start := time.Now()
		state, err := e.states.State(ctx, rc.OrganizationID, kind, entityID)
		if err != nil {
			e.record(ctx, rc, kind, entityID, "", model.ActionApproved, start, err)
			return model.WorkflowState{}, err
		}
		next, err := e.adjacentStep(ctx, state, +1)
		if err != nil {
			e.metrics.RecordWorkflowOperation(string(kind), model.ActionApproved, false, time.Since(start))
			e.record(ctx, rc, kind, entityID, state.CurrentStepID, model.ActionApproved, start, err)
			return model.WorkflowState{}, err
		}
		targetStepID = next.ID
	}
	return e.Transition(ctx, rc, kind, entityID, targetStepID, model.ActionApproved, comments)
}

// Reject sends the entity back: to the current step's configured reject
// target, or to the step with the next-lower order. Rejecting from the first
// step has nowhere to go.
func (e *Engine) Reject(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, comments string) (model.WorkflowState, error) {
	start := time.Now()
	state, err := e.states.State(ctx, rc.OrganizationID, kind, entityID)
	if err != nil {
		e.record(ctx, rc, kind, entityID, "", model.ActionRejected, start, err)
		return model.WorkflowState{}, err
	}
	current, err := e.registry.Step(ctx, state.CurrentStepID)
	if err != nil {
		e.record(ctx, rc, kind, entityID, state.CurrentStepID, model.ActionRejected, start, err)
		return model.WorkflowState{}, err
	}

	var targetStepID string
	if current.RejectTargetStepID != nil && *current.RejectTargetStepID != "" {
		targetStepID = *current.RejectTargetStepID
	} else {
		previous, err := e.adjacentStep(ctx, state, -1)
		if err != nil {
			e.metrics.RecordWorkflowOperation(string(kind), model.ActionRejected, false, time.Since(start))
			e.record(ctx, rc, kind, entityID, current.ID, model.ActionRejected, start, err)
			return model.WorkflowState{}, err
		}
		targetStepID = previous.ID
	}
	return e.Transition(ctx, rc, kind, entityID, targetStepID, model.ActionRejected, comments)
}

// Reassign changes who the workflow is waiting on. The step does not move
// and conditions are not evaluated.
func (e *Engine) Reassign(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, assigneeID, comments string) (model.WorkflowState, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.reassign",
		observability.AttrEntityKind.String(string(kind)),
		observability.AttrEntityID.String(entityID),
	)
	start := time.Now()
	var opErr error
	defer func() {
		observability.EndSpanWithError(span, opErr)
	}()

	state, err := e.reassign(ctx, rc, kind, entityID, assigneeID, comments)
	opErr = err

	e.metrics.RecordWorkflowOperation(string(kind), model.ActionReassigned, err == nil, time.Since(start))
	e.record(ctx, rc, kind, entityID, state.CurrentStepID, model.ActionReassigned, start, err)
	return state, err
}

func (e *Engine) reassign(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, assigneeID, comments string) (model.WorkflowState, error) {
	if assigneeID == "" {
		return model.WorkflowState{}, model.NewBadRequestError("assignee is required")
	}

	state, err := e.states.State(ctx, rc.OrganizationID, kind, entityID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	current, err := e.registry.Step(ctx, state.CurrentStepID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	if !current.AutoTransition() {
		if err := e.authz.Require(ctx, rc, current, model.CapabilityAssign); err != nil {
			return model.WorkflowState{}, err
		}
	}

	now := time.Now().UTC()
	expectedVersion := state.Version
	state.AssignedToUserID = assigneeID
	if err := e.states.UpdateState(ctx, state, expectedVersion, model.Approval{
		ID:         uuid.NewString(),
		EntityKind: kind,
		EntityID:   entityID,
		StepID:     current.ID,
		ActorID:    rc.UserID,
		Action:     model.ActionReassigned,
		Comments:   comments,
		CreatedAt:  now,
	}); err != nil {
		return model.WorkflowState{}, err
	}
	state.Version = expectedVersion + 1

	e.bus.Publish(ctx, rc, model.EventWorkflowReassigned, map[string]any{
		"entity_kind": string(kind),
		"entity_id":   entityID,
		"assignee_id": assigneeID,
		"actor":       rc.UserID,
	})
	return state, nil
}

// CompleteTerminal finishes a workflow standing at its terminal step: applies
// the terminal status mapping, records the completion, and deletes the state
// row. History survives in the approval trail. For safety incidents the
// caller may ask for a corrective work order, recorded as a side-effect
// approval row.
func (e *Engine) CompleteTerminal(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, comments string, createCorrectiveWorkOrder bool) error {
	ctx, span := observability.StartSpan(ctx, "workflow.complete",
		observability.AttrEntityKind.String(string(kind)),
		observability.AttrEntityID.String(entityID),
	)
	start := time.Now()
	var opErr error
	defer func() {
		observability.EndSpanWithError(span, opErr)
	}()

	stepID, err := e.completeTerminal(ctx, rc, kind, entityID, comments, createCorrectiveWorkOrder)
	opErr = err

	if err == nil {
		e.metrics.WorkflowCompletionsTotal.WithLabelValues(string(kind)).Inc()
	}
	e.metrics.RecordWorkflowOperation(string(kind), model.ActionTransition, err == nil, time.Since(start))
	e.record(ctx, rc, kind, entityID, stepID, "completed", start, err)
	return err
}

func (e *Engine) completeTerminal(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, comments string, createCorrectiveWorkOrder bool) (string, error) {
	state, err := e.states.State(ctx, rc.OrganizationID, kind, entityID)
	if err != nil {
		return "", err
	}
	current, err := e.registry.Step(ctx, state.CurrentStepID)
	if err != nil {
		return state.CurrentStepID, err
	}
	steps, err := e.registry.StepsByTemplate(ctx, state.TemplateID)
	if err != nil {
		return current.ID, err
	}
	if len(steps) == 0 || steps[len(steps)-1].ID != current.ID {
		return current.ID, model.NewConflictError(
			fmt.Sprintf("workflow is at step %q, not the terminal step", current.Name),
		)
	}

	if current.EntityStatus != "" {
		if err := e.entities.SetStatus(ctx, rc.OrganizationID, kind, entityID, current.EntityStatus); err != nil {
			return current.ID, err
		}
	}

	now := time.Now().UTC()
	approvals := []model.Approval{{
		ID:         uuid.NewString(),
		EntityKind: kind,
		EntityID:   entityID,
		StepID:     current.ID,
		ActorID:    rc.UserID,
		Action:     model.ActionTransition,
		Comments:   comments,
		CreatedAt:  now,
	}}
	if createCorrectiveWorkOrder && kind == model.KindSafetyIncident {
		approvals = append(approvals, model.Approval{
			ID:         uuid.NewString(),
			EntityKind: kind,
			EntityID:   entityID,
			StepID:     current.ID,
			ActorID:    rc.UserID,
			Action:     model.ActionWorkOrderCreated,
			Comments:   "corrective work order requested on incident completion",
			CreatedAt:  now,
		})
	}

	// The state row and the closing trail records go in one atomic write;
	// a trail failure must not discard the workflow's history.
	if err := e.states.DeleteState(ctx, state.ID, approvals...); err != nil {
		return current.ID, err
	}

	e.bus.Publish(ctx, rc, model.EventWorkflowCompleted, map[string]any{
		"entity_kind": string(kind),
		"entity_id":   entityID,
		"template_id": state.TemplateID,
		"step_id":     current.ID,
		"actor":       rc.UserID,
	})
	return current.ID, nil
}

// State returns the live workflow state for an entity.
func (e *Engine) State(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID string) (model.WorkflowState, error) {
	if !kind.Valid() {
		return model.WorkflowState{}, model.NewBadRequestError("unknown entity type " + string(kind))
	}
	return e.states.State(ctx, rc.OrganizationID, kind, entityID)
}

// Approvals returns the approval trail for an entity.
func (e *Engine) Approvals(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID string) ([]model.Approval, error) {
	if !kind.Valid() {
		return nil, model.NewBadRequestError("unknown entity type " + string(kind))
	}
	return e.states.Approvals(ctx, kind, entityID)
}

// adjacentStep returns the step whose order is nearest to the current step's
// in the given direction (+1 forward, -1 backward).
func (e *Engine) adjacentStep(ctx context.Context, state model.WorkflowState, direction int) (model.TemplateStep, error) {
	current, err := e.registry.Step(ctx, state.CurrentStepID)
	if err != nil {
		return model.TemplateStep{}, err
	}
	steps, err := e.registry.StepsByTemplate(ctx, state.TemplateID)
	if err != nil {
		return model.TemplateStep{}, err
	}

	if direction > 0 {
		for _, s := range steps {
			if s.StepOrder > current.StepOrder {
				return s, nil
			}
		}
		return model.TemplateStep{}, model.NewPreconditionFailedError(
			fmt.Sprintf("step %q is the terminal step, there is no next step", current.Name),
		)
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].StepOrder < current.StepOrder {
			return steps[i], nil
		}
	}
	return model.TemplateStep{}, model.NewPreconditionFailedError(
		fmt.Sprintf("step %q is the first step, there is nowhere to send a rejection", current.Name),
	)
}

// pendingRole returns the first approving role configured on the step, empty
// when the step needs no approval.
func (e *Engine) pendingRole(ctx context.Context, step model.TemplateStep) (string, error) {
	if step.ApprovalType != model.ApprovalTypeRole {
		return "", nil
	}
	grants, err := e.registry.RoleAssignments(ctx, step.ID)
	if err != nil {
		return "", err
	}
	for _, g := range grants {
		if g.CanApprove {
			return g.Role, nil
		}
	}
	return "", nil
}

// record writes one execution log row for an operation attempt.
func (e *Engine) record(ctx context.Context, rc model.RequestContext, kind model.EntityKind, entityID, stepID, action string, start time.Time, opErr error) {
	entry := model.ExecutionLogEntry{
		OrganizationID: rc.OrganizationID,
		EntityKind:     kind,
		EntityID:       entityID,
		StepID:         stepID,
		Action:         action,
		ActorID:        rc.UserID,
		DurationMS:     time.Since(start).Milliseconds(),
		Success:        opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	e.recorder.Record(ctx, entry)
}

func capabilityFor(action string) model.Capability {
	switch action {
	case model.ActionApproved:
		return model.CapabilityApprove
	case model.ActionRejected:
		return model.CapabilityReject
	case model.ActionReassigned:
		return model.CapabilityAssign
	default:
		return model.CapabilityEdit
	}
}

func slaDeadline(from time.Time, step model.TemplateStep) *time.Time {
	if step.SLAHours == nil {
		return nil
	}
	due := from.Add(time.Duration(*step.SLAHours) * time.Hour)
	return &due
}
