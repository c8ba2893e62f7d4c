package model

import "time"

// Approval actions recorded on the audit trail.
const (
	ActionApproved         = "approved"
	ActionRejected         = "rejected"
	ActionReassigned       = "reassigned"
	ActionTransition       = "transition"
	ActionWorkOrderCreated = "work_order_created"
)

// WorkflowState is the live pointer tracking which step a specific entity
// instance currently occupies. One row per entity; created by
// initialization, mutated only by the state machine, deleted when the
// workflow completes at its terminal step. Step history survives in the
// Approval trail, not here.
type WorkflowState struct {
	ID                      string     `json:"id"`
	EntityKind              EntityKind `json:"entity_kind"`
	EntityID                string     `json:"entity_id"`
	OrganizationID          string     `json:"organization_id"`
	TemplateID              string     `json:"template_id"`
	CurrentStepID           string     `json:"current_step_id"`
	AssignedToUserID        string     `json:"assigned_to_user_id,omitempty"`
	PendingApprovalFromRole string     `json:"pending_approval_from_role,omitempty"`
	StepStartedAt           time.Time  `json:"step_started_at"`
	SLADueAt                *time.Time `json:"sla_due_at,omitempty"`

	// Version guards concurrent transitions: the store rejects updates whose
	// version does not match the stored row.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Approval is an immutable audit record of one transition attempt that
// succeeded. Append-only; never updated or deleted.
type Approval struct {
	ID         string     `json:"id"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	StepID     string     `json:"step_id"`
	ActorID    string     `json:"actor_id"`
	Action     string     `json:"action"`
	Comments   string     `json:"comments,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
