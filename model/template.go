package model

import "time"

// ApprovalType controls whether advancing past a step requires a role grant.
const (
	ApprovalTypeNone = "none"
	ApprovalTypeRole = "role"
)

// Capability names a step-level permission an actor may hold.
type Capability string

const (
	CapabilityView    Capability = "view"
	CapabilityEdit    Capability = "edit"
	CapabilityApprove Capability = "approve"
	CapabilityReject  Capability = "reject"
	CapabilityAssign  Capability = "assign"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
)

// WorkflowTemplate is a named, organization-defined approval process for one
// entity kind. At most one template per (organization, kind) is the default.
type WorkflowTemplate struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	EntityKind     EntityKind `json:"entity_kind"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	IsDefault      bool       `json:"is_default"`
	IsActive       bool       `json:"is_active"`
	Version        int        `json:"version"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TemplateStep is one stage of a template. StepOrder is strictly ordered and
// unique within a template; the step with the maximum order is terminal.
type TemplateStep struct {
	ID           string `json:"id"`
	TemplateID   string `json:"template_id"`
	Name         string `json:"name"`
	StepOrder    int    `json:"step_order"`
	ApprovalType string `json:"approval_type"`

	// SLAHours, when set, budgets the deadline for leaving this step.
	SLAHours *int `json:"sla_hours,omitempty"`

	// EntityStatus, when set, is written to the entity's status field on
	// entering this step.
	EntityStatus string `json:"entity_status,omitempty"`

	CanApprove    bool `json:"can_approve"`
	CanReject     bool `json:"can_reject"`
	CanAssign     bool `json:"can_assign"`
	CanTransition bool `json:"can_transition"`

	// RejectTargetStepID overrides the default rejection target (the step
	// with the next-lower order).
	RejectTargetStepID *string `json:"reject_target_step_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AutoTransition reports whether the step advances without role checks.
func (s *TemplateStep) AutoTransition() bool {
	return s.ApprovalType == ApprovalTypeNone
}

// StepRoleAssignment grants one named role a subset of capabilities at a step.
type StepRoleAssignment struct {
	ID         string    `json:"id"`
	StepID     string    `json:"step_id"`
	Role       string    `json:"role"`
	CanView    bool      `json:"can_view"`
	CanEdit    bool      `json:"can_edit"`
	CanApprove bool      `json:"can_approve"`
	CanReject  bool      `json:"can_reject"`
	CanAssign  bool      `json:"can_assign"`
	CreatedAt  time.Time `json:"created_at"`
}

// Grants reports whether this assignment grants the given capability.
func (a *StepRoleAssignment) Grants(cap Capability) bool {
	switch cap {
	case CapabilityView:
		return a.CanView
	case CapabilityEdit:
		return a.CanEdit
	case CapabilityApprove:
		return a.CanApprove
	case CapabilityReject:
		return a.CanReject
	case CapabilityAssign:
		return a.CanAssign
	default:
		return false
	}
}

// StepCondition is one conjunctive guard on transitioning into a step. It
// compares a single entity field against an expected value.
type StepCondition struct {
	ID            string    `json:"id"`
	StepID        string    `json:"step_id"`
	FieldName     string    `json:"field_name"`
	Operator      string    `json:"operator"`
	ExpectedValue string    `json:"expected_value"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}
