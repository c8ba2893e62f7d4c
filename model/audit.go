package model

import "time"

// ExecutionLogEntry is an append-only record of one attempted workflow
// operation, success or failure. The state machine writes it and never reads
// it back; analytics consumers aggregate it.
type ExecutionLogEntry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	EntityKind     EntityKind     `json:"entity_kind"`
	EntityID       string         `json:"entity_id"`
	StepID         string         `json:"step_id,omitempty"`
	Action         string         `json:"action"`
	ActorID        string         `json:"actor_id"`
	DurationMS     int64          `json:"duration_ms"`
	Success        bool           `json:"success"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AnalyticsSummary aggregates execution-log rows for one organization.
type AnalyticsSummary struct {
	OrganizationID    string         `json:"organization_id"`
	TotalOperations   int            `json:"total_operations"`
	SuccessCount      int            `json:"success_count"`
	SuccessRate       float64        `json:"success_rate"`
	AverageDurationMS float64        `json:"average_duration_ms"`
	ByAction          map[string]int `json:"by_action"`
}
