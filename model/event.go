package model

import "time"

// Domain event types published by the workflow core.
const (
	EventWorkflowInitialized = "workflow.initialized"
	EventStepTransitioned    = "workflow.step_transitioned"
	EventWorkflowReassigned  = "workflow.reassigned"
	EventWorkflowCompleted   = "workflow.completed"
)

// DomainEvent is a typed, correlation-tagged fact broadcast to decoupled
// subscribers and durably logged for audit and replay. ProcessedBy is a
// best-effort record of which consumers acknowledged the event; it is not
// authoritative and delivery remains at-most-once.
type DomainEvent struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	ServiceName   string         `json:"service_name"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ProcessedBy   []string       `json:"processed_by,omitempty"`
	PublishedAt   time.Time      `json:"published_at"`
}
