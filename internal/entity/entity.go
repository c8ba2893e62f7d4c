// Package entity gives the workflow core read/write access to the entities
// it governs. Each entity kind maps to its own table through a closed
// strategy resolved once per call, never re-derived from strings mid-flight.
package entity

import (
	"context"

	"github.com/oryxworks/flowcore/model"
)

// Strategy describes how one entity kind is persisted.
type Strategy struct {
	Kind         model.EntityKind
	Table        string
	IDColumn     string
	StatusColumn string
}

var strategies = map[model.EntityKind]Strategy{
	model.KindWorkOrder: {
		Kind:         model.KindWorkOrder,
		Table:        "work_orders",
		IDColumn:     "id",
		StatusColumn: "status",
	},
	model.KindSafetyIncident: {
		Kind:         model.KindSafetyIncident,
		Table:        "safety_incidents",
		IDColumn:     "id",
		StatusColumn: "status",
	},
}

// StrategyFor returns the persistence strategy for the given kind.
func StrategyFor(kind model.EntityKind) (Strategy, error) {
	s, ok := strategies[kind]
	if !ok {
		return Strategy{}, model.NewBadRequestError("unknown entity type " + string(kind))
	}
	return s, nil
}

// Store reads entity field values for condition evaluation and writes the
// externally visible status on workflow transitions.
type Store interface {
	// Load returns the entity's current field values, or NOT_FOUND.
	Load(ctx context.Context, organizationID string, kind model.EntityKind, entityID string) (map[string]any, error)

	// SetStatus updates the entity's status field, or NOT_FOUND.
	SetStatus(ctx context.Context, organizationID string, kind model.EntityKind, entityID, status string) error
}
