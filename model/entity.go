package model

// EntityKind identifies which kind of entity a workflow governs. The set is
// closed: persistence strategies are resolved from it once per call rather
// than re-derived from strings at each step.
type EntityKind string

const (
	KindWorkOrder      EntityKind = "work_orders"
	KindSafetyIncident EntityKind = "safety_incidents"
)

// ParseEntityKind converts an external entity-type string to an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case KindWorkOrder:
		return KindWorkOrder, nil
	case KindSafetyIncident:
		return KindSafetyIncident, nil
	default:
		return "", NewBadRequestError("unknown entity type " + s)
	}
}

// Valid reports whether k is a member of the closed kind set.
func (k EntityKind) Valid() bool {
	return k == KindWorkOrder || k == KindSafetyIncident
}
