package rules

import (
	"testing"

	"github.com/oryxworks/flowcore/model"
)

func active(field, op, expected string) model.StepCondition {
	return model.StepCondition{
		FieldName:     field,
		Operator:      op,
		ExpectedValue: expected,
		IsActive:      true,
	}
}

func TestEvaluateOperators(t *testing.T) {
	fields := map[string]any{
		"priority":       "high",
		"estimated_cost": 4500.0,
		"attempt":        int64(3),
		"description":    "pump seal replacement",
	}

	cases := []struct {
		name string
		cond model.StepCondition
		want bool
	}{
		{"equals match", active("priority", model.OpEquals, "high"), true},
		{"equals mismatch", active("priority", model.OpEquals, "low"), false},
		{"not_equals match", active("priority", model.OpNotEquals, "low"), true},
		{"not_equals mismatch", active("priority", model.OpNotEquals, "high"), false},
		{"greater_than float", active("estimated_cost", model.OpGreaterThan, "1000"), true},
		{"greater_than fails", active("estimated_cost", model.OpGreaterThan, "5000"), false},
		{"less_than int64", active("attempt", model.OpLessThan, "5"), true},
		{"contains", active("description", model.OpContains, "seal"), true},
		{"contains fails", active("description", model.OpContains, "motor"), false},
		{"missing field", active("absent", model.OpEquals, "x"), false},
		{"unknown operator", active("priority", "regex", "h.*"), false},
		{"non-numeric under numeric op", active("priority", model.OpGreaterThan, "10"), false},
		{"non-numeric expected", active("estimated_cost", model.OpGreaterThan, "lots"), false},
	}
	for _, tc := range cases {
		if got := Evaluate([]model.StepCondition{tc.cond}, fields); got != tc.want {
			t.Errorf("%s: Evaluate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvaluateNumericStringField(t *testing.T) {
	fields := map[string]any{"estimated_cost": "2500.50"}
	if !Evaluate([]model.StepCondition{active("estimated_cost", model.OpGreaterThan, "1000")}, fields) {
		t.Error("numeric string field should compare numerically")
	}
}

func TestEvaluateConjunction(t *testing.T) {
	fields := map[string]any{"priority": "high", "estimated_cost": 200.0}

	conds := []model.StepCondition{
		active("priority", model.OpEquals, "high"),
		active("estimated_cost", model.OpGreaterThan, "1000"),
	}
	if Evaluate(conds, fields) {
		t.Error("one failing condition must fail the conjunction")
	}

	failing, found := FirstFailing(conds, fields)
	if !found {
		t.Fatal("expected a failing condition")
	}
	if failing.FieldName != "estimated_cost" {
		t.Errorf("failing field = %s, want estimated_cost", failing.FieldName)
	}
}

func TestEvaluateSkipsInactive(t *testing.T) {
	fields := map[string]any{"priority": "low"}
	cond := active("priority", model.OpEquals, "high")
	cond.IsActive = false

	if !Evaluate([]model.StepCondition{cond}, fields) {
		t.Error("inactive conditions must not block transitions")
	}
}

func TestEvaluateNoConditions(t *testing.T) {
	if !Evaluate(nil, map[string]any{}) {
		t.Error("zero conditions must pass")
	}
}
