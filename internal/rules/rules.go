// Package rules evaluates step transition conditions against entity field
// values. Conditions on a step are conjunctive: all active conditions must
// hold before a transition into the step proceeds.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oryxworks/flowcore/model"
)

// Evaluate reports whether every active condition holds against the entity
// fields. A step with no conditions always passes. A missing field, an
// unknown operator, or a non-numeric value under a numeric operator fails the
// condition rather than erroring out.
func Evaluate(conditions []model.StepCondition, fields map[string]any) bool {
	for _, c := range conditions {
		if !c.IsActive {
			continue
		}
		if !evaluateOne(c, fields) {
			return false
		}
	}
	return true
}

// FirstFailing returns the first active condition that does not hold, for
// diagnostics. The second return is false when all conditions pass.
func FirstFailing(conditions []model.StepCondition, fields map[string]any) (model.StepCondition, bool) {
	for _, c := range conditions {
		if !c.IsActive {
			continue
		}
		if !evaluateOne(c, fields) {
			return c, true
		}
	}
	return model.StepCondition{}, false
}

func evaluateOne(c model.StepCondition, fields map[string]any) bool {
	actual, ok := fields[c.FieldName]
	if !ok {
		return false
	}

	switch c.Operator {
	case model.OpEquals:
		return asString(actual) == c.ExpectedValue
	case model.OpNotEquals:
		return asString(actual) != c.ExpectedValue
	case model.OpGreaterThan:
		a, e, ok := asNumbers(actual, c.ExpectedValue)
		return ok && a > e
	case model.OpLessThan:
		a, e, ok := asNumbers(actual, c.ExpectedValue)
		return ok && a < e
	case model.OpContains:
		return strings.Contains(asString(actual), c.ExpectedValue)
	default:
		return false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// asNumbers coerces both sides to float64 for ordered comparison.
func asNumbers(actual any, expected string) (float64, float64, bool) {
	e, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return 0, 0, false
	}

	switch t := actual.(type) {
	case float64:
		return t, e, true
	case float32:
		return float64(t), e, true
	case int:
		return float64(t), e, true
	case int32:
		return float64(t), e, true
	case int64:
		return float64(t), e, true
	case string:
		a, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, 0, false
		}
		return a, e, true
	default:
		return 0, 0, false
	}
}
