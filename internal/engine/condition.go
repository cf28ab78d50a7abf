package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
)

// ErrUnknownField is returned when a condition names an attribute events do not have.
var ErrUnknownField = errors.New("unknown event field")

// conditionsHold AND-combines conditions. An empty list holds.
func conditionsHold(conditions []rule.Condition, ev event.AlarmEvent) (bool, error) {
	for i := range conditions {
		ok, err := evaluate(&conditions[i], ev)
		if err != nil {
			return false, fmt.Errorf("condition %d (%s %s): %w", i, conditions[i].Field, conditions[i].Operator, err)
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// evaluate applies one condition to the event.
func evaluate(c *rule.Condition, ev event.AlarmEvent) (bool, error) {
	actual, ok := ev.Field(c.Field)
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownField, c.Field)
	}

	expected := string(c.Value)
	compare := compareValues

	if c.Field == "priority" {
		compare = comparePriorities
	}

	switch c.Operator {
	case rule.OperatorEquals:
		return actual == expected, nil
	case rule.OperatorContains:
		return strings.Contains(actual, expected), nil
	case rule.OperatorGreaterThan:
		return compare(actual, expected) > 0, nil
	case rule.OperatorLessThan:
		return compare(actual, expected) < 0, nil
	case rule.OperatorBetween:
		if c.AdditionalValue == nil {
			return false, rule.ErrMissingUpperBound
		}

		return compare(actual, expected) >= 0 && compare(actual, string(*c.AdditionalValue)) <= 0, nil
	default:
		return false, fmt.Errorf("%w %q", rule.ErrUnknownOperator, c.Operator)
	}
}

// comparePriorities orders priority tiers by rank rather than by name.
func comparePriorities(a, b string) int {
	return event.Priority(a).Rank() - event.Priority(b).Rank()
}

// compareValues orders two values numerically when both parse as numbers and
// lexically otherwise, so zone "010" compares equal to 10.
func compareValues(a, b string) int {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)

	if errA == nil && errB == nil {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(a, b)
}
