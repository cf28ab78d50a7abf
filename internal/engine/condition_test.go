package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
)

// TestEvaluateCondition covers each operator, including numeric and priority ordering.
func TestEvaluateCondition(t *testing.T) {
	t.Parallel()

	ev := burglary(monday10)
	upper := func(v string) *rule.Operand {
		o := rule.Operand(v)

		return &o
	}

	cases := []struct {
		name string
		c    rule.Condition
		want bool
	}{
		{"equals", cond("accountNumber", rule.OperatorEquals, "1234"), true},
		{"equals is strict", cond("zone", rule.OperatorEquals, "5"), false},
		{"contains", cond("description", rule.OperatorContains, "Rob"), true},
		{"contains miss", cond("description", rule.OperatorContains, "Fuego"), false},
		{"greaterThan numeric", cond("zone", rule.OperatorGreaterThan, "4"), true},
		{"lessThan numeric", cond("zone", rule.OperatorLessThan, "10"), true},
		{"greaterThan priority", cond("priority", rule.OperatorGreaterThan, "medium"), true},
		{"lessThan priority", cond("priority", rule.OperatorLessThan, "high"), false},
		{
			"between inclusive",
			rule.Condition{Field: "eventCode", Operator: rule.OperatorBetween, Value: "130", AdditionalValue: upper("139")},
			true,
		},
		{
			"between outside",
			rule.Condition{Field: "eventCode", Operator: rule.OperatorBetween, Value: "100", AdditionalValue: upper("129")},
			false,
		},
		{"lexical fallback", cond("protocol", rule.OperatorLessThan, "SIA"), true},
	}

	for _, tc := range cases {
		got, err := evaluate(&tc.c, ev)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}
}

// TestEvaluateCondition_Errors reports conditions that cannot be evaluated.
func TestEvaluateCondition_Errors(t *testing.T) {
	t.Parallel()

	ev := event.AlarmEvent{Stream: event.StreamAlarm}

	_, err := evaluate(&rule.Condition{Field: "missing", Operator: rule.OperatorEquals}, ev)
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = evaluate(&rule.Condition{Field: "zone", Operator: "matches"}, ev)
	require.ErrorIs(t, err, rule.ErrUnknownOperator)

	_, err = evaluate(&rule.Condition{Field: "zone", Operator: rule.OperatorBetween}, ev)
	require.ErrorIs(t, err, rule.ErrMissingUpperBound)
}
