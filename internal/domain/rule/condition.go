package rule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Operator is a condition comparison.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greaterThan"
	OperatorLessThan    Operator = "lessThan"
	OperatorBetween     Operator = "between"
)

var (
	// ErrUnknownOperator is returned for operators outside the supported set.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrMissingField is returned when a condition does not name an event attribute.
	ErrMissingField = errors.New("condition field is required")
	// ErrMissingUpperBound is returned for between conditions without additionalValue.
	ErrMissingUpperBound = errors.New("between requires additionalValue")
)

// Operand is a condition value. Rule authors may write it as a string, number
// or boolean; it is kept in its textual form.
type Operand string

// UnmarshalJSON accepts any JSON scalar.
func (o *Operand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0 || string(data) == "null":
		*o = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*o = Operand(s)
	case data[0] == '{' || data[0] == '[':
		return fmt.Errorf("operand must be a scalar, got %s", data)
	default:
		if !json.Valid(data) {
			return fmt.Errorf("invalid operand %s", data)
		}

		*o = Operand(data)
	}

	return nil
}

// Condition compares one event attribute against a value.
type Condition struct {
	// Field is the event attribute name (e.g. eventCode, zone, priority).
	Field string `json:"field" yaml:"field"`
	// Operator selects the comparison.
	Operator Operator `json:"operator" yaml:"operator"`
	// Value is the comparison operand, or the lower bound for between.
	Value Operand `json:"value" yaml:"value"`
	// AdditionalValue is the inclusive upper bound for between.
	AdditionalValue *Operand `json:"additionalValue,omitempty" yaml:"additionalValue,omitempty"`
}

// Validate checks that the condition can be evaluated.
func (c *Condition) Validate() error {
	if c.Field == "" {
		return ErrMissingField
	}

	switch c.Operator {
	case OperatorEquals, OperatorContains, OperatorGreaterThan, OperatorLessThan:
		return nil
	case OperatorBetween:
		if c.AdditionalValue == nil {
			return ErrMissingUpperBound
		}

		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownOperator, c.Operator)
	}
}
