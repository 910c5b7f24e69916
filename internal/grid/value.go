// Implements cell values and type coercion.

package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value holds exactly one of a text or a numeric value, or neither when the
// cell is empty.
type Value struct {
	Text   *string  `json:"text,omitempty" jsonschema:"description=Text value (text columns)"`
	Number *float64 `json:"number,omitempty" jsonschema:"description=Numeric value (number columns)"`
}

// TextValue returns a text Value.
func TextValue(s string) Value {
	return Value{Text: &s}
}

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value {
	return Value{Number: &f}
}

// IsEmpty reports whether neither text nor number is set.
func (v Value) IsEmpty() bool {
	return v.Text == nil && v.Number == nil
}

// Equal reports whether both values hold the same content.
func (v Value) Equal(o Value) bool {
	switch {
	case v.Text != nil && o.Text != nil:
		return *v.Text == *o.Text && v.Number == nil && o.Number == nil
	case v.Number != nil && o.Number != nil:
		return *v.Number == *o.Number && v.Text == nil && o.Text == nil
	default:
		return v.IsEmpty() && o.IsEmpty()
	}
}

// String returns a display form of the value.
func (v Value) String() string {
	switch {
	case v.Text != nil:
		return *v.Text
	case v.Number != nil:
		return formatNumber(*v.Number)
	default:
		return ""
	}
}

// Validate checks that at most one of Text and Number is set.
func (v Value) Validate() error {
	if v.Text != nil && v.Number != nil {
		return errBothSet
	}
	return nil
}

// Coerce converts the value to the representation required by a column type.
//
// Text columns format numbers without unnecessary decimals. Number columns
// parse numeric text; an empty string becomes an empty value and non-numeric
// text is rejected.
func (v Value) Coerce(t ColumnType) (Value, error) {
	if err := v.Validate(); err != nil {
		return Value{}, err
	}
	switch t {
	case ColumnTypeText:
		if v.Number != nil {
			return TextValue(formatNumber(*v.Number)), nil
		}
		return v, nil
	case ColumnTypeNumber:
		if v.Text == nil {
			return v, nil
		}
		s := strings.TrimSpace(*v.Text)
		if s == "" {
			return Value{}, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%q is not a number", *v.Text)
		}
		return NumberValue(f), nil
	default:
		return Value{}, t.Validate()
	}
}

// ValueFromAny converts a decoded JSON value into a Value for a column type.
func ValueFromAny(raw any, t ColumnType) (Value, error) {
	var v Value
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case string:
		v = TextValue(x)
	case float64:
		v = NumberValue(x)
	case int:
		v = NumberValue(float64(x))
	case int64:
		v = NumberValue(float64(x))
	case bool:
		if x {
			v = NumberValue(1)
		} else {
			v = NumberValue(0)
		}
	default:
		return Value{}, fmt.Errorf("unsupported cell value of type %T", raw)
	}
	return v.Coerce(t)
}

// formatNumber formats whole numbers without a decimal point.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
