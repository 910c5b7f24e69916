// Tests for cell values and coercion.

package grid

import (
	"testing"
)

func TestValue_Coerce(t *testing.T) {
	tests := []struct {
		name    string
		in      Value
		typ     ColumnType
		want    Value
		wantErr bool
	}{
		{"empty to text", Value{}, ColumnTypeText, Value{}, false},
		{"text to text", TextValue("a"), ColumnTypeText, TextValue("a"), false},
		{"whole number to text", NumberValue(42), ColumnTypeText, TextValue("42"), false},
		{"fraction to text", NumberValue(3.5), ColumnTypeText, TextValue("3.5"), false},
		{"numeric text to number", TextValue(" 12.25 "), ColumnTypeNumber, NumberValue(12.25), false},
		{"blank text to number", TextValue(""), ColumnTypeNumber, Value{}, false},
		{"number to number", NumberValue(7), ColumnTypeNumber, NumberValue(7), false},
		{"word to number", TextValue("abc"), ColumnTypeNumber, Value{}, true},
		{"NaN text to number", TextValue("NaN"), ColumnTypeNumber, Value{}, true},
		{"unknown type", TextValue("a"), ColumnType("date"), Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Coerce(tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Coerce() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("both set", func(t *testing.T) {
		s, f := "x", 1.0
		if _, err := (Value{Text: &s, Number: &f}).Coerce(ColumnTypeText); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestValueFromAny(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		typ  ColumnType
		want Value
	}{
		{"nil", nil, ColumnTypeNumber, Value{}},
		{"string to text", "hi", ColumnTypeText, TextValue("hi")},
		{"float to number", float64(2), ColumnTypeNumber, NumberValue(2)},
		{"float to text", float64(2), ColumnTypeText, TextValue("2")},
		{"bool to number", true, ColumnTypeNumber, NumberValue(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValueFromAny(tt.raw, tt.typ)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ValueFromAny() = %q, want %q", got, tt.want)
			}
		})
	}
	if _, err := ValueFromAny([]any{1}, ColumnTypeText); err == nil {
		t.Error("expected error for array value")
	}
}

func TestValue_Equal(t *testing.T) {
	if !TextValue("a").Equal(TextValue("a")) {
		t.Error("same text should be equal")
	}
	if TextValue("1").Equal(NumberValue(1)) {
		t.Error("text and number should differ")
	}
	if !(Value{}).Equal(Value{}) {
		t.Error("empty values should be equal")
	}
	if (Value{}).Equal(TextValue("")) {
		t.Error("empty and empty text should differ")
	}
}
