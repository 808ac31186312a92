package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// ParseValueKind maps a declared capture/config type to a ValueKind.
func ParseValueKind(s string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "str":
		return KindString, nil
	case "int", "integer", "long":
		return KindInt, nil
	case "float", "double", "number":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	default:
		return KindNull, fmt.Errorf("unknown value type: %s", s)
	}
}

// Value is the closed attribute variant carried by an Event.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
}

func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func NullValue() Value { return Value{kind: KindNull} }
func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// IsEmpty reports whether the value is null or an empty/blank string.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.s) == ""
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Float returns the numeric value of int/float values, and of strings that
// parse as numbers.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f != math.Trunc(v.f) {
			return 0, false
		}
		return int64(v.f), true
	case KindString:
		i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func (v Value) Bool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.s))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// CoerceTo converts v to the requested kind. On failure the original value
// is returned as a string together with the error.
func (v Value) CoerceTo(kind ValueKind) (Value, error) {
	if v.kind == kind {
		return v, nil
	}
	switch kind {
	case KindString:
		return StringValue(v.String()), nil
	case KindInt:
		if i, ok := v.Int(); ok {
			return IntValue(i), nil
		}
	case KindFloat:
		if f, ok := v.Float(); ok {
			return FloatValue(f), nil
		}
	case KindBool:
		if b, ok := v.Bool(); ok {
			return BoolValue(b), nil
		}
	case KindNull:
		return NullValue(), nil
	}
	return StringValue(v.String()), fmt.Errorf("cannot coerce %q to %s", v.String(), kind)
}

// Interface returns the underlying Go value for encoders.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

func (v Value) Equal(o Value) bool {
	if v.kind == o.kind {
		return v.Interface() == o.Interface()
	}
	if v.IsNumeric() && o.IsNumeric() {
		a, _ := v.Float()
		b, _ := o.Float()
		return a == b
	}
	return v.String() == o.String()
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ValueOf converts a decoded scalar into a Value. Maps and slices are not
// scalars; callers flatten them first.
func ValueOf(raw interface{}) (Value, bool) {
	switch t := raw.(type) {
	case nil:
		return NullValue(), true
	case string:
		return StringValue(t), true
	case bool:
		return BoolValue(t), true
	case int:
		return IntValue(int64(t)), true
	case int32:
		return IntValue(int64(t)), true
	case int64:
		return IntValue(t), true
	case uint8:
		return IntValue(int64(t)), true
	case uint32:
		return IntValue(int64(t)), true
	case float32:
		return FloatValue(float64(t)), true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return IntValue(int64(t)), true
		}
		return FloatValue(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), true
		}
		if f, err := t.Float64(); err == nil {
			return FloatValue(f), true
		}
		return StringValue(t.String()), true
	case Value:
		return t, true
	default:
		return Value{}, false
	}
}
