package table

import (
	"strconv"
	"time"
)

// Kind identifies which variant a Value holds
type Kind uint8

const (
	KindAbsent Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a single table cell. The zero Value is Absent, which is distinct
// from an empty string or a zero number.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

// Absent returns the "no value" cell
func Absent() Value { return Value{} }

// String returns a string cell
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer cell
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point cell
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean cell
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp cell
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Kind reports the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v holds no value
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsString returns the string payload
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer payload
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsBool returns the boolean payload
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the timestamp payload
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// Text renders v for logs and error messages. Absent renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Equal reports whether two cells hold the same variant and payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}
