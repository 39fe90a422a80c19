package spread

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the variant held by a CellValue.
type Kind int

const (
	KindEmpty Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDateTime
	KindDuration
	KindError
)

var kindNames = map[Kind]string{
	KindEmpty:    "empty",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindDateTime: "datetime",
	KindDuration: "duration",
	KindError:    "error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CellValue is the tagged value every decoder produces. Ambiguous serialized
// representations (a numeric cell whose format says "date") are resolved into
// the DateTime/Duration variants at decode time, so callers never need the
// source format's number-format table.
type CellValue struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string // text for KindString, error code for KindError
	t    time.Time
	d    time.Duration
}

// EmptyValue returns the empty cell value.
func EmptyValue() CellValue { return CellValue{kind: KindEmpty} }

// BoolValue returns a boolean cell value.
func BoolValue(v bool) CellValue { return CellValue{kind: KindBool, b: v} }

// IntValue returns an integer cell value.
func IntValue(v int64) CellValue { return CellValue{kind: KindInt, i: v} }

// FloatValue returns a floating-point cell value.
func FloatValue(v float64) CellValue { return CellValue{kind: KindFloat, f: v} }

// StringValue returns a text cell value.
func StringValue(v string) CellValue { return CellValue{kind: KindString, s: v} }

// DateTimeValue returns a calendar date/time cell value.
func DateTimeValue(v time.Time) CellValue { return CellValue{kind: KindDateTime, t: v} }

// DurationValue returns an elapsed-time cell value. Durations beyond 24 hours
// are preserved as-is.
func DurationValue(v time.Duration) CellValue { return CellValue{kind: KindDuration, d: v} }

// ErrorValue returns an error cell value carrying a source-specific error
// code such as "#DIV/0!" or "#REF!".
func ErrorValue(code string) CellValue { return CellValue{kind: KindError, s: code} }

// Kind reports which variant the value holds.
func (v CellValue) Kind() Kind { return v.kind }

// IsEmpty reports whether the value is the empty variant.
func (v CellValue) IsEmpty() bool { return v.kind == KindEmpty }

// Bool returns the boolean payload. Valid only for KindBool.
func (v CellValue) Bool() bool { return v.b }

// Int returns the integer payload. Valid only for KindInt.
func (v CellValue) Int() int64 { return v.i }

// Float returns the floating-point payload. For KindInt it returns the
// integer converted to float64.
func (v CellValue) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Text returns the text payload. Valid only for KindString.
func (v CellValue) Text() string { return v.s }

// DateTime returns the calendar payload. Valid only for KindDateTime.
func (v CellValue) DateTime() time.Time { return v.t }

// Duration returns the elapsed-time payload. Valid only for KindDuration.
func (v CellValue) Duration() time.Duration { return v.d }

// ErrorCode returns the source error code. Valid only for KindError.
func (v CellValue) ErrorCode() string { return v.s }

// String renders the value for display. Empty cells render as "".
func (v CellValue) String() string {
	switch v.kind {
	case KindEmpty:
		return ""
	case KindBool:
		if v.b {
			return "TRUE"
		}
		return "FALSE"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindDateTime:
		if v.t.Hour() == 0 && v.t.Minute() == 0 && v.t.Second() == 0 && v.t.Nanosecond() == 0 {
			return v.t.Format("2006-01-02")
		}
		return v.t.Format("2006-01-02 15:04:05")
	case KindDuration:
		return v.d.String()
	case KindError:
		return v.s
	}
	return ""
}
