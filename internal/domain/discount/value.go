package discount

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
)

// DataType is the declared scalar type of a discount type parameter.
type DataType string

const (
	DataTypeString DataType = "STRING"
	DataTypeInt    DataType = "INT"
	DataTypeFloat  DataType = "FLOAT"
)

// Kind tells which member of the Value union is set.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
)

// Value is a caller-supplied parameter value: a string or a number.
// It is built once where raw input is decoded and carried typed afterwards.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntValue returns an integral numeric Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue returns a numeric Value with a possible fractional part.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// Kind reports the union member.
func (v Value) Kind() Kind { return v.kind }

// Text returns the string member and whether v holds a string.
func (v Value) Text() (string, bool) { return v.s, v.kind == KindString }

// IsNumber reports whether v holds a number of either kind.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// String formats v the way it is persisted as a stored parameter value.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	default:
		return ""
	}
}

func (v Value) integral() bool {
	switch v.kind {
	case KindInt:
		return true
	case KindFloat:
		return !math.IsInf(v.f, 0) && v.f == math.Trunc(v.f)
	default:
		return false
	}
}

// InvalidParameterTypeError reports a value that does not satisfy the declared
// data type of its parameter.
type InvalidParameterTypeError struct {
	Parameter string
	Expected  DataType
	Value     Value
}

func (e *InvalidParameterTypeError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("value %q is not a valid %s", e.Value.String(), e.Expected)
	}
	return fmt.Sprintf("parameter %s: value %q is not a valid %s", e.Parameter, e.Value.String(), e.Expected)
}

func (e *InvalidParameterTypeError) Unwrap() error { return apperr.ErrBadRequest }

// UnsupportedDataTypeError reports a parameter declared with a data type the
// service does not know. It is a configuration problem, not a caller one.
type UnsupportedDataTypeError struct {
	DataType DataType
}

func (e *UnsupportedDataTypeError) Error() string {
	return fmt.Sprintf("unsupported data type %q", string(e.DataType))
}

func (e *UnsupportedDataTypeError) Unwrap() error { return apperr.ErrInternal }

// ValidateValue checks v against the declared data type t.
func ValidateValue(v Value, t DataType) error {
	var ok bool
	switch t {
	case DataTypeString:
		s, isText := v.Text()
		ok = isText && strings.TrimSpace(s) != ""
	case DataTypeInt:
		ok = v.integral()
	case DataTypeFloat:
		ok = v.IsNumber()
	default:
		return &UnsupportedDataTypeError{DataType: t}
	}
	if !ok {
		return &InvalidParameterTypeError{Expected: t, Value: v}
	}
	return nil
}
