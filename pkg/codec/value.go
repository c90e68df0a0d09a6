package codec

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindBool
	KindBytes
	KindDecimal
	KindTime
	KindMap
	KindList
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindDecimal:
		return "decimal"
	case KindTime:
		return "time"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a single typed payload value. The zero Value is invalid and is
// rejected by the codec.
type Value struct {
	kind Kind
	str  string
	b    bool
	raw  []byte
	dec  *apd.Decimal
	ts   time.Time
	m    Payload
	list []Value
}

// Payload is a typed record payload: field name to value.
type Payload map[string]Value

// String returns a string Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Bool returns a bool Value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Bytes returns a binary blob Value. The slice is not copied.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: b}
}

// Decimal returns an exact-precision decimal Value. The decimal's scale is
// part of the value: Decimal("12.340") and Decimal("12.34") are distinct.
func Decimal(d *apd.Decimal) Value {
	return Value{kind: KindDecimal, dec: d}
}

// MustDecimal parses s as a decimal and panics on failure. Intended for
// literals in tests and fixtures.
func MustDecimal(s string) Value {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("codec: bad decimal literal %q: %v", s, err))
	}
	return Decimal(d)
}

// Time returns a timestamp Value normalized to UTC.
func Time(t time.Time) Value {
	return Value{kind: KindTime, ts: t.UTC()}
}

// Map returns a nested payload Value.
func Map(p Payload) Value {
	return Value{kind: KindMap, m: p}
}

// List returns an ordered sequence Value.
func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBool returns the bool variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsBytes returns the binary blob variant.
func (v Value) AsBytes() ([]byte, bool) { return v.raw, v.kind == KindBytes }

// AsDecimal returns the decimal variant.
func (v Value) AsDecimal() (*apd.Decimal, bool) { return v.dec, v.kind == KindDecimal }

// AsTime returns the timestamp variant.
func (v Value) AsTime() (time.Time, bool) { return v.ts, v.kind == KindTime }

// AsMap returns the nested payload variant.
func (v Value) AsMap() (Payload, bool) { return v.m, v.kind == KindMap }

// AsList returns the list variant.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// Equal reports whether two values are identical, including decimal scale
// and timestamp instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindDecimal:
		return decimalEqual(v.dec, o.dec)
	case KindTime:
		return v.ts.Equal(o.ts)
	case KindMap:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Equal reports whether two payloads hold identical fields and values.
func (p Payload) Equal(o Payload) bool {
	if len(p) != len(o) {
		return false
	}
	for name, v := range p {
		ov, ok := o[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// decimalEqual compares coefficient, exponent and sign, so values that
// differ only in scale (12.34 vs 12.340) are not equal.
func decimalEqual(a, b *apd.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Form != b.Form || a.Negative != b.Negative || a.Exponent != b.Exponent {
		return false
	}
	return a.Coeff.Cmp(&b.Coeff) == 0
}

// CodecError represents a payload encoding or decoding failure.
type CodecError struct {
	Message string
}

func (e *CodecError) Error() string {
	return e.Message
}

// Errors
var (
	ErrCorruptEncoding = &CodecError{"corrupt encoding"}
	ErrUnsupportedType = &CodecError{"unsupported value type"}
)
