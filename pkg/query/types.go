// Package query filters scan results by conditions on top-level payload
// fields. Conditions compare typed values: decimals numerically, timestamps
// chronologically, strings lexicographically.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/muninndb/muninn/pkg/codec"
)

// QueryError represents a query parsing or evaluation error
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return e.Message
}

// Errors
var (
	ErrBadQuery    = &QueryError{"malformed query condition"}
	ErrUnorderable = &QueryError{"value kind does not support ordering"}
)

// FieldQuery represents a single field-based query condition
type FieldQuery struct {
	Field    string      // Field name to query (e.g., "price", "name")
	Operator string      // Comparison operator: "=", "!=", ">", "<", ">=", "<="
	Value    codec.Value // Value to compare against
}

// Longest first, so ">=" is not read as ">".
var operators = []string{">=", "<=", "!=", "=", ">", "<"}

// Parse reads a condition of the form field<op>literal, e.g. "price>=10.5",
// "name=widget" or "created<2026-01-01T00:00:00Z". Literals are typed by
// shape: booleans, RFC3339 timestamps and numbers before plain strings.
func Parse(expr string) (FieldQuery, error) {
	for _, op := range operators {
		idx := strings.Index(expr, op)
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		literal := strings.TrimSpace(expr[idx+len(op):])
		if field == "" || literal == "" {
			return FieldQuery{}, fmt.Errorf("%w: %q", ErrBadQuery, expr)
		}
		q := FieldQuery{Field: field, Operator: op, Value: parseLiteral(literal)}
		if err := q.Validate(); err != nil {
			return FieldQuery{}, err
		}
		return q, nil
	}
	return FieldQuery{}, fmt.Errorf("%w: %q has no operator", ErrBadQuery, expr)
}

func parseLiteral(s string) codec.Value {
	switch s {
	case "true":
		return codec.Bool(true)
	case "false":
		return codec.Bool(false)
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return codec.Time(ts)
	}
	if d, _, err := apd.NewFromString(s); err == nil && d.Form == apd.Finite {
		return codec.Decimal(d)
	}
	return codec.String(s)
}

// Validate checks if the query is properly formed
func (q *FieldQuery) Validate() error {
	if q.Field == "" {
		return fmt.Errorf("%w: field name cannot be empty", ErrBadQuery)
	}
	switch q.Operator {
	case "=", "!=":
		return nil
	case ">", "<", ">=", "<=":
		switch q.Value.Kind() {
		case codec.KindDecimal, codec.KindTime, codec.KindString:
			return nil
		default:
			return fmt.Errorf("%w: %v", ErrUnorderable, q.Value.Kind())
		}
	default:
		return fmt.Errorf("%w: invalid operator %q", ErrBadQuery, q.Operator)
	}
}

// Matches reports whether the payload satisfies the condition. A missing
// field or a field of a different kind never matches, except that "!="
// matches when the field is absent or unequal.
func (q *FieldQuery) Matches(p codec.Payload) bool {
	v, ok := p[q.Field]
	if !ok || v.Kind() != q.Value.Kind() {
		return q.Operator == "!="
	}

	// Equality is by value, not representation: 1.50 equals 1.5 here even
	// though the codec preserves their distinct scales.
	switch q.Operator {
	case "=":
		return valueEqual(v, q.Value)
	case "!=":
		return !valueEqual(v, q.Value)
	}

	cmp, ok := compare(v, q.Value)
	if !ok {
		return false
	}
	switch q.Operator {
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	}
	return false
}

func valueEqual(a, b codec.Value) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return a.Equal(b)
}

// compare orders two values of the same kind.
func compare(a, b codec.Value) (int, bool) {
	switch a.Kind() {
	case codec.KindString:
		as, _ := a.AsString()
		bs, _ := b.AsString()
		return strings.Compare(as, bs), true
	case codec.KindDecimal:
		ad, _ := a.AsDecimal()
		bd, _ := b.AsDecimal()
		return ad.Cmp(bd), true
	case codec.KindTime:
		at, _ := a.AsTime()
		bt, _ := b.AsTime()
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}
