package query

import (
	"context"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/store"
)

// ParseAll parses a list of condition expressions. All conditions must
// hold for a record to pass.
func ParseAll(exprs []string) ([]FieldQuery, error) {
	qs := make([]FieldQuery, 0, len(exprs))
	for _, expr := range exprs {
		q, err := Parse(expr)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

// Apply filters a scan stream, passing through records that satisfy every
// condition. Errors pass through unfiltered. With no conditions the input
// channel is returned as-is.
func Apply(ctx context.Context, in <-chan store.ScanResult, qs []FieldQuery) <-chan store.ScanResult {
	if len(qs) == 0 {
		return in
	}

	out := make(chan store.ScanResult)
	go func() {
		defer close(out)
		for res := range in {
			if res.Err == nil && !matchesAll(res.Record.Payload, qs) {
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func matchesAll(p codec.Payload, qs []FieldQuery) bool {
	for i := range qs {
		if !qs[i].Matches(p) {
			return false
		}
	}
	return true
}
