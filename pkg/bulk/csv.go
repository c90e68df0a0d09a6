package bulk

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/sync/errgroup"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/store"
)

// CSV column layout: the first column is always "id"; every other header
// cell is "name:type" with type one of string, bool, decimal, time, bytes.
// CSV handles flat payloads only; nested records travel as JSON through
// the API instead.

// Column describes one typed CSV column.
type Column struct {
	Name string
	Kind codec.Kind
}

// ParseHeader parses a CSV header row into typed columns.
func ParseHeader(header []string) ([]Column, error) {
	if len(header) == 0 || header[0] != "id" {
		return nil, fmt.Errorf("%w: first column must be \"id\"", ErrBadHeader)
	}
	cols := make([]Column, 0, len(header)-1)
	for _, cell := range header[1:] {
		name, typ, ok := strings.Cut(cell, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q is not name:type", ErrBadHeader, cell)
		}
		kind, err := kindFromName(typ)
		if err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Kind: kind})
	}
	return cols, nil
}

func kindFromName(typ string) (codec.Kind, error) {
	switch typ {
	case "string":
		return codec.KindString, nil
	case "bool":
		return codec.KindBool, nil
	case "decimal":
		return codec.KindDecimal, nil
	case "time":
		return codec.KindTime, nil
	case "bytes":
		return codec.KindBytes, nil
	default:
		return codec.KindInvalid, fmt.Errorf("%w: unknown type %q", ErrBadHeader, typ)
	}
}

func parseCell(col Column, cell string) (codec.Value, error) {
	switch col.Kind {
	case codec.KindString:
		return codec.String(cell), nil
	case codec.KindBool:
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return codec.Value{}, fmt.Errorf("%w: column %q: %q", ErrBadCell, col.Name, cell)
		}
		return codec.Bool(b), nil
	case codec.KindDecimal:
		d, _, err := apd.NewFromString(cell)
		if err != nil {
			return codec.Value{}, fmt.Errorf("%w: column %q: %q", ErrBadCell, col.Name, cell)
		}
		return codec.Decimal(d), nil
	case codec.KindTime:
		ts, err := time.Parse(time.RFC3339Nano, cell)
		if err != nil {
			return codec.Value{}, fmt.Errorf("%w: column %q: %q", ErrBadCell, col.Name, cell)
		}
		return codec.Time(ts), nil
	case codec.KindBytes:
		b, err := base64.StdEncoding.DecodeString(cell)
		if err != nil {
			return codec.Value{}, fmt.Errorf("%w: column %q: bad base64", ErrBadCell, col.Name)
		}
		return codec.Bytes(b), nil
	default:
		return codec.Value{}, fmt.Errorf("%w: column %q", ErrBadHeader, col.Name)
	}
}

func formatCell(col Column, v codec.Value) (string, error) {
	if v.Kind() != col.Kind {
		return "", fmt.Errorf("%w: column %q holds %v, expected %v", ErrBadCell, col.Name, v.Kind(), col.Kind)
	}
	switch col.Kind {
	case codec.KindString:
		s, _ := v.AsString()
		return s, nil
	case codec.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b), nil
	case codec.KindDecimal:
		d, _ := v.AsDecimal()
		return d.Text('f'), nil
	case codec.KindTime:
		ts, _ := v.AsTime()
		return ts.UTC().Format(time.RFC3339Nano), nil
	case codec.KindBytes:
		b, _ := v.AsBytes()
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("%w: column %q", ErrNotFlat, col.Name)
	}
}

// ImportCSV reads typed CSV rows and applies them to the partition as
// chunked atomic batches. Parsing and applying run as a pipeline; the
// first failure on either side stops both. Returns the number of tuples
// applied.
func (im *Importer) ImportCSV(ctx context.Context, partition string, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	cols, err := ParseHeader(header)
	if err != nil {
		return 0, err
	}

	ch := make(chan Tuple)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ch)
		for line := 2; ; line++ {
			row, err := cr.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: line %d: %v", ErrBadCell, line, err)
			}
			if len(row) != len(cols)+1 {
				return fmt.Errorf("%w: line %d has %d cells, expected %d", ErrBadCell, line, len(row), len(cols)+1)
			}
			payload := make(codec.Payload, len(cols))
			for i, col := range cols {
				v, err := parseCell(col, row[i+1])
				if err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				payload[col.Name] = v
			}
			select {
			case ch <- Tuple{Partition: partition, ID: row[0], Payload: payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	var applied int
	g.Go(func() error {
		var err error
		applied, err = im.Import(ctx, ch)
		return err
	})

	return applied, g.Wait()
}

// ExportCSV writes a partition's records as typed CSV with the given
// column layout, streaming from a snapshot scan.
func ExportCSV(ctx context.Context, c Applier, w io.Writer, partition string, cols []Column, opts store.ScanOptions) (int, error) {
	ch, err := Export(ctx, c, partition, opts)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(cols)+1)
	header = append(header, "id")
	for _, col := range cols {
		header = append(header, fmt.Sprintf("%s:%s", col.Name, col.Kind))
	}
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	written := 0
	for res := range ch {
		if res.Err != nil {
			return written, res.Err
		}
		row := make([]string, 0, len(cols)+1)
		row = append(row, res.Record.ID)
		for _, col := range cols {
			v, ok := res.Record.Payload[col.Name]
			if !ok {
				return written, fmt.Errorf("%w: record %s is missing column %q", ErrBadCell, res.Record.ID, col.Name)
			}
			cell, err := formatCell(col, v)
			if err != nil {
				return written, fmt.Errorf("record %s: %w", res.Record.ID, err)
			}
			row = append(row, cell)
		}
		if err := cw.Write(row); err != nil {
			return written, err
		}
		written++
	}
	cw.Flush()
	return written, cw.Error()
}
