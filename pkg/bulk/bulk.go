// Package bulk implements the bulk import/export boundary: ordered tuples
// in through atomic batches, lazy record sequences out through scans. It is
// built purely on the coordinator's Batch and Scan operations.
package bulk

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/store"
)

const defaultChunkSize = 500

// Applier is the slice of the coordinator the bulk boundary needs: atomic
// batches in, snapshot scans out.
type Applier interface {
	Batch(ctx context.Context, muts []store.Mutation) error
	Scan(ctx context.Context, partition string, opts store.ScanOptions) (<-chan store.ScanResult, error)
}

// Tuple is one inbound record for import.
type Tuple struct {
	Partition string
	ID        string
	Payload   codec.Payload
}

// BulkError represents an import/export format failure.
type BulkError struct {
	Message string
}

func (e *BulkError) Error() string {
	return e.Message
}

// Errors
var (
	ErrBadHeader = &BulkError{"invalid column header"}
	ErrBadCell   = &BulkError{"cell does not match its column type"}
	ErrNotFlat   = &BulkError{"nested values cannot be exported as CSV"}
)

// Importer applies ordered tuple streams as chunked atomic batches.
type Importer struct {
	coord     Applier
	chunkSize int
}

// NewImporter creates an importer. chunkSize bounds mutations per batch;
// zero uses the default.
func NewImporter(c Applier, chunkSize int) *Importer {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Importer{coord: c, chunkSize: chunkSize}
}

// Import drains tuples and applies them in arrival order as one atomic
// batch per chunk. It returns the number of tuples applied; on error,
// every chunk before the failing one remains applied and the failing chunk
// is not applied at all.
func (im *Importer) Import(ctx context.Context, tuples <-chan Tuple) (int, error) {
	applied := 0
	chunk := make([]store.Mutation, 0, im.chunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := im.coord.Batch(ctx, chunk); err != nil {
			return err
		}
		applied += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		case t, ok := <-tuples:
			if !ok {
				return applied, flush()
			}
			chunk = append(chunk, store.Mutation{Partition: t.Partition, ID: t.ID, Payload: t.Payload})
			if len(chunk) >= im.chunkSize {
				if err := flush(); err != nil {
					return applied, err
				}
			}
		}
	}
}

// ImportSlice applies tuples from a slice. See Import.
func (im *Importer) ImportSlice(ctx context.Context, tuples []Tuple) (int, error) {
	ch := make(chan Tuple)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ch)
		for _, t := range tuples {
			select {
			case ch <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var applied int
	g.Go(func() error {
		var err error
		applied, err = im.Import(ctx, ch)
		return err
	})

	return applied, g.Wait()
}

// Export streams a partition's records lazily. It is a thin alias over the
// coordinator's snapshot scan so export consistency matches scan
// consistency.
func Export(ctx context.Context, c Applier, partition string, opts store.ScanOptions) (<-chan store.ScanResult, error) {
	return c.Scan(ctx, partition, opts)
}
