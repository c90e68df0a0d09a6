// Package engine wraps the embedded pebble key-value engine behind the
// get / batch / scan / flush primitives the record store is built on.
//
// Pebble supplies the guarantees the rest of the system trusts as a black
// box: write-ahead-log durability, atomic batch commits, and snapshot
// iteration. Partitions are realized as key prefixes (pebble has no column
// families); the key schema guarantees prefix-bounded ranges never cross
// partitions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// EngineError represents an I/O-level engine failure. It is fatal to the
// enclosing operation but never to the process.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	return e.Message
}

// Errors
var (
	ErrEngineIO = &EngineError{"engine I/O failure"}
	ErrClosed   = &EngineError{"engine is closed"}
)

// Config holds configuration for the engine.
type Config struct {
	// Path is the on-disk directory for the pebble store.
	Path string
	// SyncWrites forces every batch commit through the WAL fsync. Leave
	// false to let pebble group-commit.
	SyncWrites bool
	// MaxRetries bounds retries of transient I/O failures per operation.
	MaxRetries int
	// RetryBackoff is the pause between retries.
	RetryBackoff time.Duration
}

// Engine is the process-wide handle to the embedded store. It is
// constructed once at startup, shared by reference, and closed exactly
// once at shutdown. All methods are safe for concurrent use.
type Engine struct {
	db       *pebble.DB
	writeOpt *pebble.WriteOptions
	retries  int
	backoff  time.Duration
}

// Open opens (creating if necessary) the engine at the configured path.
func Open(cfg Config) (*Engine, error) {
	db, err := pebble.Open(cfg.Path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrEngineIO, cfg.Path, err)
	}

	writeOpt := pebble.NoSync
	if cfg.SyncWrites {
		writeOpt = pebble.Sync
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = 10 * time.Millisecond
	}
	return &Engine{
		db:       db,
		writeOpt: writeOpt,
		retries:  cfg.MaxRetries,
		backoff:  backoff,
	}, nil
}

// Get reads the value stored at key. The second return is false when the
// key is absent. The returned slice is a copy and safe to retain.
func (e *Engine) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var out []byte
	err := e.withRetry(ctx, func() error {
		data, closer, err := e.db.Get(key)
		if err != nil {
			return err
		}
		out = append([]byte(nil), data...)
		return closer.Close()
	})
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrEngineIO, err)
	}
	return out, true, nil
}

// Batch is an ordered set of mutations applied atomically by Apply.
type Batch struct {
	muts []mutation
}

type mutation struct {
	key    []byte
	value  []byte
	delete bool
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Set queues a write of value at key.
func (b *Batch) Set(key, value []byte) {
	b.muts = append(b.muts, mutation{key: key, value: value})
}

// Delete queues a deletion of key.
func (b *Batch) Delete(key []byte) {
	b.muts = append(b.muts, mutation{key: key, delete: true})
}

// Len returns the number of queued mutations.
func (b *Batch) Len() int {
	return len(b.muts)
}

// Apply commits the batch atomically: either every mutation is durably
// applied or none is. Atomicity is pebble's batch guarantee, not
// re-implemented here.
func (e *Engine) Apply(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	err := e.withRetry(ctx, func() error {
		pb := e.db.NewBatch()
		defer pb.Close()
		for _, m := range batch.muts {
			if m.delete {
				if err := pb.Delete(m.key, nil); err != nil {
					return err
				}
			} else if err := pb.Set(m.key, m.value, nil); err != nil {
				return err
			}
		}
		return pb.Commit(e.writeOpt)
	})
	if err != nil {
		return fmt.Errorf("%w: batch commit: %v", ErrEngineIO, err)
	}
	return nil
}

// Scan opens a lazy iterator over the half-open key range [lower, upper).
// The iterator observes a snapshot taken now: writes committed after Scan
// returns are not visible to it.
func (e *Engine) Scan(ctx context.Context, lower, upper []byte) (*Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := e.db.NewSnapshot()
	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		snap.Close()
		return nil, fmt.Errorf("%w: scan: %v", ErrEngineIO, err)
	}
	return &Iterator{iter: iter, snap: snap}, nil
}

// Flush forces buffered writes to stable storage.
func (e *Engine) Flush() error {
	if err := e.db.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrEngineIO, err)
	}
	return nil
}

// Close shuts the engine down. The handle is unusable afterwards.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrEngineIO, err)
	}
	return nil
}

// withRetry runs op, retrying transient failures a bounded number of
// times. Not-found and closed-engine results are returned immediately.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || errors.Is(err, pebble.ErrNotFound) || errors.Is(err, pebble.ErrClosed) {
			return err
		}
		if attempt >= e.retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff):
		}
	}
}

// Iterator is a lazy cursor over a snapshot of a key range. It is not safe
// for concurrent use.
type Iterator struct {
	iter    *pebble.Iterator
	snap    *pebble.Snapshot
	started bool
}

// Next advances to the next entry, returning false when the range is
// exhausted or an error occurred.
func (it *Iterator) Next() bool {
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

// Key returns a copy of the current key.
func (it *Iterator) Key() []byte {
	return append([]byte(nil), it.iter.Key()...)
}

// Value returns a copy of the current value.
func (it *Iterator) Value() []byte {
	return append([]byte(nil), it.iter.Value()...)
}

// Close releases the iterator and its snapshot, returning any deferred
// iteration error.
func (it *Iterator) Close() error {
	iterErr := it.iter.Error()
	if err := it.iter.Close(); err != nil && iterErr == nil {
		iterErr = err
	}
	if err := it.snap.Close(); err != nil && iterErr == nil {
		iterErr = err
	}
	if iterErr != nil {
		return fmt.Errorf("%w: iterator: %v", ErrEngineIO, iterErr)
	}
	return nil
}
