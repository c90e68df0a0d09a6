// Package store maps logical record identifiers to typed, versioned
// records on top of the embedded engine.
//
// Every mutation bumps the record's revision and replaces its payload
// wholesale. Mutations can carry an expected revision for optimistic
// concurrency: the write fails with ErrRevisionConflict when the stored
// revision differs. Deletes write tombstones so that revision history
// survives logical deletion; tombstoned records read as absent.
//
// Each record is kept under two keys: its primary identifier key and a
// secondary key ordered by last-modified time. Both carry the full encoded
// envelope and are maintained inside one atomic engine batch, so
// time-ordered scans stay consistent without cross-key lookups.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/engine"
	"github.com/muninndb/muninn/pkg/keys"
)

// RecordStore is the typed record layer over the engine. All methods are
// safe for concurrent use; callers that need per-identifier write ordering
// route mutations through the coordinator.
type RecordStore struct {
	engine    *engine.Engine
	codec     *codec.RecordCodec
	clock     func() time.Time
	onCorrupt func(partition, id string, err error)
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(rs *RecordStore) { rs.clock = clock }
}

// WithCorruptionHook installs the alert hook invoked whenever stored bytes
// fail to decode. The default logs the event.
func WithCorruptionHook(hook func(partition, id string, err error)) Option {
	return func(rs *RecordStore) { rs.onCorrupt = hook }
}

// NewRecordStore creates a record store over an open engine. The engine
// handle stays owned by the caller and must outlive the store.
func NewRecordStore(eng *engine.Engine, opts ...Option) *RecordStore {
	rs := &RecordStore{
		engine: eng,
		codec:  codec.NewRecordCodec(),
		clock:  time.Now,
		onCorrupt: func(partition, id string, err error) {
			log.Printf("ALERT: corrupt record %s/%s: %v", partition, id, err)
		},
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// Get returns the record stored under (partition, id), or ErrNotFound.
func (rs *RecordStore) Get(ctx context.Context, partition, id string) (*Record, error) {
	if err := keys.Validate(partition, id); err != nil {
		return nil, err
	}

	env, present, err := rs.load(ctx, partition, id)
	if err != nil {
		return nil, err
	}
	if !present || env.Tombstone {
		return nil, ErrNotFound
	}
	return &Record{
		Partition: partition,
		ID:        id,
		Revision:  env.Revision,
		UpdatedAt: env.UpdatedAt,
		Payload:   env.Payload,
	}, nil
}

// Put stores payload under (partition, id), replacing any previous payload
// wholesale. With a non-nil expectedRevision the write is conditional. On
// success the new record is returned with its bumped revision.
func (rs *RecordStore) Put(ctx context.Context, partition, id string, payload codec.Payload, expectedRevision *uint64) (*Record, error) {
	muts := []Mutation{{Partition: partition, ID: id, Payload: payload, ExpectedRevision: expectedRevision}}
	recs, err := rs.apply(ctx, muts)
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// Delete tombstones (partition, id). Absent records return ErrNotFound;
// conflict semantics match Put.
func (rs *RecordStore) Delete(ctx context.Context, partition, id string, expectedRevision *uint64) error {
	muts := []Mutation{{Partition: partition, ID: id, Delete: true, ExpectedRevision: expectedRevision}}
	_, err := rs.apply(ctx, muts)
	return err
}

// Batch applies an ordered set of mutations atomically. If any single
// mutation fails validation or its revision check, nothing is applied.
func (rs *RecordStore) Batch(ctx context.Context, muts []Mutation) error {
	_, err := rs.apply(ctx, muts)
	return err
}

// pending tracks the simulated state of one identifier while a batch is
// being checked and assembled.
type pending struct {
	env     *codec.Envelope
	present bool
}

func (rs *RecordStore) apply(ctx context.Context, muts []Mutation) ([]*Record, error) {
	for i := range muts {
		if err := keys.Validate(muts[i].Partition, muts[i].ID); err != nil {
			return nil, fmt.Errorf("mutation %d: %w", i, err)
		}
	}

	now := rs.clock().UTC()
	batch := engine.NewBatch()
	states := make(map[string]*pending)
	results := make([]*Record, 0, len(muts))

	for i, m := range muts {
		sk := m.Partition + "\x00" + m.ID
		state, ok := states[sk]
		if !ok {
			env, present, err := rs.load(ctx, m.Partition, m.ID)
			if err != nil {
				return nil, err
			}
			state = &pending{env: env, present: present}
			states[sk] = state
		}

		exists := state.present && !state.env.Tombstone
		if err := checkRevision(m.ExpectedRevision, state, exists); err != nil {
			return nil, fmt.Errorf("mutation %d (%s/%s): %w", i, m.Partition, m.ID, err)
		}

		var prevRevision uint64
		if state.present {
			prevRevision = state.env.Revision
		}

		if m.Delete {
			if !exists {
				return nil, fmt.Errorf("mutation %d (%s/%s): %w", i, m.Partition, m.ID, ErrNotFound)
			}
			env := codec.Envelope{Tombstone: true, Revision: prevRevision + 1, UpdatedAt: now}
			encoded, err := rs.codec.EncodeRecord(env)
			if err != nil {
				return nil, fmt.Errorf("mutation %d (%s/%s): %w", i, m.Partition, m.ID, err)
			}
			batch.Set(keys.RecordKey(m.Partition, m.ID), encoded)
			batch.Delete(keys.SortedKey(m.Partition, state.env.UpdatedAt, m.ID))
			state.env = &env
			state.present = true
			results = append(results, nil)
			continue
		}

		env := codec.Envelope{Revision: prevRevision + 1, UpdatedAt: now, Payload: m.Payload}
		encoded, err := rs.codec.EncodeRecord(env)
		if err != nil {
			return nil, fmt.Errorf("mutation %d (%s/%s): %w", i, m.Partition, m.ID, err)
		}
		if exists {
			batch.Delete(keys.SortedKey(m.Partition, state.env.UpdatedAt, m.ID))
		}
		batch.Set(keys.RecordKey(m.Partition, m.ID), encoded)
		batch.Set(keys.SortedKey(m.Partition, now, m.ID), encoded)
		state.env = &env
		state.present = true
		results = append(results, &Record{
			Partition: m.Partition,
			ID:        m.ID,
			Revision:  env.Revision,
			UpdatedAt: now,
			Payload:   m.Payload,
		})
	}

	if err := rs.engine.Apply(ctx, batch); err != nil {
		return nil, err
	}
	return results, nil
}

// checkRevision enforces the optimistic concurrency contract. A nil
// expectation is unconditional; zero means the record must not exist.
func checkRevision(expected *uint64, state *pending, exists bool) error {
	if expected == nil {
		return nil
	}
	if *expected == 0 {
		if exists {
			return fmt.Errorf("%w: expected absent, found revision %d", ErrRevisionConflict, state.env.Revision)
		}
		return nil
	}
	if !exists {
		return fmt.Errorf("%w: expected revision %d, record absent", ErrRevisionConflict, *expected)
	}
	if state.env.Revision != *expected {
		return fmt.Errorf("%w: expected revision %d, found %d", ErrRevisionConflict, *expected, state.env.Revision)
	}
	return nil
}

// load reads and decodes the envelope stored under the primary key.
func (rs *RecordStore) load(ctx context.Context, partition, id string) (*codec.Envelope, bool, error) {
	data, found, err := rs.engine.Get(ctx, keys.RecordKey(partition, id))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	env, err := rs.codec.DecodeRecord(data)
	if err != nil {
		rs.onCorrupt(partition, id, err)
		return nil, false, fmt.Errorf("%w: %s/%s: %v", ErrStorageCorrupt, partition, id, err)
	}
	return env, true, nil
}

// Scan streams records from a partition in key order, skipping tombstones.
// Decoding is lazy; the sequence reflects an engine snapshot taken at call
// time. Closing the context abandons the scan with no side effect.
func (rs *RecordStore) Scan(ctx context.Context, partition string, opts ScanOptions) (<-chan ScanResult, error) {
	if err := keys.ValidatePartition(partition); err != nil {
		return nil, err
	}

	var lower, upper []byte
	if opts.ByTime {
		lower, upper = keys.SortedRange(partition, opts.From, opts.Till)
	} else {
		lower, upper = keys.RecordRange(partition)
	}

	it, err := rs.engine.Scan(ctx, lower, upper)
	if err != nil {
		return nil, err
	}

	ch := make(chan ScanResult)
	go func() {
		defer close(ch)

		fail := func(err error) {
			select {
			case ch <- ScanResult{Err: err}:
			case <-ctx.Done():
			}
		}

		emitted := 0
		for it.Next() {
			rec, err := rs.decodeEntry(partition, opts.ByTime, it.Key(), it.Value())
			if err != nil {
				_ = it.Close()
				fail(err)
				return
			}
			if rec == nil {
				continue // tombstone
			}
			select {
			case ch <- ScanResult{Record: rec}:
			case <-ctx.Done():
				_ = it.Close()
				return
			}
			emitted++
			if opts.Limit > 0 && emitted >= opts.Limit {
				_ = it.Close()
				return
			}
		}
		if err := it.Close(); err != nil {
			fail(err)
		}
	}()
	return ch, nil
}

// decodeEntry turns one scanned key/value into a record, or nil for a
// tombstone.
func (rs *RecordStore) decodeEntry(partition string, byTime bool, key, value []byte) (*Record, error) {
	var id string
	var err error
	if byTime {
		_, id, err = keys.SortedEntry(partition, key)
	} else {
		id, err = keys.RecordID(partition, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}

	env, err := rs.codec.DecodeRecord(value)
	if err != nil {
		rs.onCorrupt(partition, id, err)
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrStorageCorrupt, partition, id, err)
	}
	if env.Tombstone {
		return nil, nil
	}
	return &Record{
		Partition: partition,
		ID:        id,
		Revision:  env.Revision,
		UpdatedAt: env.UpdatedAt,
		Payload:   env.Payload,
	}, nil
}
