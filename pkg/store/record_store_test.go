package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/engine"
	"github.com/muninndb/muninn/pkg/keys"
)

type storeFixture struct {
	engine *engine.Engine
	store  *RecordStore
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *storeFixture {
	t.Helper()
	eng, err := engine.Open(engine.Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	f := &storeFixture{engine: eng, now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.store = NewRecordStore(eng, opts...)
	return f
}

func orderPayload(amount string) codec.Payload {
	return codec.Payload{
		"amount": codec.MustDecimal(amount),
		"ts":     codec.Time(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
}

func TestRecordStore_FirstPutCreatesRevisionOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Put(ctx, "orders", "A1", orderPayload("12.50"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Revision)

	got, err := f.store.Get(ctx, "orders", "A1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Revision)
	assert.True(t, got.Payload.Equal(orderPayload("12.50")))
	assert.Equal(t, f.now, got.UpdatedAt)
}

func TestRecordStore_GetAbsent(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Get(context.Background(), "orders", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// The lifecycle scenario: create, conditional update, stale-revision
// conflict, conditional delete.
func TestRecordStore_RevisionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Put(ctx, "orders", "A1", orderPayload("12.50"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Revision)

	rec, err = f.store.Put(ctx, "orders", "A1", orderPayload("9.99"), Rev(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Revision)

	_, err = f.store.Put(ctx, "orders", "A1", orderPayload("1.00"), Rev(1))
	assert.ErrorIs(t, err, ErrRevisionConflict)

	require.NoError(t, f.store.Delete(ctx, "orders", "A1", Rev(2)))

	_, err = f.store.Get(ctx, "orders", "A1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStore_ExpectedZeroMeansMustNotExist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Put(ctx, "orders", "A1", orderPayload("1.00"), Rev(0))
	require.NoError(t, err)

	_, err = f.store.Put(ctx, "orders", "A1", orderPayload("2.00"), Rev(0))
	assert.ErrorIs(t, err, ErrRevisionConflict)
}

func TestRecordStore_DeleteSemantics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.Delete(ctx, "orders", "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.Put(ctx, "orders", "A1", orderPayload("5.00"), nil)
	require.NoError(t, err)

	err = f.store.Delete(ctx, "orders", "A1", Rev(9))
	assert.ErrorIs(t, err, ErrRevisionConflict)

	require.NoError(t, f.store.Delete(ctx, "orders", "A1", Rev(1)))

	// Deleting a tombstoned record reads as absent.
	err = f.store.Delete(ctx, "orders", "A1", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Revisions keep increasing across a tombstone, so a stale writer cannot
// mistake a recreated record for the one it read before the delete.
func TestRecordStore_RevisionSurvivesTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Put(ctx, "orders", "A1", orderPayload("5.00"), nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, "orders", "A1", nil))

	rec, err := f.store.Put(ctx, "orders", "A1", orderPayload("6.00"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Revision)
}

func TestRecordStore_BatchAtomicOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Put(ctx, "orders", "A1", orderPayload("1.00"), nil)
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "orders", "A2", orderPayload("2.00"), nil)
	require.NoError(t, err)

	err = f.store.Batch(ctx, []Mutation{
		{Partition: "orders", ID: "A1", Payload: orderPayload("10.00"), ExpectedRevision: Rev(1)},
		{Partition: "orders", ID: "A2", Payload: orderPayload("20.00"), ExpectedRevision: Rev(7)}, // stale
		{Partition: "orders", ID: "A3", Payload: orderPayload("30.00")},
	})
	require.ErrorIs(t, err, ErrRevisionConflict)

	// Nothing from the batch was applied.
	a1, err := f.store.Get(ctx, "orders", "A1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a1.Revision)
	assert.True(t, a1.Payload.Equal(orderPayload("1.00")))

	a2, err := f.store.Get(ctx, "orders", "A2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a2.Revision)

	_, err = f.store.Get(ctx, "orders", "A3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStore_BatchSequentialSameID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two mutations for the same identifier inside one batch apply in
	// order: the second sees the first's revision.
	err := f.store.Batch(ctx, []Mutation{
		{Partition: "orders", ID: "A1", Payload: orderPayload("1.00")},
		{Partition: "orders", ID: "A1", Payload: orderPayload("2.00"), ExpectedRevision: Rev(1)},
	})
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "orders", "A1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Revision)
	assert.True(t, rec.Payload.Equal(orderPayload("2.00")))
}

func collect(t *testing.T, ch <-chan ScanResult) []*Record {
	t.Helper()
	var out []*Record
	for res := range ch {
		require.NoError(t, res.Err)
		out = append(out, res.Record)
	}
	return out
}

func TestRecordStore_ScanIDOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		_, err := f.store.Put(ctx, "orders", id, orderPayload("1.00"), nil)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.Delete(ctx, "orders", "b", nil))

	ch, err := f.store.Scan(ctx, "orders", ScanOptions{})
	require.NoError(t, err)
	recs := collect(t, ch)

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "c"}, ids, "scan must be id-ordered and skip tombstones")
}

func TestRecordStore_ScanLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.store.Put(ctx, "orders", id, orderPayload("1.00"), nil)
		require.NoError(t, err)
	}

	ch, err := f.store.Scan(ctx, "orders", ScanOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, collect(t, ch), 2)
}

func TestRecordStore_ScanByTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := f.now
	for i, id := range []string{"late", "early", "mid"} {
		f.now = base.Add(time.Duration(2-i) * time.Hour) // late=+2h, early=0, mid=+1h
		_, err := f.store.Put(ctx, "orders", id, orderPayload("1.00"), nil)
		require.NoError(t, err)
	}

	ch, err := f.store.Scan(ctx, "orders", ScanOptions{ByTime: true})
	require.NoError(t, err)
	recs := collect(t, ch)

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"early", "mid", "late"}, ids)

	// Bounded: [base+30m, base+90m) holds only "mid".
	ch, err = f.store.Scan(ctx, "orders", ScanOptions{
		ByTime: true,
		From:   base.Add(30 * time.Minute),
		Till:   base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	recs = collect(t, ch)
	require.Len(t, recs, 1)
	assert.Equal(t, "mid", recs[0].ID)
}

// Updating a record must move, not duplicate, its time-sorted entry.
func TestRecordStore_UpdateMovesSortedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Put(ctx, "orders", "A1", orderPayload("1.00"), nil)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	_, err = f.store.Put(ctx, "orders", "A1", orderPayload("2.00"), nil)
	require.NoError(t, err)

	ch, err := f.store.Scan(ctx, "orders", ScanOptions{ByTime: true})
	require.NoError(t, err)
	recs := collect(t, ch)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(2), recs[0].Revision)
}

func TestRecordStore_ScanCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.store.Put(ctx, "orders", id, orderPayload("1.00"), nil)
		require.NoError(t, err)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	ch, err := f.store.Scan(scanCtx, "orders", ScanOptions{})
	require.NoError(t, err)

	res := <-ch
	require.NoError(t, res.Err)
	cancel()

	// The channel drains and closes without blocking.
	for range ch {
	}
}

func TestRecordStore_CorruptBytesSurfaceAsStorageCorrupt(t *testing.T) {
	var alerted bool
	f := newFixture(t, WithCorruptionHook(func(partition, id string, err error) {
		alerted = true
	}))
	ctx := context.Background()

	// Plant garbage directly under the record's primary key.
	b := engine.NewBatch()
	b.Set(keys.RecordKey("orders", "A1"), []byte("not an envelope"))
	require.NoError(t, f.engine.Apply(ctx, b))

	_, err := f.store.Get(ctx, "orders", "A1")
	assert.ErrorIs(t, err, ErrStorageCorrupt)
	assert.True(t, alerted, "corruption hook must fire")
}

func TestRecordStore_ValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Put(ctx, "", "A1", orderPayload("1.00"), nil)
	assert.ErrorIs(t, err, keys.ErrBadPartition)

	_, err = f.store.Get(ctx, "orders", "")
	assert.ErrorIs(t, err, keys.ErrBadID)
}

func TestRecordStore_UnsupportedPayloadRejectedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Put(ctx, "orders", "A1", codec.Payload{"bad": {}}, nil)
	require.ErrorIs(t, err, codec.ErrUnsupportedType)

	_, err = f.store.Get(ctx, "orders", "A1")
	assert.ErrorIs(t, err, ErrNotFound, "nothing may be written for a rejected payload")
}
