package bulk

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/coordinator"
	"github.com/muninndb/muninn/pkg/engine"
	"github.com/muninndb/muninn/pkg/store"
)

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	eng, err := engine.Open(engine.Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return coordinator.New(store.NewRecordStore(eng), coordinator.Config{})
}

func TestImporter_ImportSlice(t *testing.T) {
	c := newTestCoordinator(t)
	im := NewImporter(c, 2)
	ctx := context.Background()

	tuples := make([]Tuple, 5)
	for i := range tuples {
		tuples[i] = Tuple{
			Partition: "orders",
			ID:        fmt.Sprintf("A%d", i),
			Payload:   codec.Payload{"amount": codec.MustDecimal("1.50")},
		}
	}

	applied, err := im.ImportSlice(ctx, tuples)
	require.NoError(t, err)
	assert.Equal(t, 5, applied)

	for i := range tuples {
		rec, err := c.Get(ctx, "orders", fmt.Sprintf("A%d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), rec.Revision)
	}
}

func TestImporter_ChunkBoundaryAtomicity(t *testing.T) {
	c := newTestCoordinator(t)
	im := NewImporter(c, 2)
	ctx := context.Background()

	// The invalid tuple lands in the second chunk: the first chunk stays
	// applied, the failing chunk is not applied at all.
	tuples := []Tuple{
		{Partition: "orders", ID: "A0", Payload: codec.Payload{"n": codec.String("x")}},
		{Partition: "orders", ID: "A1", Payload: codec.Payload{"n": codec.String("x")}},
		{Partition: "orders", ID: "A2", Payload: codec.Payload{"n": codec.String("x")}},
		{Partition: "orders", ID: "", Payload: codec.Payload{"n": codec.String("x")}}, // invalid id
	}

	applied, err := im.ImportSlice(ctx, tuples)
	require.Error(t, err)
	assert.Equal(t, 2, applied)

	_, err = c.Get(ctx, "orders", "A1")
	require.NoError(t, err)
	_, err = c.Get(ctx, "orders", "A2")
	assert.ErrorIs(t, err, store.ErrNotFound, "failing chunk must not be partially applied")
}

const ordersCSV = `id,amount:decimal,when:time,note:string,paid:bool
A1,12.340,2024-03-01T09:00:00Z,first,true
A2,-0.075,2024-03-01T10:30:00.5Z,second,false
`

func TestImportCSV_RoundTrip(t *testing.T) {
	c := newTestCoordinator(t)
	im := NewImporter(c, 0)
	ctx := context.Background()

	applied, err := im.ImportCSV(ctx, "orders", strings.NewReader(ordersCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	rec, err := c.Get(ctx, "orders", "A1")
	require.NoError(t, err)
	amount, ok := rec.Payload["amount"].AsDecimal()
	require.True(t, ok)
	assert.Equal(t, "12.340", amount.Text('f'), "decimal scale must survive CSV import")

	var out bytes.Buffer
	cols := []Column{
		{Name: "amount", Kind: codec.KindDecimal},
		{Name: "when", Kind: codec.KindTime},
		{Name: "note", Kind: codec.KindString},
		{Name: "paid", Kind: codec.KindBool},
	}
	n, err := ExportCSV(ctx, c, &out, "orders", cols, store.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Importing the export into a fresh partition yields equal payloads.
	applied, err = im.ImportCSV(ctx, "orders_copy", bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	orig, err := c.Get(ctx, "orders", "A2")
	require.NoError(t, err)
	copied, err := c.Get(ctx, "orders_copy", "A2")
	require.NoError(t, err)
	assert.True(t, copied.Payload.Equal(orig.Payload))
}

func TestImportCSV_Errors(t *testing.T) {
	c := newTestCoordinator(t)
	im := NewImporter(c, 0)
	ctx := context.Background()

	testCases := []struct {
		name  string
		input string
		want  error
	}{
		{name: "missing id column", input: "amount:decimal\n1.00\n", want: ErrBadHeader},
		{name: "unknown type", input: "id,amount:money\nA1,1.00\n", want: ErrBadHeader},
		{name: "untyped column", input: "id,amount\nA1,1.00\n", want: ErrBadHeader},
		{name: "bad decimal cell", input: "id,amount:decimal\nA1,abc\n", want: ErrBadCell},
		{name: "bad bool cell", input: "id,paid:bool\nA1,maybe\n", want: ErrBadCell},
		{name: "bad time cell", input: "id,when:time\nA1,tomorrow\n", want: ErrBadCell},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := im.ImportCSV(ctx, "orders_err", strings.NewReader(tc.input))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExport_IsLazyAndBounded(t *testing.T) {
	c := newTestCoordinator(t)
	im := NewImporter(c, 0)
	ctx := context.Background()

	tuples := make([]Tuple, 10)
	for i := range tuples {
		tuples[i] = Tuple{Partition: "orders", ID: fmt.Sprintf("A%d", i), Payload: codec.Payload{"n": codec.String("x")}}
	}
	_, err := im.ImportSlice(ctx, tuples)
	require.NoError(t, err)

	ch, err := Export(ctx, c, "orders", store.ScanOptions{Limit: 3})
	require.NoError(t, err)

	count := 0
	for res := range ch {
		require.NoError(t, res.Err)
		count++
	}
	assert.Equal(t, 3, count)
}
