package keys

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestPartitionPrefix_IsStrictPrefix(t *testing.T) {
	prefix := PartitionPrefix("orders")
	key := RecordKey("orders", "A1")

	if !bytes.HasPrefix(key, prefix) {
		t.Error("record key does not start with its partition prefix")
	}
	if bytes.Equal(key, prefix) {
		t.Error("record key equals bare partition prefix")
	}
}

func TestPartitionPrefix_AdjacentPartitionsDisjoint(t *testing.T) {
	// "orders" is a textual prefix of "orders2"; the length framing must
	// still keep their key ranges disjoint.
	lower, upper := RecordRange("orders")
	other := RecordKey("orders2", "A1")

	if bytes.Compare(other, lower) >= 0 && bytes.Compare(other, upper) < 0 {
		t.Error("key from partition orders2 falls inside the orders range")
	}
}

func TestRecordKey_DistinctIDsNeverCollide(t *testing.T) {
	seen := map[string]string{}
	for _, id := range []string{"a", "b", "ab", "a\x00b", "aa", "A1"} {
		k := string(RecordKey("p", id))
		if prev, ok := seen[k]; ok {
			t.Fatalf("ids %q and %q derived the same key", prev, id)
		}
		seen[k] = id
	}
}

func TestRecordID_RoundTrip(t *testing.T) {
	id, err := RecordID("orders", RecordKey("orders", "A1"))
	if err != nil {
		t.Fatalf("RecordID failed: %v", err)
	}
	if id != "A1" {
		t.Errorf("got id %q, want A1", id)
	}

	_, err = RecordID("orders", RecordKey("invoices", "A1"))
	if !errors.Is(err, ErrBadKey) {
		t.Errorf("expected ErrBadKey for foreign partition, got %v", err)
	}
}

func TestSortedKey_ByteOrderMatchesTimeOrder(t *testing.T) {
	times := []time.Time{
		time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC), // pre-epoch
		time.Unix(0, 0),
		time.Unix(0, 1),
		time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 10, 30, 0, 1, time.UTC), // one nanosecond later
		time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	var prev []byte
	for i, ts := range times {
		key := SortedKey("ops", ts, "x")
		if prev != nil && bytes.Compare(prev, key) >= 0 {
			t.Errorf("key order broken between index %d and %d", i-1, i)
		}
		prev = key
	}
}

func TestSortedKey_TieBreaksOnID(t *testing.T) {
	at := time.Unix(1700000000, 0)
	a := SortedKey("ops", at, "a")
	b := SortedKey("ops", at, "b")
	if bytes.Compare(a, b) >= 0 {
		t.Error("equal timestamps must order by identifier")
	}
}

func TestSortedEntry_RoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	key := SortedKey("ops", at, "A1")

	got, id, err := SortedEntry("ops", key)
	if err != nil {
		t.Fatalf("SortedEntry failed: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("timestamp mismatch: got %v, want %v", got, at)
	}
	if id != "A1" {
		t.Errorf("id mismatch: got %q, want A1", id)
	}
}

func TestSortedRange_Bounds(t *testing.T) {
	from := time.Unix(100, 0)
	till := time.Unix(200, 0)
	lower, upper := SortedRange("ops", from, till)

	inside := SortedKey("ops", time.Unix(150, 0), "x")
	before := SortedKey("ops", time.Unix(99, 0), "x")
	atTill := SortedKey("ops", till, "x")

	if bytes.Compare(inside, lower) < 0 || bytes.Compare(inside, upper) >= 0 {
		t.Error("key inside [from, till) excluded from range")
	}
	if bytes.Compare(before, lower) >= 0 {
		t.Error("key before from included in range")
	}
	if bytes.Compare(atTill, upper) < 0 {
		t.Error("range upper bound is not exclusive at till")
	}
}

func TestUpperBound(t *testing.T) {
	testCases := []struct {
		name   string
		prefix []byte
		want   []byte
	}{
		{name: "simple", prefix: []byte{0x01, 0x02}, want: []byte{0x01, 0x03}},
		{name: "carry", prefix: []byte{0x01, 0xFF}, want: []byte{0x02}},
		{name: "all max", prefix: []byte{0xFF, 0xFF}, want: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := UpperBound(tc.prefix)
			if !bytes.Equal(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("orders", "A1"); err != nil {
		t.Errorf("valid inputs rejected: %v", err)
	}
	if err := Validate("", "A1"); !errors.Is(err, ErrBadPartition) {
		t.Errorf("empty partition: got %v", err)
	}
	if err := Validate("or\x00ders", "A1"); !errors.Is(err, ErrBadPartition) {
		t.Errorf("zero byte in partition: got %v", err)
	}
	if err := Validate("orders", ""); !errors.Is(err, ErrBadID) {
		t.Errorf("empty id: got %v", err)
	}
	if err := Validate(string(bytes.Repeat([]byte("p"), 256)), "A1"); !errors.Is(err, ErrBadPartition) {
		t.Errorf("oversized partition: got %v", err)
	}
}
