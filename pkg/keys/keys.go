// Package keys derives ordered engine keys from partitions, record
// identifiers and optional sort attributes.
//
// Every key starts with the partition prefix:
//
//	[len(partition)(1)][partition][0x00]
//
// followed by a one-byte key type and the key body. Because the prefix is
// length-framed and terminated, it is a strict byte prefix of exactly the
// keys in that partition, so prefix-bounded range scans never leak into an
// adjacent partition. Time-sorted keys carry a sign-flipped big-endian
// nanosecond timestamp ahead of the identifier, so byte-lexicographic key
// order equals chronological order over the full time.Time range.
package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Key type discriminators. Plain record keys and time-sorted keys live in
// disjoint key ranges inside a partition.
const (
	recordTag byte = 0x01
	sortedTag byte = 0x02
)

const maxPartitionLen = 255

// KeyError represents an invalid partition, identifier or engine key.
type KeyError struct {
	Message string
}

func (e *KeyError) Error() string {
	return e.Message
}

// Errors
var (
	ErrBadPartition = &KeyError{"invalid partition name"}
	ErrBadID        = &KeyError{"invalid record identifier"}
	ErrBadKey       = &KeyError{"malformed engine key"}
)

// ValidatePartition checks that a partition name can be framed into a key
// prefix.
func ValidatePartition(partition string) error {
	if len(partition) == 0 || len(partition) > maxPartitionLen {
		return fmt.Errorf("%w: %q", ErrBadPartition, partition)
	}
	if bytes.IndexByte([]byte(partition), 0x00) >= 0 {
		return fmt.Errorf("%w: %q contains a zero byte", ErrBadPartition, partition)
	}
	return nil
}

// Validate checks that partition and id can be framed into a key.
func Validate(partition, id string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if len(id) == 0 {
		return ErrBadID
	}
	return nil
}

// PartitionPrefix returns the byte prefix shared by every key in the
// partition.
func PartitionPrefix(partition string) []byte {
	prefix := make([]byte, 0, len(partition)+2)
	prefix = append(prefix, byte(len(partition)))
	prefix = append(prefix, partition...)
	return append(prefix, 0x00)
}

// RecordKey derives the primary key for a record identifier.
func RecordKey(partition, id string) []byte {
	prefix := PartitionPrefix(partition)
	key := make([]byte, 0, len(prefix)+1+len(id))
	key = append(key, prefix...)
	key = append(key, recordTag)
	return append(key, id...)
}

// SortedKey derives a secondary key ordered by timestamp, then identifier.
// Identifiers tie-break equal timestamps so distinct records never collide.
func SortedKey(partition string, at time.Time, id string) []byte {
	prefix := PartitionPrefix(partition)
	key := make([]byte, 0, len(prefix)+9+len(id))
	key = append(key, prefix...)
	key = append(key, sortedTag)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], encodeTime(at))
	key = append(key, ts[:]...)
	return append(key, id...)
}

// RecordRange returns the half-open key range covering every primary
// record key in the partition.
func RecordRange(partition string) (lower, upper []byte) {
	lower = append(PartitionPrefix(partition), recordTag)
	return lower, UpperBound(lower)
}

// SortedRange returns the half-open key range covering time-sorted keys
// with from <= timestamp < till. A zero till means no upper time bound.
func SortedRange(partition string, from, till time.Time) (lower, upper []byte) {
	base := append(PartitionPrefix(partition), sortedTag)

	lower = make([]byte, len(base), len(base)+8)
	copy(lower, base)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], encodeTime(from))
	lower = append(lower, ts[:]...)

	if till.IsZero() {
		return lower, UpperBound(base)
	}
	upper = make([]byte, len(base), len(base)+8)
	copy(upper, base)
	binary.BigEndian.PutUint64(ts[:], encodeTime(till))
	return lower, append(upper, ts[:]...)
}

// RecordID extracts the identifier from a primary record key in the given
// partition.
func RecordID(partition string, key []byte) (string, error) {
	prefix := PartitionPrefix(partition)
	if len(key) <= len(prefix)+1 || !bytes.HasPrefix(key, prefix) || key[len(prefix)] != recordTag {
		return "", fmt.Errorf("%w: not a record key for partition %q", ErrBadKey, partition)
	}
	return string(key[len(prefix)+1:]), nil
}

// SortedEntry extracts the timestamp and identifier from a time-sorted key.
func SortedEntry(partition string, key []byte) (time.Time, string, error) {
	prefix := PartitionPrefix(partition)
	if len(key) <= len(prefix)+9 || !bytes.HasPrefix(key, prefix) || key[len(prefix)] != sortedTag {
		return time.Time{}, "", fmt.Errorf("%w: not a sorted key for partition %q", ErrBadKey, partition)
	}
	ts := decodeTime(binary.BigEndian.Uint64(key[len(prefix)+1 : len(prefix)+9]))
	return ts, string(key[len(prefix)+9:]), nil
}

// UpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func UpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// encodeTime flips the sign bit of the nanosecond timestamp so that
// big-endian byte order matches chronological order for the whole int64
// range, pre-epoch instants included.
func encodeTime(t time.Time) uint64 {
	return uint64(t.UnixNano()) ^ (1 << 63)
}

func decodeTime(v uint64) time.Time {
	return time.Unix(0, int64(v^(1<<63))).UTC()
}
