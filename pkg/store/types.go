package store

import (
	"time"

	"github.com/segmentio/ksuid"

	"github.com/muninndb/muninn/pkg/codec"
)

// Record is a typed, versioned record. Records cross the store boundary by
// value only; no engine handle ever escapes.
type Record struct {
	Partition string
	ID        string
	Revision  uint64
	UpdatedAt time.Time
	Payload   codec.Payload
}

// Mutation is one put or delete inside a batch.
type Mutation struct {
	Partition string
	ID        string
	// Payload is the new payload for a put. Ignored for deletes.
	Payload codec.Payload
	// Delete marks this mutation as a tombstone write.
	Delete bool
	// ExpectedRevision, when non-nil, makes the mutation conditional: it
	// fails with ErrRevisionConflict unless the stored revision matches.
	// Zero means "the record must not exist".
	ExpectedRevision *uint64
}

// ScanOptions bounds a partition scan.
type ScanOptions struct {
	// ByTime scans the time-sorted index instead of identifier order.
	ByTime bool
	// From and Till bound a ByTime scan to from <= UpdatedAt < till.
	// A zero Till means no upper bound.
	From time.Time
	Till time.Time
	// Limit stops the scan after this many records. Zero means unlimited.
	Limit int
}

// ScanResult is one element of a lazy scan: a record, or the error that
// ended the scan.
type ScanResult struct {
	Record *Record
	Err    error
}

// NewRecordID generates a new sortable record identifier.
func NewRecordID() string {
	return ksuid.New().String()
}

// Rev is a convenience for building *uint64 expected revisions.
func Rev(r uint64) *uint64 {
	return &r
}

// StoreError represents a record store error.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

// Errors
var (
	// ErrNotFound means the identifier is absent. An expected outcome, not
	// a failure.
	ErrNotFound = &StoreError{"record not found"}
	// ErrRevisionConflict means an expected-revision check failed. The
	// caller should re-read and retry, or abort.
	ErrRevisionConflict = &StoreError{"revision conflict"}
	// ErrStorageCorrupt means stored bytes failed to decode. Non-retryable.
	ErrStorageCorrupt = &StoreError{"storage corrupt"}
)
