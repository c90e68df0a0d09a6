package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/store"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RecordResponse is the wire form of a record. The payload travels in the
// codec's JSON interchange encoding.
type RecordResponse struct {
	Partition string          `json:"partition"`
	ID        string          `json:"id"`
	Revision  uint64          `json:"revision"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// BatchOperation is one mutation inside a batch request.
type BatchOperation struct {
	Partition        string          `json:"partition"`
	ID               string          `json:"id"`
	Delete           bool            `json:"delete,omitempty"`
	ExpectedRevision *uint64         `json:"expected_revision,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// BatchRequest is the body of POST /batch.
type BatchRequest struct {
	Operations []BatchOperation `json:"operations"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port   int
	Bind   string
	APIKey string
	// ScanLimit caps records returned by a single scan request.
	ScanLimit int
}

// RecordAccess defines the store operations the API layer invokes. The
// coordinator satisfies it; tests substitute fakes.
type RecordAccess interface {
	Get(ctx context.Context, partition, id string) (*store.Record, error)
	Put(ctx context.Context, partition, id string, payload codec.Payload, expectedRevision *uint64) (*store.Record, error)
	Delete(ctx context.Context, partition, id string, expectedRevision *uint64) error
	Batch(ctx context.Context, muts []store.Mutation) error
	Scan(ctx context.Context, partition string, opts store.ScanOptions) (<-chan store.ScanResult, error)
}
