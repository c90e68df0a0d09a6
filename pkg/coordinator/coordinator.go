// Package coordinator serializes mutating record operations per
// identifier while letting reads run concurrently against the engine's
// snapshot isolation.
//
// Each (partition, identifier) pair maps to a FIFO mailbox drained by a
// single goroutine, so no identifier ever has two in-flight mutations and
// mutations apply in arrival order. Mailboxes are created on demand and
// torn down when idle. Batches span identifiers, so they take a coordinator
// -wide write lane that excludes single-identifier mutations for the
// duration of the commit; the engine batch remains the sole atomicity
// boundary.
//
// A caller may abandon a queued mutation by cancelling its context: the
// mailbox drops it before execution. Once dequeued, a mutation always runs
// to completion; partial application is never possible.
package coordinator

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/store"
)

// CoordError represents a coordination-level failure.
type CoordError struct {
	Message string
}

func (e *CoordError) Error() string {
	return e.Message
}

// ErrOverloaded means an identifier's queue (or the batch lane) is full.
// Retryable by the caller after backoff.
var ErrOverloaded = &CoordError{"mutation queue is full"}

const (
	defaultQueueDepth = 128
	defaultShards     = 32
)

// Config holds configuration for the coordinator.
type Config struct {
	// QueueDepth bounds pending mutations per identifier and pending
	// batches overall. Exceeding it fails fast with ErrOverloaded.
	QueueDepth int
	// Shards is the number of mailbox map shards.
	Shards int
}

// Coordinator is the serialization point for all mutating access to the
// record store.
type Coordinator struct {
	store   *store.RecordStore
	depth   int
	shards  []*shard
	batchMu sync.RWMutex
	batches chan struct{}
}

type shard struct {
	mu    sync.Mutex
	boxes map[string]*mailbox
}

type mailbox struct {
	ch chan *task
}

type task struct {
	ctx   context.Context
	exec  func(ctx context.Context) (*store.Record, error)
	reply chan taskResult
}

type taskResult struct {
	record *store.Record
	err    error
}

// New creates a coordinator over a record store.
func New(rs *store.RecordStore, cfg Config) *Coordinator {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	nshards := cfg.Shards
	if nshards <= 0 {
		nshards = defaultShards
	}

	shards := make([]*shard, nshards)
	for i := range shards {
		shards[i] = &shard{boxes: make(map[string]*mailbox)}
	}
	return &Coordinator{
		store:   rs,
		depth:   depth,
		shards:  shards,
		batches: make(chan struct{}, depth),
	}
}

// Get reads a record. Reads bypass mutation serialization: the engine's
// snapshot reads keep them consistent.
func (c *Coordinator) Get(ctx context.Context, partition, id string) (*store.Record, error) {
	return c.store.Get(ctx, partition, id)
}

// Scan streams records from a partition. Like Get, scans bypass the
// mutation queues and observe an engine snapshot.
func (c *Coordinator) Scan(ctx context.Context, partition string, opts store.ScanOptions) (<-chan store.ScanResult, error) {
	return c.store.Scan(ctx, partition, opts)
}

// Put enqueues a conditional put for (partition, id) and waits for it.
func (c *Coordinator) Put(ctx context.Context, partition, id string, payload codec.Payload, expectedRevision *uint64) (*store.Record, error) {
	return c.submit(ctx, partition, id, func(ctx context.Context) (*store.Record, error) {
		return c.store.Put(ctx, partition, id, payload, expectedRevision)
	})
}

// Delete enqueues a conditional delete for (partition, id) and waits for it.
func (c *Coordinator) Delete(ctx context.Context, partition, id string, expectedRevision *uint64) error {
	_, err := c.submit(ctx, partition, id, func(ctx context.Context) (*store.Record, error) {
		return nil, c.store.Delete(ctx, partition, id, expectedRevision)
	})
	return err
}

// Batch applies mutations atomically. Batches serialize against each other
// and exclude single-identifier mutations while committing, preserving the
// single-writer-per-identifier guarantee across identifiers.
func (c *Coordinator) Batch(ctx context.Context, muts []store.Mutation) error {
	select {
	case c.batches <- struct{}{}:
	default:
		return ErrOverloaded
	}
	defer func() { <-c.batches }()

	if err := ctx.Err(); err != nil {
		return err
	}

	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	// Committed work must not be torn by cancellation mid-flight.
	return c.store.Batch(context.WithoutCancel(ctx), muts)
}

// Stats reports coordinator occupancy for diagnostics and metrics.
type Stats struct {
	ActiveQueues   int
	PendingBatches int
}

// Stats returns a point-in-time snapshot of queue occupancy.
func (c *Coordinator) Stats() Stats {
	var s Stats
	for _, sh := range c.shards {
		sh.mu.Lock()
		s.ActiveQueues += len(sh.boxes)
		sh.mu.Unlock()
	}
	s.PendingBatches = len(c.batches)
	return s
}

// submit places exec on the identifier's mailbox and waits for the result
// or for the caller to give up before dequeue.
func (c *Coordinator) submit(ctx context.Context, partition, id string, exec func(ctx context.Context) (*store.Record, error)) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &task{ctx: ctx, exec: exec, reply: make(chan taskResult, 1)}
	if err := c.enqueue(partition+"\x00"+id, t); err != nil {
		return nil, err
	}

	// A caller may stop waiting while its task is still queued: the
	// mailbox drops the task before execution, so leaving here cannot
	// orphan a side effect. Once dequeued the mutation runs to
	// completion and the buffered reply send never blocks the drain.
	select {
	case res := <-t.reply:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) enqueue(key string, t *task) error {
	h := fnv.New32a()
	h.Write([]byte(key))
	sh := c.shards[h.Sum32()%uint32(len(c.shards))]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	mb, ok := sh.boxes[key]
	if !ok {
		mb = &mailbox{ch: make(chan *task, c.depth)}
		sh.boxes[key] = mb
		go c.drain(sh, key, mb)
	}

	select {
	case mb.ch <- t:
		return nil
	default:
		return ErrOverloaded
	}
}

// drain is the single active worker for one identifier. It processes
// queued tasks in order and removes the mailbox once empty. The empty
// check re-runs under the shard lock so no enqueue can race the teardown.
func (c *Coordinator) drain(sh *shard, key string, mb *mailbox) {
	for {
		select {
		case t := <-mb.ch:
			c.process(t)
		default:
			sh.mu.Lock()
			select {
			case t := <-mb.ch:
				sh.mu.Unlock()
				c.process(t)
			default:
				delete(sh.boxes, key)
				sh.mu.Unlock()
				return
			}
		}
	}
}

func (c *Coordinator) process(t *task) {
	// Cancellation before dequeue removes the task with no side effect.
	if err := t.ctx.Err(); err != nil {
		t.reply <- taskResult{err: err}
		return
	}

	// Single-identifier mutations run concurrently with each other but
	// never overlap a batch commit.
	c.batchMu.RLock()
	defer c.batchMu.RUnlock()

	rec, err := t.exec(context.WithoutCancel(t.ctx))
	t.reply <- taskResult{record: rec, err: err}
}
