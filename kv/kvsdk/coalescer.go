package kvsdk

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// DefaultChunkSize is the flush threshold used when none is configured.
const DefaultChunkSize = MaxBulkItems

// NewCoalescer creates a write coalescer on top of remote.
//
// Enqueue writes and deletes, then call Finish:
//
//	c := kvsdk.NewCoalescer(remote, kvsdk.WithChunkSize(500))
//	c.EnqueueWrite(ctx, kvsdk.KeyValue{Key: "a", Value: []byte("1")})
//	c.EnqueueDelete(ctx, "b")
//	if err := c.Finish(ctx); err != nil {
//	    return err
//	}
//
// A Coalescer belongs to one batch and is not safe for concurrent use.
func NewCoalescer(remote Remote, opts ...CoalescerOption) *Coalescer {
	c := &Coalescer{
		remote:         remote,
		pendingWrites:  make(map[string]KeyValue),
		pendingDeletes: make(map[string]struct{}),
		opts: coalescerOpts{
			chunkSize: DefaultChunkSize,
			logger:    zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if c.opts.chunkSize <= 0 {
		c.opts.chunkSize = DefaultChunkSize
	}
	if c.opts.chunkSize > MaxBulkItems {
		c.opts.logger.Warn().Int("chunkSize", c.opts.chunkSize).Msg("chunk size above bulk ceiling, clamping")
		c.opts.chunkSize = MaxBulkItems
	}
	return c
}

// Coalescer accumulates physical writes and deletes keyed by physical key
// and dispatches each class in bulk once it reaches the chunk size.
// A later mutation of a key replaces any pending mutation of the same key,
// so a key is never pending as both a write and a delete.
type Coalescer struct {
	remote Remote
	opts   coalescerOpts

	pendingWrites  map[string]KeyValue
	pendingDeletes map[string]struct{}
	stats          CoalescerStats
}

// CoalescerStats counts the bulk calls a Coalescer issued.
type CoalescerStats struct {
	WriteCalls  int
	DeleteCalls int
	Written     int
	Deleted     int
}

// EnqueueWrite stages a write. It cancels a pending delete of the same key
// and overwrites a pending write of the same key.
func (c *Coalescer) EnqueueWrite(ctx context.Context, kv KeyValue) error {
	delete(c.pendingDeletes, kv.Key)
	c.pendingWrites[kv.Key] = kv
	if len(c.pendingWrites) >= c.opts.chunkSize {
		return c.FlushWrites(ctx)
	}
	return nil
}

// EnqueueDelete stages a delete, cancelling a pending write of the same key.
func (c *Coalescer) EnqueueDelete(ctx context.Context, key string) error {
	delete(c.pendingWrites, key)
	c.pendingDeletes[key] = struct{}{}
	if len(c.pendingDeletes) >= c.opts.chunkSize {
		return c.FlushDeletes(ctx)
	}
	return nil
}

// Retract drops a pending write without staging a delete.
// It reports whether a write for key was pending.
func (c *Coalescer) Retract(key string) bool {
	if _, ok := c.pendingWrites[key]; !ok {
		return false
	}
	delete(c.pendingWrites, key)
	return true
}

// FlushWrites sends all pending writes in one bulk call.
// Pending writes are kept if the call fails.
func (c *Coalescer) FlushWrites(ctx context.Context) error {
	if len(c.pendingWrites) == 0 {
		return nil
	}
	keys := sortedKeys(c.pendingWrites)
	kvs := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, c.pendingWrites[k])
	}
	if err := c.remote.BulkPut(ctx, kvs); err != nil {
		return errors.Wrapf(err, "flush %d writes", len(kvs))
	}
	c.stats.WriteCalls++
	c.stats.Written += len(kvs)
	c.opts.logger.Debug().Int("items", len(kvs)).Msg("flushed writes")
	c.pendingWrites = make(map[string]KeyValue)
	return nil
}

// FlushDeletes sends all pending deletes in one bulk call.
// Pending deletes are kept if the call fails.
func (c *Coalescer) FlushDeletes(ctx context.Context) error {
	if len(c.pendingDeletes) == 0 {
		return nil
	}
	keys := sortedKeys(c.pendingDeletes)
	if err := c.remote.BulkDelete(ctx, keys); err != nil {
		return errors.Wrapf(err, "flush %d deletes", len(keys))
	}
	c.stats.DeleteCalls++
	c.stats.Deleted += len(keys)
	c.opts.logger.Debug().Int("items", len(keys)).Msg("flushed deletes")
	c.pendingDeletes = make(map[string]struct{})
	return nil
}

// Finish flushes writes and then deletes, regardless of the chunk size.
// Deletes stay pending when the write flush fails.
func (c *Coalescer) Finish(ctx context.Context) error {
	if err := c.FlushWrites(ctx); err != nil {
		return err
	}
	return c.FlushDeletes(ctx)
}

// Pending returns the number of staged writes and deletes.
func (c *Coalescer) Pending() (writes, deletes int) {
	return len(c.pendingWrites), len(c.pendingDeletes)
}

func (c *Coalescer) Stats() CoalescerStats {
	return c.stats
}

// ChunkSize returns the effective flush threshold.
func (c *Coalescer) ChunkSize() int {
	return c.opts.chunkSize
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type CoalescerOption func(*coalescerOpts)

type coalescerOpts struct {
	chunkSize int
	logger    zerolog.Logger
}

// WithChunkSize sets the number of pending items of one class that triggers
// a flush. Values above MaxBulkItems are clamped.
func WithChunkSize(n int) CoalescerOption {
	return func(o *coalescerOpts) {
		o.chunkSize = n
	}
}

func WithLogger(l zerolog.Logger) CoalescerOption {
	return func(o *coalescerOpts) {
		o.logger = l
	}
}
