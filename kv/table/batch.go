package table

import (
	"context"

	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// Batch stages many record mutations and sends them in bulk calls.
//
//	b := users.NewBatch(500)
//	for _, u := range imported {
//	    if err := b.Set(ctx, u.ID, u.Metadata(), nil); err != nil {
//	        return err
//	    }
//	}
//	return b.Finish(ctx)
//
// A record may be mutated several times in one batch. Index entries staged by
// an earlier mutation that the later one does not need are dropped if still
// pending, or deleted if already sent.
//
// A Batch is not safe for concurrent use.
type Batch struct {
	t *Table
	c *kvsdk.Coalescer
	// index keys staged per record key by its last mutation in this batch
	staged map[string][]string
}

// NewBatch returns a batch flushing each class of mutation once chunkSize
// items are pending. Zero uses the remote's bulk ceiling.
func (t *Table) NewBatch(chunkSize int) *Batch {
	return &Batch{
		t:      t,
		c:      t.coalescer(chunkSize),
		staged: make(map[string][]string),
	}
}

// Set stages a record write like Table.Set.
func (b *Batch) Set(ctx context.Context, key string, md kvsdk.Metadata, value []byte, opts ...SetOption) error {
	if err := b.t.validateKey(key); err != nil {
		return err
	}
	l, err := b.t.layout(key, md)
	if err != nil {
		return errors.Wrapf(err, "batch set %s", key)
	}
	durable := b.t.readDirectory(ctx, key)
	staged := b.staged[key]

	for _, kv := range l.items(value, expiry(opts)) {
		if err := b.c.EnqueueWrite(ctx, kv); err != nil {
			return errors.Wrapf(err, "batch set %s", key)
		}
	}
	b.staged[key] = l.indexKeys

	if err := b.retract(ctx, difference(staged, l.indexKeys), durable); err != nil {
		return errors.Wrapf(err, "batch set %s", key)
	}
	for _, k := range difference(durable, l.indexKeys) {
		if err := b.c.EnqueueDelete(ctx, k); err != nil {
			return errors.Wrapf(err, "batch set %s", key)
		}
	}
	return nil
}

// Del stages the removal of a record and all of its index entries, durable
// or staged.
func (b *Batch) Del(ctx context.Context, key string) error {
	if err := b.t.validateKey(key); err != nil {
		return err
	}
	keys := []string{b.t.keys.DataKey(key), b.t.keys.DirectoryKey(key)}
	keys = append(keys, b.t.readDirectory(ctx, key)...)
	keys = append(keys, b.staged[key]...)
	delete(b.staged, key)
	for _, k := range keys {
		if err := b.c.EnqueueDelete(ctx, k); err != nil {
			return errors.Wrapf(err, "batch del %s", key)
		}
	}
	return nil
}

// Put stages a raw write of a physical key.
func (b *Batch) Put(ctx context.Context, kv kvsdk.KeyValue) error {
	return b.c.EnqueueWrite(ctx, kv)
}

// Delete stages a raw delete of a physical key.
func (b *Batch) Delete(ctx context.Context, key string) error {
	return b.c.EnqueueDelete(ctx, key)
}

// Finish sends everything still pending, writes first. The batch can be
// reused afterwards.
func (b *Batch) Finish(ctx context.Context) error {
	if err := b.c.Finish(ctx); err != nil {
		return err
	}
	b.staged = make(map[string][]string)
	return nil
}

func (b *Batch) Stats() kvsdk.CoalescerStats {
	return b.c.Stats()
}

// retract undoes index entries staged earlier in this batch. A pending write
// is simply dropped; one that was already sent, or that existed before the
// batch, is deleted.
func (b *Batch) retract(ctx context.Context, keys, durable []string) error {
	if len(keys) == 0 {
		return nil
	}
	existed := make(map[string]struct{}, len(durable))
	for _, k := range durable {
		existed[k] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := existed[k]; !ok && b.c.Retract(k) {
			continue
		}
		if err := b.c.EnqueueDelete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
