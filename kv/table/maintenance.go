package table

import (
	"context"

	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/index"
	"github.com/acksell/cfkv/kv/kvsdk"
)

// RebuildIndexes recomputes the index entries of every record from its stored
// metadata and writes them. Data keys are not rewritten. Afterwards every
// entry in the table's index key space that no record produced is deleted,
// including entries of indexes that are no longer declared and entries no
// directory tracks any more. It returns the number of records swept.
//
// Use it after changing the index definitions, or to clean up after failed
// writes. Records written while it runs may lose index entries until they
// are written again.
func (t *Table) RebuildIndexes(ctx context.Context, chunkSize int) (int, error) {
	c := t.coalescer(chunkSize)
	live := make(map[string]struct{})

	it := t.Iterator(t.keys.DataPrefix())
	swept := 0
	for !it.Done() {
		page, err := it.Next(ctx)
		if err != nil {
			return swept, errors.Wrap(err, "rebuild indexes")
		}
		for _, item := range page.Items {
			l, err := t.layout(item.Key, item.Metadata)
			if err != nil {
				t.opts.logger.Warn().Err(err).Str("table", t.def.Name).Str("key", item.Key).Msg("record left out of an index")
			}
			for _, kv := range l.indexItems(setOpts{expiration: item.Expiration}) {
				if err := c.EnqueueWrite(ctx, kv); err != nil {
					return swept, errors.Wrap(err, "rebuild indexes")
				}
			}
			for _, k := range l.indexKeys {
				live[k] = struct{}{}
			}
			swept++
		}
	}

	orphans := 0
	it = t.Iterator(t.keys.IndexSpacePrefix())
	for !it.Done() {
		page, err := it.Next(ctx)
		if err != nil {
			return swept, errors.Wrap(err, "rebuild indexes: sweep orphans")
		}
		for _, item := range page.Items {
			if _, ok := live[item.PhysicalKey]; ok {
				continue
			}
			if err := c.EnqueueDelete(ctx, item.PhysicalKey); err != nil {
				return swept, errors.Wrap(err, "rebuild indexes: sweep orphans")
			}
			orphans++
		}
	}

	if err := c.Finish(ctx); err != nil {
		return swept, errors.Wrap(err, "rebuild indexes")
	}
	stats := c.Stats()
	t.opts.logger.Info().
		Str("table", t.def.Name).
		Int("records", swept).
		Int("written", stats.Written).
		Int("orphans", orphans).
		Msg("rebuilt indexes")
	return swept, nil
}

// DropIndex deletes every entry of the named index and returns how many were
// deleted. The index does not have to be declared any more. Directories keep
// listing the dropped keys until the records are written again, which is
// harmless since deleting a missing key is a no-op.
func (t *Table) DropIndex(ctx context.Context, name string, chunkSize int) (int, error) {
	if err := index.ValidateName(name, t.keys.Separator()); err != nil {
		return 0, err
	}
	c := t.coalescer(chunkSize)
	it := t.Iterator(t.keys.IndexPrefix(name))
	dropped := 0
	for !it.Done() {
		page, err := it.Next(ctx)
		if err != nil {
			return dropped, errors.Wrapf(err, "drop index %s", name)
		}
		for _, item := range page.Items {
			if err := c.EnqueueDelete(ctx, item.PhysicalKey); err != nil {
				return dropped, errors.Wrapf(err, "drop index %s", name)
			}
			dropped++
		}
	}
	if err := c.Finish(ctx); err != nil {
		return dropped, errors.Wrapf(err, "drop index %s", name)
	}
	t.opts.logger.Info().Str("table", t.def.Name).Str("index", name).Int("deleted", dropped).Msg("dropped index")
	return dropped, nil
}

func (t *Table) coalescer(chunkSize int) *kvsdk.Coalescer {
	return kvsdk.NewCoalescer(t.remote,
		kvsdk.WithChunkSize(chunkSize),
		kvsdk.WithLogger(t.opts.logger),
	)
}
