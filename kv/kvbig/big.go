// Package kvbig stores objects larger than one value by splitting them into
// numbered shards:
//
//	report        -> report__shard000, report__shard001, ...
//
// Shards are written one at a time, so a failed Set can leave a partial
// object behind. Get reports it as a missing shard.
package kvbig

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// DefaultChunkSize is the shard size used unless WithChunkSize is given.
const DefaultChunkSize = 25_000_000

const shardMarker = "__shard"

var ErrMissingShard = errors.New("missing shard")

type Big struct {
	remote kvsdk.Remote
	opts   bigOpts
}

type Option func(*bigOpts)

type bigOpts struct {
	chunkSize int
	logger    zerolog.Logger
}

func WithChunkSize(n int) Option {
	return func(o *bigOpts) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *bigOpts) {
		o.logger = l
	}
}

func New(remote kvsdk.Remote, opts ...Option) *Big {
	b := &Big{
		remote: remote,
		opts: bigOpts{
			chunkSize: DefaultChunkSize,
			logger:    zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// ShardKey returns the key of shard n of key.
func ShardKey(key string, n int) string {
	return fmt.Sprintf("%s%s%03d", key, shardMarker, n)
}

func shardPrefix(key string) string {
	return key + shardMarker
}

// TotalShards counts the shards stored for key.
func (b *Big) TotalShards(ctx context.Context, key string) (int, error) {
	prefix := shardPrefix(key)
	total := 0
	in := kvsdk.ListInput{Prefix: prefix}
	for {
		out, err := b.remote.List(ctx, in)
		if err != nil {
			return 0, errors.Wrapf(err, "count shards of %s", key)
		}
		for _, it := range out.Items {
			if _, err := strconv.Atoi(strings.TrimPrefix(it.Name, prefix)); err == nil {
				total++
			}
		}
		if out.Cursor == "" {
			return total, nil
		}
		in.Cursor = out.Cursor
	}
}

// Set reads r to the end and stores it in shards of at most the chunk size.
// Shards left over from a larger previous object are deleted.
func (b *Big) Set(ctx context.Context, key string, r io.Reader) (int, error) {
	before, err := b.TotalShards(ctx, key)
	if err != nil {
		return 0, err
	}

	f := NewFramer(r, b.opts.chunkSize)
	n := 0
	for {
		frame, err := f.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, errors.Wrapf(err, "set %s", key)
		}
		if err := b.remote.Put(ctx, kvsdk.KeyValue{Key: ShardKey(key, n), Value: frame}); err != nil {
			return n, errors.Wrapf(err, "write shard %d of %s", n, key)
		}
		b.opts.logger.Debug().Str("key", key).Int("shard", n).Int("bytes", len(frame)).Msg("wrote shard")
		n++
	}

	if before > n {
		if err := b.deleteShards(ctx, key, n, before); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Get writes the object stored under key to w. It reports false if there
// is no such object.
func (b *Big) Get(ctx context.Context, key string, w io.Writer) (bool, error) {
	total, err := b.TotalShards(ctx, key)
	if err != nil || total == 0 {
		return false, err
	}
	for i := 0; i < total; i++ {
		out, err := b.remote.Get(ctx, ShardKey(key, i))
		if err != nil {
			return false, errors.Wrapf(err, "read shard %d of %s", i, key)
		}
		if !out.Found {
			return false, errors.Wrapf(ErrMissingShard, "%s shard %d", key, i)
		}
		if _, err := w.Write(out.Value); err != nil {
			return false, errors.Wrapf(err, "copy shard %d of %s", i, key)
		}
	}
	return true, nil
}

func (b *Big) Del(ctx context.Context, key string) error {
	total, err := b.TotalShards(ctx, key)
	if err != nil {
		return err
	}
	return b.deleteShards(ctx, key, 0, total)
}

// deleteShards removes shards [from, to) in bulk calls.
func (b *Big) deleteShards(ctx context.Context, key string, from, to int) error {
	c := kvsdk.NewCoalescer(b.remote, kvsdk.WithLogger(b.opts.logger))
	for i := from; i < to; i++ {
		if err := c.EnqueueDelete(ctx, ShardKey(key, i)); err != nil {
			return errors.Wrapf(err, "delete shards of %s", key)
		}
	}
	if err := c.Finish(ctx); err != nil {
		return errors.Wrapf(err, "delete shards of %s", key)
	}
	return nil
}
