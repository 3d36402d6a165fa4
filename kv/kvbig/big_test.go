package kvbig_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/cfkv/kv/kvbig"
	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/kvstore"
)

func newRemote(t *testing.T) *kvsdk.Counter {
	store, err := kvstore.New(kvstore.StoreOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return kvsdk.NewCounter(store.Default())
}

func TestShardKey(t *testing.T) {
	assert.Equal(t, "testing__shard000", kvbig.ShardKey("testing", 0))
	assert.Equal(t, "testing__shard001", kvbig.ShardKey("testing", 1))
	assert.Equal(t, "testing__shard010", kvbig.ShardKey("testing", 10))
	assert.Equal(t, "testing__shard100", kvbig.ShardKey("testing", 100))
}

func TestFramer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		size  int
		want  []string
	}{
		{name: "empty", input: "", size: 4, want: nil},
		{name: "exact", input: "abcdefgh", size: 4, want: []string{"abcd", "efgh"}},
		{name: "short tail", input: "abcdefghij", size: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "single short frame", input: "ab", size: 4, want: []string{"ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// one byte per read, so frames have to be assembled from many reads
			f := kvbig.NewFramer(iotest.OneByteReader(strings.NewReader(tt.input)), tt.size)
			var got []string
			for {
				frame, err := f.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				got = append(got, string(frame))
			}
			assert.Equal(t, tt.want, got)

			_, err := f.Next()
			assert.Equal(t, io.EOF, err)
		})
	}

	t.Run("read error", func(t *testing.T) {
		f := kvbig.NewFramer(iotest.ErrReader(io.ErrClosedPipe), 4)
		_, err := f.Next()
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	})
}

func TestBig_RoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	big := kvbig.New(remote, kvbig.WithChunkSize(10))

	payload := bytes.Repeat([]byte("0123456789abcdef"), 4) // 64 bytes
	n, err := big.Set(ctx, "file", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, int64(7), remote.Counts().Put)

	total, err := big.TotalShards(ctx, "file")
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	var out bytes.Buffer
	found, err := big.Get(ctx, "file", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, out.Bytes())

	t.Run("smaller object replaces shards", func(t *testing.T) {
		n, err := big.Set(ctx, "file", strings.NewReader("tiny"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		total, err := big.TotalShards(ctx, "file")
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		var out bytes.Buffer
		found, err := big.Get(ctx, "file", &out)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "tiny", out.String())
	})

	t.Run("delete", func(t *testing.T) {
		_, err := big.Set(ctx, "file", bytes.NewReader(payload))
		require.NoError(t, err)
		remote.Reset()

		require.NoError(t, big.Del(ctx, "file"))
		assert.Equal(t, int64(1), remote.Counts().BulkDelete)

		found, err := big.Get(ctx, "file", io.Discard)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestBig_Missing(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	big := kvbig.New(remote)

	found, err := big.Get(ctx, "nope", io.Discard)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, big.Del(ctx, "nope"))
	assert.Zero(t, remote.Counts().BulkDelete)
}

func TestBig_MissingShard(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	big := kvbig.New(remote, kvbig.WithChunkSize(2))

	_, err := big.Set(ctx, "file", strings.NewReader("aabbcc"))
	require.NoError(t, err)
	require.NoError(t, remote.Delete(ctx, kvbig.ShardKey("file", 0)))
	// two shards are still listed, so Get asks for shard000
	_, err = big.Get(ctx, "file", io.Discard)
	assert.ErrorIs(t, err, kvbig.ErrMissingShard)
}

func TestBig_OtherKeysIgnored(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	big := kvbig.New(remote)

	require.NoError(t, remote.Put(ctx, kvsdk.KeyValue{Key: "file__shard_meta", Value: []byte("x")}))
	_, err := big.Set(ctx, "file", strings.NewReader("data"))
	require.NoError(t, err)

	total, err := big.TotalShards(ctx, "file")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
