package table_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acksell/cfkv/kv/index"
	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/kvstore"
	"github.com/acksell/cfkv/kv/table"
)

func newTestRemote(t *testing.T) *kvstore.Keyspace {
	store, err := kvstore.New(kvstore.StoreOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store.Default()
}

func usersDefinition() table.Definition {
	return table.Definition{
		Name:       "users",
		Properties: []string{"email", "points", "timestamp"},
		Indexes: map[string]index.Index{
			"email": {
				KeyValue: func(md kvsdk.Metadata) string { return index.FormatValue(md["email"]) },
			},
			">500points": {
				Filter: func(md kvsdk.Metadata) bool {
					n, ok := index.Number(md["points"])
					return ok && n > 500
				},
			},
			"timestamp_desc": {
				SortValue: func(md kvsdk.Metadata) string { return index.SortToken(md["timestamp"], true) },
			},
		},
	}
}

func newUsers(t *testing.T, remote kvsdk.Remote, opts ...table.Option) *table.Table {
	tbl, err := table.New(remote, usersDefinition(), opts...)
	require.NoError(t, err)
	return tbl
}

// physicalKeys lists every key under prefix straight from the remote.
func physicalKeys(t *testing.T, remote kvsdk.Remote, prefix string) []string {
	t.Helper()
	var keys []string
	cursor := ""
	for {
		out, err := remote.List(context.Background(), kvsdk.ListInput{Prefix: prefix, Cursor: cursor})
		require.NoError(t, err)
		for _, it := range out.Items {
			keys = append(keys, it.Name)
		}
		if out.Cursor == "" {
			return keys
		}
		cursor = out.Cursor
	}
}

// flakyRemote fails bulk calls on demand.
type flakyRemote struct {
	kvsdk.Remote
	failPuts    bool
	failDeletes bool
}

func (f *flakyRemote) BulkPut(ctx context.Context, kvs []kvsdk.KeyValue) error {
	if f.failPuts {
		return &kvsdk.RemoteError{Op: "bulk put", Status: 503, Errors: []kvsdk.APIError{{Code: 10013, Message: "service unavailable"}}}
	}
	return f.Remote.BulkPut(ctx, kvs)
}

func (f *flakyRemote) BulkDelete(ctx context.Context, keys []string) error {
	if f.failDeletes {
		return &kvsdk.RemoteError{Op: "bulk delete", Status: 503, Errors: []kvsdk.APIError{{Code: 10013, Message: "service unavailable"}}}
	}
	return f.Remote.BulkDelete(ctx, keys)
}
