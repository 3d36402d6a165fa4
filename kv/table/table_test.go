package table_test

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/cfkv/kv/index"
	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/table"
)

func TestNew_Validation(t *testing.T) {
	for _, reserved := range []string{"dataKey", "prefixData"} {
		t.Run("reserved "+reserved, func(t *testing.T) {
			counter := kvsdk.NewCounter(newTestRemote(t))
			_, err := table.New(counter, table.Definition{
				Name:    "users",
				Indexes: map[string]index.Index{reserved: {}},
			})
			assert.ErrorIs(t, err, index.ErrReservedIndexName)
			assert.Zero(t, counter.Counts().Total())
		})
	}

	t.Run("index name with separator", func(t *testing.T) {
		_, err := table.New(newTestRemote(t), table.Definition{
			Name:    "users",
			Indexes: map[string]index.Index{"by__email": {}},
		})
		assert.ErrorIs(t, err, index.ErrInvalidName)
	})

	t.Run("key and sort value together", func(t *testing.T) {
		v := func(kvsdk.Metadata) string { return "" }
		_, err := table.New(newTestRemote(t), table.Definition{
			Name:    "users",
			Indexes: map[string]index.Index{"both": {KeyValue: v, SortValue: v}},
		})
		assert.ErrorIs(t, err, index.ErrInvalidIndex)
	})

	t.Run("custom separator", func(t *testing.T) {
		tbl, err := table.New(newTestRemote(t), table.Definition{Name: "users"}, table.WithSeparator(":"))
		require.NoError(t, err)
		assert.Equal(t, "users:dataKey:", tbl.DataPrefix())
	})
}

func TestTable_RoundTrip(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t, newTestRemote(t))

	require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "a@x.com", "points": 600, "password": "secret"}, []byte("payload")))

	rec, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.Key)
	assert.Equal(t, []byte("payload"), rec.Value)
	assert.Equal(t, kvsdk.Metadata{"email": "a@x.com", "points": float64(600)}, rec.Metadata)

	md, err := users.GetMetadata(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", md["email"])
	assert.NotContains(t, md, "password")

	missing, err := users.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	missingMD, err := users.GetMetadata(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missingMD)
}

func TestTable_IndexScenario(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	users := newUsers(t, remote)

	require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "a@x.com", "points": 600}, nil))
	require.NoError(t, users.Set(ctx, "u2", kvsdk.Metadata{"email": "b@x.com", "points": 100}, nil))

	md, err := users.FindMetadata(ctx, "email", "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, "a@x.com", md["email"])

	top, err := users.ListIndex(ctx, ">500points", "", table.ListOptions{})
	require.NoError(t, err)
	require.Len(t, top.Items, 1)
	assert.Equal(t, "u1", top.Items[0].Key)
	assert.Equal(t, "users__prefix__>500points__u1", top.Items[0].PhysicalKey)

	t.Run("update drops filtered index entry", func(t *testing.T) {
		require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "a@x.com", "points": 100}, nil))

		top, err := users.ListIndex(ctx, ">500points", "", table.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, top.Items)

		md, err := users.FindMetadata(ctx, "email", "a@x.com")
		require.NoError(t, err)
		require.NotNil(t, md)
		assert.Equal(t, float64(100), md["points"])
	})

	t.Run("update moves equality entry", func(t *testing.T) {
		require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "c@x.com", "points": 100}, nil))

		old, err := users.FindMetadata(ctx, "email", "a@x.com")
		require.NoError(t, err)
		assert.Nil(t, old)

		md, err := users.FindMetadata(ctx, "email", "c@x.com")
		require.NoError(t, err)
		assert.NotNil(t, md)
	})

	t.Run("directory lists exactly the written index keys", func(t *testing.T) {
		out, err := remote.Get(ctx, "users__prefixData__u1")
		require.NoError(t, err)
		require.True(t, out.Found)

		var dir []string
		require.NoError(t, json.Unmarshal(out.Value, &dir))

		var written []string
		for _, k := range physicalKeys(t, remote, "users__prefix__") {
			if strings.HasSuffix(k, "__u1") {
				written = append(written, k)
			}
		}
		assert.ElementsMatch(t, written, dir)
	})

	t.Run("delete removes every key of the record", func(t *testing.T) {
		require.NoError(t, users.Del(ctx, "u1"))

		for _, k := range physicalKeys(t, remote, "users__") {
			assert.False(t, strings.HasSuffix(k, "__u1"), "left behind %s", k)
		}
		rec, err := users.Get(ctx, "u2")
		require.NoError(t, err)
		assert.NotNil(t, rec)
	})
}

func TestTable_Idempotent(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	users := newUsers(t, remote)
	md := kvsdk.Metadata{"email": "a@x.com", "points": 900, "timestamp": 42}

	require.NoError(t, users.Set(ctx, "u1", md, []byte("v")))
	first := physicalKeys(t, remote, "users__")
	require.NoError(t, users.Set(ctx, "u1", md, []byte("v")))
	assert.Equal(t, first, physicalKeys(t, remote, "users__"))

	assert.Equal(t, []string{
		"users__dataKey__u1",
		"users__prefixData__u1",
		"users__prefix__>500points__u1",
		"users__prefix__email__a@x.com__u1",
		"users__prefix__timestamp_desc__" + index.SortToken(42, true) + "__u1",
	}, first)
}

func TestTable_IndexPrefixDoesNotMatchLongerName(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	tbl, err := table.New(remote, table.Definition{
		Name:       "users",
		Properties: []string{"email", "emailVerified"},
		Indexes: map[string]index.Index{
			"email":         {KeyValue: func(md kvsdk.Metadata) string { return index.FormatValue(md["email"]) }},
			"emailVerified": {Filter: func(md kvsdk.Metadata) bool { return md["emailVerified"] == true }},
		},
	})
	require.NoError(t, err)

	require.NoError(t, tbl.Set(ctx, "u1", kvsdk.Metadata{"email": "a@x.com", "emailVerified": true}, nil))

	res, err := tbl.ListIndex(ctx, "email", "", table.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "users__prefix__email__a@x.com__u1", res.Items[0].PhysicalKey)
}

func TestTable_Expiration(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t)
	users := newUsers(t, remote)

	require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "a@x.com"}, nil, table.WithExpirationTTL(3600)))

	rec, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Greater(t, rec.Expiration, time.Now().Unix())

	res, err := users.ListIndex(ctx, "email", "a@x.com", table.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, rec.Expiration, res.Items[0].Expiration)
}

func TestTable_InvalidKey(t *testing.T) {
	ctx := context.Background()
	counter := kvsdk.NewCounter(newTestRemote(t))
	users := newUsers(t, counter)

	for _, key := range []string{"", "a__b", "_a"} {
		assert.ErrorIs(t, users.Set(ctx, key, kvsdk.Metadata{}, nil), table.ErrInvalidKey)
		assert.ErrorIs(t, users.Del(ctx, key), table.ErrInvalidKey)
		_, err := users.Get(ctx, key)
		assert.ErrorIs(t, err, table.ErrInvalidKey)
	}
	assert.Zero(t, counter.Counts().Total())
}

func TestTable_UnknownIndex(t *testing.T) {
	users := newUsers(t, newTestRemote(t))

	_, err := users.FindMetadata(context.Background(), "phone", "123")
	assert.ErrorIs(t, err, table.ErrUnknownIndex)
}

func TestTable_PartialFailure(t *testing.T) {
	t.Run("failed write sends no delete", func(t *testing.T) {
		ctx := context.Background()
		flaky := &flakyRemote{Remote: newTestRemote(t)}
		counter := kvsdk.NewCounter(flaky)
		users := newUsers(t, counter)

		require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"points": 600}, nil))
		counter.Reset()
		flaky.failPuts = true

		err := users.Set(ctx, "u1", kvsdk.Metadata{"points": 100}, nil)
		require.Error(t, err)
		assert.True(t, kvsdk.IsRemoteFailure(err))
		assert.Zero(t, counter.Counts().BulkDelete)
	})

	t.Run("failed delete heals on next set", func(t *testing.T) {
		ctx := context.Background()
		flaky := &flakyRemote{Remote: newTestRemote(t)}
		users := newUsers(t, flaky)

		require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "a@x.com", "points": 600}, nil))

		flaky.failDeletes = true
		err := users.Set(ctx, "u1", kvsdk.Metadata{"email": "b@x.com", "points": 600}, nil)
		require.Error(t, err)
		assert.True(t, kvsdk.IsRemoteFailure(err))

		stale, err := users.FindMetadata(ctx, "email", "a@x.com")
		require.NoError(t, err)
		assert.NotNil(t, stale)

		flaky.failDeletes = false
		require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "b@x.com", "points": 600}, nil))

		stale, err = users.FindMetadata(ctx, "email", "a@x.com")
		require.NoError(t, err)
		assert.Nil(t, stale)

		current, err := users.FindMetadata(ctx, "email", "b@x.com")
		require.NoError(t, err)
		assert.NotNil(t, current)
	})

	t.Run("directory read failure counts as empty", func(t *testing.T) {
		ctx := context.Background()
		users := newUsers(t, &brokenGetRemote{Remote: newTestRemote(t)})

		assert.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "a@x.com"}, nil))
	})
}

type brokenGetRemote struct {
	kvsdk.Remote
}

func (b *brokenGetRemote) Get(ctx context.Context, key string) (*kvsdk.GetOutput, error) {
	return nil, &kvsdk.RemoteError{Op: "get", Status: 500}
}

func TestTable_EqualityValueWithSeparator(t *testing.T) {
	ctx := context.Background()
	counter := kvsdk.NewCounter(newTestRemote(t))
	users := newUsers(t, counter)

	for _, email := range []string{"a__b", "a_"} {
		err := users.Set(ctx, "u2", kvsdk.Metadata{"email": email}, nil)
		assert.ErrorIs(t, err, table.ErrInvalidIndexValue, email)
	}
	assert.Zero(t, counter.Counts().Total())

	require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"email": "a"}, nil))
	md, err := users.FindMetadata(ctx, "email", "a")
	require.NoError(t, err)
	assert.Equal(t, kvsdk.Metadata{"email": "a"}, md)

	_, err = users.FindMetadata(ctx, "email", "a__b")
	assert.ErrorIs(t, err, table.ErrInvalidIndexValue)

	b := users.NewBatch(0)
	assert.ErrorIs(t, b.Set(ctx, "u3", kvsdk.Metadata{"email": "x__y"}, nil), table.ErrInvalidIndexValue)
}

func TestTable_FindMetadataExistenceIndex(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t, newTestRemote(t))

	require.NoError(t, users.Set(ctx, "u1", kvsdk.Metadata{"points": 600}, nil))

	md, err := users.FindMetadata(ctx, ">500points", "anything")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, float64(600), md["points"])

	res, err := users.ListIndex(ctx, ">500points", "anything", table.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "u1", res.Items[0].Key)
}

func TestTable_RangeIndexOrder(t *testing.T) {
	ctx := context.Background()
	def := usersDefinition()
	def.Indexes["timestamp_asc"] = index.Index{
		SortValue: func(md kvsdk.Metadata) string { return index.SortToken(md["timestamp"], false) },
	}
	users, err := table.New(newTestRemote(t), def)
	require.NoError(t, err)

	for _, ts := range []int{2000, 1000, 3000, 1500} {
		require.NoError(t, users.Set(ctx, "u"+strconv.Itoa(ts), kvsdk.Metadata{"timestamp": ts}, nil))
	}

	recordKeys := func(prefix string) []string {
		items, err := users.Iterator(prefix).All(ctx)
		require.NoError(t, err)
		keys := make([]string, 0, len(items))
		for _, it := range items {
			keys = append(keys, it.Key)
		}
		return keys
	}

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{"descending", users.IndexPrefix("timestamp_desc"), []string{"u3000", "u2000", "u1500", "u1000"}},
		{"ascending", users.IndexPrefix("timestamp_asc"), []string{"u1000", "u1500", "u2000", "u3000"}},
		{
			"descending token range",
			users.Keys().IndexRangePrefix("timestamp_desc", index.SortToken(1000, true)[:13]),
			[]string{"u1500", "u1000"},
		},
		{
			"ascending token range",
			users.Keys().IndexRangePrefix("timestamp_asc", index.SortToken(1000, false)[:13]),
			[]string{"u1000", "u1500"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, recordKeys(tt.prefix))
		})
	}
}
