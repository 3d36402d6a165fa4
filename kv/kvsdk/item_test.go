package kvsdk_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/kvstore"
)

type itemValue struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func TestItem(t *testing.T) {
	store, err := kvstore.New(kvstore.StoreOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	missing := kvsdk.NewItem[itemValue](store.Default(), "asdfgwkergkwem")
	_, found, err := missing.Get(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	item := kvsdk.NewItem[itemValue](store.Default(), "single_key")
	want := itemValue{Name: "test", Description: "lorem ipsum"}
	require.NoError(t, item.Set(ctx, want))

	got, found, err := item.Get(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	require.NoError(t, item.Del(ctx))
	_, found, err = item.Get(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}
