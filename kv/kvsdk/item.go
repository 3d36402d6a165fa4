package kvsdk

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Item is a single JSON encoded value stored under one key.
type Item[T any] struct {
	remote Remote
	key    string
}

func NewItem[T any](remote Remote, key string) *Item[T] {
	return &Item[T]{remote: remote, key: key}
}

func (i *Item[T]) Key() string {
	return i.key
}

func (i *Item[T]) Set(ctx context.Context, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode item %s", i.key)
	}
	return i.remote.Put(ctx, KeyValue{Key: i.key, Value: b})
}

// Get returns the stored value and whether the key exists.
func (i *Item[T]) Get(ctx context.Context) (T, bool, error) {
	var v T
	res, err := i.remote.Get(ctx, i.key)
	if err != nil {
		return v, false, err
	}
	if !res.Found {
		return v, false, nil
	}
	if err := json.Unmarshal(res.Value, &v); err != nil {
		return v, true, errors.Wrapf(err, "decode item %s", i.key)
	}
	return v, true, nil
}

func (i *Item[T]) Del(ctx context.Context) error {
	return i.remote.Delete(ctx, i.key)
}
