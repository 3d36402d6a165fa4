package kvsdk

import (
	"context"
	"sync/atomic"
)

// NewCounter wraps remote and counts every call made through it.
// Each Counter owns its counts.
func NewCounter(remote Remote) *Counter {
	return &Counter{remote: remote}
}

type Counter struct {
	remote Remote

	gets, puts, bulkPuts, deletes, bulkDeletes, lists atomic.Int64
}

var _ Remote = &Counter{}

// CallCounts is a snapshot of a Counter.
type CallCounts struct {
	Get        int64
	Put        int64
	BulkPut    int64
	Delete     int64
	BulkDelete int64
	List       int64
}

func (c CallCounts) Total() int64 {
	return c.Get + c.Put + c.BulkPut + c.Delete + c.BulkDelete + c.List
}

func (c *Counter) Counts() CallCounts {
	return CallCounts{
		Get:        c.gets.Load(),
		Put:        c.puts.Load(),
		BulkPut:    c.bulkPuts.Load(),
		Delete:     c.deletes.Load(),
		BulkDelete: c.bulkDeletes.Load(),
		List:       c.lists.Load(),
	}
}

func (c *Counter) Reset() {
	c.gets.Store(0)
	c.puts.Store(0)
	c.bulkPuts.Store(0)
	c.deletes.Store(0)
	c.bulkDeletes.Store(0)
	c.lists.Store(0)
}

func (c *Counter) Get(ctx context.Context, key string) (*GetOutput, error) {
	c.gets.Add(1)
	return c.remote.Get(ctx, key)
}

func (c *Counter) List(ctx context.Context, in ListInput) (*ListOutput, error) {
	c.lists.Add(1)
	return c.remote.List(ctx, in)
}

func (c *Counter) Put(ctx context.Context, kv KeyValue) error {
	c.puts.Add(1)
	return c.remote.Put(ctx, kv)
}

func (c *Counter) BulkPut(ctx context.Context, kvs []KeyValue) error {
	c.bulkPuts.Add(1)
	return c.remote.BulkPut(ctx, kvs)
}

func (c *Counter) Delete(ctx context.Context, key string) error {
	c.deletes.Add(1)
	return c.remote.Delete(ctx, key)
}

func (c *Counter) BulkDelete(ctx context.Context, keys []string) error {
	c.bulkDeletes.Add(1)
	return c.remote.BulkDelete(ctx, keys)
}
