// Package kvsdk defines the contract of a flat, eventually consistent remote
// key-value store and the write coalescer shared by everything built on it.
package kvsdk

import (
	"context"
)

// MaxBulkItems is the remote ceiling on items in one bulk put or bulk delete.
const MaxBulkItems = 10000

// MaxListLimit is the largest page a prefix listing returns.
const MaxListLimit = 1000

// Metadata is the JSON object stored alongside a key.
type Metadata = map[string]any

// Remote is a flat key-value store with point reads and writes, bulk writes
// and prefix listings. Nothing spans more than one key atomically.
type Remote interface {
	Reader
	Writer
}

type Reader interface {
	// Get reads one key. A missing key is reported with Found=false, not an error.
	Get(ctx context.Context, key string) (*GetOutput, error)
	// List returns keys sharing a prefix in lexical order, one page at a time.
	// An empty ListOutput.Cursor marks the last page.
	List(ctx context.Context, in ListInput) (*ListOutput, error)
}

type Writer interface {
	Put(ctx context.Context, kv KeyValue) error
	// BulkPut writes at most MaxBulkItems items in one call.
	BulkPut(ctx context.Context, kvs []KeyValue) error
	Delete(ctx context.Context, key string) error
	// BulkDelete removes at most MaxBulkItems keys in one call.
	// Keys that do not exist are ignored.
	BulkDelete(ctx context.Context, keys []string) error
}

// KeyValue is one item of a put.
type KeyValue struct {
	Key      string
	Value    []byte
	Metadata Metadata
	// Expiration is an absolute unix timestamp in seconds. Zero means none.
	Expiration int64
	// ExpirationTTL is a lifetime in seconds from the time of the write.
	ExpirationTTL int64
}

// GetOutput is the normalized result of a point read.
type GetOutput struct {
	Found      bool
	Value      []byte
	Metadata   Metadata
	Expiration int64
}

type ListInput struct {
	Prefix string
	Cursor string
	// Limit defaults to MaxListLimit.
	Limit int
}

type ListOutput struct {
	Items  []ListItem
	Cursor string
}

// ListItem is a listed key. Listings carry metadata but never values.
type ListItem struct {
	Name       string
	Metadata   Metadata
	Expiration int64
}

// NormalizeLimit clamps a requested page size into [1, MaxListLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// CheckBulk validates the size of a bulk call.
func CheckBulk(n int) error {
	if n > MaxBulkItems {
		return ErrTooManyItems
	}
	return nil
}
