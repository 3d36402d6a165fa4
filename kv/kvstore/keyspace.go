package kvstore

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// Keyspace is one namespace of a Store.
type Keyspace struct {
	store  *Store
	ns     string
	prefix []byte
}

var _ kvsdk.Remote = &Keyspace{}

func (k *Keyspace) ID() string {
	return k.ns
}

func (k *Keyspace) encodeKey(key string) []byte {
	b := make([]byte, 0, len(k.prefix)+len(key))
	b = append(b, k.prefix...)
	return append(b, key...)
}

func (k *Keyspace) decodeKey(b []byte) string {
	return string(b[len(k.prefix):])
}

// Get reads a single key.
func (k *Keyspace) Get(ctx context.Context, key string) (*kvsdk.GetOutput, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	out := &kvsdk.GetOutput{}
	err := k.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k.encodeKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out.Found = true
		out.Expiration = int64(item.ExpiresAt())
		return item.Value(func(val []byte) error {
			out.Value, out.Metadata, err = decodeEnvelope(val)
			return err
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return out, nil
}

// Put writes a single key.
func (k *Keyspace) Put(ctx context.Context, kv kvsdk.KeyValue) error {
	e, err := k.entry(kv, time.Now())
	if err != nil {
		return err
	}
	err = k.store.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(e)
	})
	return errors.Wrapf(err, "put %s", kv.Key)
}

// BulkPut writes all items through a single badger write batch.
func (k *Keyspace) BulkPut(ctx context.Context, kvs []kvsdk.KeyValue) error {
	if err := kvsdk.CheckBulk(len(kvs)); err != nil {
		return err
	}
	now := time.Now()
	wb := k.store.db.NewWriteBatch()
	defer wb.Cancel()
	for _, kv := range kvs {
		e, err := k.entry(kv, now)
		if err != nil {
			return err
		}
		if err := wb.SetEntry(e); err != nil {
			return errors.Wrapf(err, "bulk put %s", kv.Key)
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrap(err, "bulk put")
	}
	k.store.logger.Debug().Str("ns", k.ns).Int("items", len(kvs)).Msg("bulk put")
	return nil
}

func (k *Keyspace) Delete(ctx context.Context, key string) error {
	err := k.store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k.encodeKey(key))
	})
	return errors.Wrapf(err, "delete %s", key)
}

// BulkDelete removes all keys through a single badger write batch.
// Missing keys are ignored.
func (k *Keyspace) BulkDelete(ctx context.Context, keys []string) error {
	if err := kvsdk.CheckBulk(len(keys)); err != nil {
		return err
	}
	wb := k.store.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(k.encodeKey(key)); err != nil {
			return errors.Wrapf(err, "bulk delete %s", key)
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrap(err, "bulk delete")
	}
	k.store.logger.Debug().Str("ns", k.ns).Int("items", len(keys)).Msg("bulk delete")
	return nil
}

// List returns one page of keys sharing in.Prefix, in lexical order.
// The cursor is opaque and encodes the last key of the page.
func (k *Keyspace) List(ctx context.Context, in kvsdk.ListInput) (*kvsdk.ListOutput, error) {
	limit := kvsdk.NormalizeLimit(in.Limit)
	prefix := k.encodeKey(in.Prefix)

	var start []byte
	if in.Cursor != "" {
		last, err := decodeCursor(in.Cursor)
		if err != nil {
			return nil, err
		}
		start = k.encodeKey(last)
	}

	out := &kvsdk.ListOutput{Items: []kvsdk.ListItem{}}
	err := k.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		if start != nil {
			it.Seek(start)
			if it.Valid() && bytes.Equal(it.Item().Key(), start) {
				it.Next() // cursor is exclusive
			}
		} else {
			it.Seek(prefix)
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(out.Items) == limit {
				out.Cursor = encodeCursor(out.Items[len(out.Items)-1].Name)
				break
			}
			item := it.Item()
			li := kvsdk.ListItem{
				Name:       k.decodeKey(item.KeyCopy(nil)),
				Expiration: int64(item.ExpiresAt()),
			}
			if err := item.Value(func(val []byte) error {
				var err error
				_, li.Metadata, err = decodeEnvelope(val)
				return err
			}); err != nil {
				return err
			}
			out.Items = append(out.Items, li)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %q", in.Prefix)
	}
	return out, nil
}

func (k *Keyspace) entry(kv kvsdk.KeyValue, now time.Time) (*badger.Entry, error) {
	if kv.Key == "" {
		return nil, errors.New("key is required")
	}
	val, err := encodeEnvelope(kv)
	if err != nil {
		return nil, err
	}
	e := badger.NewEntry(k.encodeKey(kv.Key), val)
	switch {
	case kv.ExpirationTTL > 0:
		e.ExpiresAt = uint64(now.Unix() + kv.ExpirationTTL)
	case kv.Expiration > 0:
		e.ExpiresAt = uint64(kv.Expiration)
	}
	return e, nil
}
