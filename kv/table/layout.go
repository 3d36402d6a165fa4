package table

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/index"
	"github.com/acksell/cfkv/kv/kvsdk"
)

// layout is the set of physical keys a record version occupies.
type layout struct {
	key       string
	dataKey   string
	dirKey    string
	metadata  kvsdk.Metadata
	indexKeys []string
}

// layout computes the keys of a record version. An equality value that
// cannot be laid out leaves its index out of the layout and is reported as
// ErrInvalidIndexValue.
func (t *Table) layout(key string, md kvsdk.Metadata) (layout, error) {
	clean := t.sanitize(md)
	l := layout{
		key:       key,
		dataKey:   t.keys.DataKey(key),
		dirKey:    t.keys.DirectoryKey(key),
		metadata:  clean,
		indexKeys: []string{},
	}
	var invalid error
	for _, name := range t.names {
		idx := t.def.Indexes[name]
		if !idx.Applies(clean) {
			continue
		}
		value := idx.Value(clean)
		if idx.Kind() == index.KindEquality {
			if err := t.keys.ValidateIndexValue(value); err != nil {
				if invalid == nil {
					invalid = errors.Wrapf(ErrInvalidIndexValue, "index %s: %v", name, err)
				}
				continue
			}
		}
		l.indexKeys = append(l.indexKeys, t.keys.IndexKey(name, value, key))
	}
	return l, invalid
}

// sanitize keeps the whitelisted properties of md.
func (t *Table) sanitize(md kvsdk.Metadata) kvsdk.Metadata {
	clean := make(kvsdk.Metadata, len(t.def.Properties))
	for _, p := range t.def.Properties {
		if v, ok := md[p]; ok {
			clean[p] = v
		}
	}
	return clean
}

// indexItems returns the index entries and the directory of the record.
func (l layout) indexItems(exp setOpts) []kvsdk.KeyValue {
	items := make([]kvsdk.KeyValue, 0, len(l.indexKeys)+1)
	for _, k := range l.indexKeys {
		items = append(items, kvsdk.KeyValue{
			Key:           k,
			Value:         []byte{},
			Metadata:      l.metadata,
			Expiration:    exp.expiration,
			ExpirationTTL: exp.expirationTTL,
		})
	}
	return append(items, l.directory(l.indexKeys, exp))
}

func (l layout) directory(keys []string, exp setOpts) kvsdk.KeyValue {
	// Marshalling a []string cannot fail.
	dir, _ := json.Marshal(keys)
	return kvsdk.KeyValue{
		Key:           l.dirKey,
		Value:         dir,
		Expiration:    exp.expiration,
		ExpirationTTL: exp.expirationTTL,
	}
}

// items returns the data key followed by the index entries and the directory.
func (l layout) items(value []byte, exp setOpts) []kvsdk.KeyValue {
	if value == nil {
		value = []byte{}
	}
	data := kvsdk.KeyValue{
		Key:           l.dataKey,
		Value:         value,
		Metadata:      l.metadata,
		Expiration:    exp.expiration,
		ExpirationTTL: exp.expirationTTL,
	}
	return append([]kvsdk.KeyValue{data}, l.indexItems(exp)...)
}

// readDirectory returns the index keys last written for a record. A missing
// or unreadable directory reads as empty.
func (t *Table) readDirectory(ctx context.Context, key string) []string {
	dirKey := t.keys.DirectoryKey(key)
	out, err := t.remote.Get(ctx, dirKey)
	if err != nil {
		t.opts.logger.Debug().Err(err).Str("key", dirKey).Msg("directory read failed, assuming empty")
		return nil
	}
	if !out.Found || len(out.Value) == 0 {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(out.Value, &keys); err != nil {
		t.opts.logger.Debug().Err(err).Str("key", dirKey).Msg("directory is not a key list, assuming empty")
		return nil
	}
	return keys
}

// difference returns the keys of a that are not in b, keeping a's order.
func difference(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	in := make(map[string]struct{}, len(b))
	for _, k := range b {
		in[k] = struct{}{}
	}
	var out []string
	for _, k := range a {
		if _, ok := in[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
