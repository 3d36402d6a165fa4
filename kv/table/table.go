// Package table keeps records with secondary indexes on top of a flat
// remote key-value store.
//
// Every record is stored under a data key. Each index it belongs to gets an
// entry key of its own, and a directory key lists the index entries currently
// written for the record so they can be found again on update or delete:
//
//	users__dataKey__u1                   value + metadata
//	users__prefix__email__a@x.com__u1    metadata
//	users__prefix__>500points__u1        metadata
//	users__prefixData__u1                ["users__prefix__email__a@x.com__u1", ...]
//
// Nothing is atomic across keys. A failed call can leave stale index entries
// behind; they are removed by the next Set of the record or by RebuildIndexes.
package table

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/acksell/cfkv/kv/index"
	"github.com/acksell/cfkv/kv/kvsdk"
)

var (
	ErrInvalidKey   = errors.New("invalid record key")
	ErrUnknownIndex = errors.New("unknown index")
	// ErrInvalidIndexValue is returned for equality values containing the
	// key separator, or ending with part of it.
	ErrInvalidIndexValue = errors.New("invalid index value")
)

// Definition describes a table. Only metadata fields listed in Properties
// are stored; index rules see the same filtered metadata.
type Definition struct {
	Name       string
	Properties []string
	Indexes    map[string]index.Index
}

// Table is an indexed table. It is safe for concurrent use as long as the
// remote is, but concurrent writers of the same record race.
type Table struct {
	remote kvsdk.Remote
	def    Definition
	keys   index.Keyer
	// index names in a fixed order so layouts are deterministic
	names []string
	opts  options
}

// New validates the definition and returns a table on top of remote.
// It makes no remote calls.
func New(remote kvsdk.Remote, def Definition, opts ...Option) (*Table, error) {
	o := options{
		separator: index.DefaultSeparator,
		pageSize:  kvsdk.MaxListLimit,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.pageSize = kvsdk.NormalizeLimit(o.pageSize)

	keys, err := index.NewKeyer(def.Name, o.separator)
	if err != nil {
		return nil, errors.Wrap(err, "table definition")
	}
	for name, idx := range def.Indexes {
		if err := index.ValidateName(name, o.separator); err != nil {
			return nil, errors.Wrapf(err, "table %s", def.Name)
		}
		if err := idx.Validate(); err != nil {
			return nil, errors.Wrapf(err, "table %s: index %s", def.Name, name)
		}
	}
	names := make([]string, 0, len(def.Indexes))
	for name := range def.Indexes {
		names = append(names, name)
	}
	slices.Sort(names)

	return &Table{
		remote: remote,
		def:    def,
		keys:   keys,
		names:  names,
		opts:   o,
	}, nil
}

func (t *Table) Name() string {
	return t.def.Name
}

// Keys returns the key layout of the table.
func (t *Table) Keys() index.Keyer {
	return t.keys
}

// Record is one logical row of a table.
type Record struct {
	Key        string
	Metadata   kvsdk.Metadata
	Value      []byte
	Expiration int64
}

// Set writes a record and its index entries, then deletes the index entries
// the previous version had and this one does not. Deletes are only sent once
// the writes succeeded. If they fail, the directory keeps the stale entries
// so that the next Set of the record retries them.
func (t *Table) Set(ctx context.Context, key string, md kvsdk.Metadata, value []byte, opts ...SetOption) error {
	if err := t.validateKey(key); err != nil {
		return err
	}
	exp := expiry(opts)
	l, err := t.layout(key, md)
	if err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	old := t.readDirectory(ctx, key)
	stale := difference(old, l.indexKeys)

	if err := t.remote.BulkPut(ctx, l.items(value, exp)); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	if len(stale) == 0 {
		return nil
	}
	t.opts.logger.Debug().Str("table", t.def.Name).Str("key", key).Int("stale", len(stale)).Msg("removing stale index entries")
	if err := t.remote.BulkDelete(ctx, stale); err != nil {
		// The stale entries still exist, so the directory has to keep
		// listing them for the next Set to find.
		if perr := t.remote.Put(ctx, l.directory(append(slices.Clone(l.indexKeys), stale...), exp)); perr != nil {
			t.opts.logger.Warn().Err(perr).Str("table", t.def.Name).Str("key", key).Msg("stale index entries are no longer tracked")
		}
		return errors.Wrapf(err, "set %s: delete stale index entries", key)
	}
	return nil
}

// Del removes a record, its directory and every index entry the directory lists.
func (t *Table) Del(ctx context.Context, key string) error {
	if err := t.validateKey(key); err != nil {
		return err
	}
	keys := append([]string{t.keys.DataKey(key), t.keys.DirectoryKey(key)}, t.readDirectory(ctx, key)...)
	if err := t.remote.BulkDelete(ctx, keys); err != nil {
		return errors.Wrapf(err, "del %s", key)
	}
	return nil
}

// Get reads a record. A missing record returns nil and no error.
func (t *Table) Get(ctx context.Context, key string) (*Record, error) {
	if err := t.validateKey(key); err != nil {
		return nil, err
	}
	out, err := t.remote.Get(ctx, t.keys.DataKey(key))
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	if !out.Found {
		return nil, nil
	}
	return &Record{
		Key:        key,
		Metadata:   out.Metadata,
		Value:      out.Value,
		Expiration: out.Expiration,
	}, nil
}

// GetMetadata returns the stored metadata of a record, or nil if it is missing.
func (t *Table) GetMetadata(ctx context.Context, key string) (kvsdk.Metadata, error) {
	rec, err := t.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Metadata == nil {
		return kvsdk.Metadata{}, nil
	}
	return rec.Metadata, nil
}

// FindMetadata returns the metadata of the first record whose entry in the
// named index has the given value, or nil if there is none. For existence
// indexes value is ignored, and for range indexes it is the exact sort token.
func (t *Table) FindMetadata(ctx context.Context, indexName, value string) (kvsdk.Metadata, error) {
	res, err := t.ListIndex(ctx, indexName, value, ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	if res.Items[0].Metadata == nil {
		return kvsdk.Metadata{}, nil
	}
	return res.Items[0].Metadata, nil
}

type ListOptions struct {
	// Prefix defaults to DataPrefix.
	Prefix string
	Cursor string
	// Limit defaults to the table page size.
	Limit int
}

// ListItem is a listed key mapped back to its record.
type ListItem struct {
	Key         string
	PhysicalKey string
	Metadata    kvsdk.Metadata
	Expiration  int64
}

type ListResult struct {
	Items []ListItem
	// Cursor is empty on the last page.
	Cursor string
}

// List returns one page of the keys under a prefix, by default the data keys.
func (t *Table) List(ctx context.Context, lo ListOptions) (*ListResult, error) {
	prefix := lo.Prefix
	if prefix == "" {
		prefix = t.keys.DataPrefix()
	}
	limit := lo.Limit
	if limit <= 0 {
		limit = t.opts.pageSize
	}
	out, err := t.remote.List(ctx, kvsdk.ListInput{
		Prefix: prefix,
		Cursor: lo.Cursor,
		Limit:  limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}
	res := &ListResult{
		Items:  make([]ListItem, 0, len(out.Items)),
		Cursor: out.Cursor,
	}
	for _, it := range out.Items {
		res.Items = append(res.Items, ListItem{
			Key:         t.keys.RecordKey(it.Name),
			PhysicalKey: it.Name,
			Metadata:    it.Metadata,
			Expiration:  it.Expiration,
		})
	}
	return res, nil
}

// ListIndex lists the entries of a declared index, narrowed to one value
// when value is not empty. Existence indexes have no values, so value is
// ignored for them.
func (t *Table) ListIndex(ctx context.Context, name, value string, lo ListOptions) (*ListResult, error) {
	idx, ok := t.def.Indexes[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIndex, "%q", name)
	}
	if value == "" || idx.Kind() == index.KindExistence {
		lo.Prefix = t.keys.IndexPrefix(name)
		return t.List(ctx, lo)
	}
	if idx.Kind() == index.KindEquality {
		if err := t.keys.ValidateIndexValue(value); err != nil {
			return nil, errors.Wrapf(ErrInvalidIndexValue, "index %s: %v", name, err)
		}
	}
	lo.Prefix = t.keys.IndexPrefix(name, value)
	return t.List(ctx, lo)
}

func (t *Table) DataPrefix() string {
	return t.keys.DataPrefix()
}

// IndexPrefix returns the scan prefix of an index, optionally narrowed to one value.
func (t *Table) IndexPrefix(name string, value ...string) string {
	return t.keys.IndexPrefix(name, value...)
}

// IndexNames returns the declared index names in sorted order.
func (t *Table) IndexNames() []string {
	return slices.Clone(t.names)
}

func (t *Table) validateKey(key string) error {
	if err := t.keys.ValidateRecordKey(key); err != nil {
		return errors.Wrap(ErrInvalidKey, err.Error())
	}
	return nil
}
