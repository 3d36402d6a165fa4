package index

import (
	"strings"

	"github.com/pkg/errors"
)

// Key roles. A physical key is [table, role, ...] joined by the separator.
const (
	RoleData      = "dataKey"
	RoleDirectory = "prefixData"
	RoleIndex     = "prefix"
)

const DefaultSeparator = "__"

// Keyer composes the physical keys of one table:
//
//	data:      users__dataKey__u1
//	index:     users__prefix__email__a@x.com__u1
//	directory: users__prefixData__u1
//
// Empty segments are dropped. A record key is always the last segment.
type Keyer struct {
	table string
	sep   string
}

func NewKeyer(table, separator string) (Keyer, error) {
	if separator == "" {
		return Keyer{}, errors.Wrap(ErrInvalidName, "separator is empty")
	}
	if table == "" {
		return Keyer{}, errors.Wrap(ErrInvalidName, "table name is empty")
	}
	if containsSeparator(table, separator) {
		return Keyer{}, errors.Wrapf(ErrInvalidName, "table name %q contains separator %q", table, separator)
	}
	return Keyer{table: table, sep: separator}, nil
}

func (k Keyer) Table() string {
	return k.table
}

func (k Keyer) Separator() string {
	return k.sep
}

// Join joins non-empty segments with the separator.
func (k Keyer) Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, k.sep)
}

func (k Keyer) DataKey(recordKey string) string {
	return k.Join(k.table, RoleData, recordKey)
}

func (k Keyer) DirectoryKey(recordKey string) string {
	return k.Join(k.table, RoleDirectory, recordKey)
}

// IndexKey is the key of a record's entry in an index. value is empty for
// existence indexes.
func (k Keyer) IndexKey(name, value, recordKey string) string {
	return k.Join(k.table, RoleIndex, name, value, recordKey)
}

// DataPrefix matches every data key of the table.
func (k Keyer) DataPrefix() string {
	return k.Join(k.table, RoleData) + k.sep
}

// IndexSpacePrefix matches the entries of every index of the table.
func (k Keyer) IndexSpacePrefix() string {
	return k.Join(k.table, RoleIndex) + k.sep
}

// IndexPrefix matches the entries of an index, optionally narrowed to one
// equality value. It ends with the separator so that index "email" never
// matches index "emailVerified".
func (k Keyer) IndexPrefix(name string, value ...string) string {
	return k.Join(append([]string{k.table, RoleIndex, name}, value...)...) + k.sep
}

// IndexRangePrefix matches the entries of a range index whose sort token
// starts with tokenPrefix.
func (k Keyer) IndexRangePrefix(name, tokenPrefix string) string {
	return k.Join(k.table, RoleIndex, name) + k.sep + tokenPrefix
}

// RecordKey returns the record key a physical key belongs to.
func (k Keyer) RecordKey(physical string) string {
	if i := strings.LastIndex(physical, k.sep); i >= 0 {
		return physical[i+len(k.sep):]
	}
	return physical
}

// ValidateRecordKey rejects keys that cannot be recovered from a physical key.
func (k Keyer) ValidateRecordKey(key string) error {
	if key == "" {
		return errors.Wrap(ErrInvalidName, "record key is empty")
	}
	if containsSeparator(key, k.sep) {
		return errors.Wrapf(ErrInvalidName, "record key %q contains separator %q", key, k.sep)
	}
	// A key starting with part of the separator fuses with the separator
	// before it: "x" + "__" + "_k" reads back as "k".
	for j := 1; j < len(k.sep); j++ {
		if k.sep[j:] == k.sep[:len(k.sep)-j] && strings.HasPrefix(key, k.sep[len(k.sep)-j:]) {
			return errors.Wrapf(ErrInvalidName, "record key %q starts with part of separator %q", key, k.sep)
		}
	}
	return nil
}

// ValidateIndexValue rejects equality values whose scan prefix would also
// match the entries of another value: "a" + "__" is a prefix of "a__b__u1",
// and of "a___u1" written for "a_".
func (k Keyer) ValidateIndexValue(value string) error {
	if containsSeparator(value+k.sep[:len(k.sep)-1], k.sep) {
		return errors.Wrapf(ErrInvalidName, "index value %q contains or ends with part of separator %q", value, k.sep)
	}
	return nil
}

func containsSeparator(s, sep string) bool {
	return strings.Contains(s, sep)
}
