// Package index describes the secondary indexes of a table and how they are
// laid out as physical keys in a flat key-value store.
//
// An Index is a plain configuration record. The table engine evaluates the
// optional KeyValue, SortValue and Filter fields the same way for every index:
//
//	index.Index{KeyValue: func(md kvsdk.Metadata) string { return md["email"].(string) }}
//	index.Index{SortValue: func(md kvsdk.Metadata) string { return md["createdAt"].(string) }}
//	index.Index{Filter: func(md kvsdk.Metadata) bool { return md["active"] == true }}
package index

import (
	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/kvsdk"
)

var (
	// ErrReservedIndexName is returned when an index uses a name the key
	// layout needs for itself.
	ErrReservedIndexName = errors.New("index name is reserved")
	ErrInvalidIndex      = errors.New("invalid index")
	ErrInvalidName       = errors.New("invalid name")
)

// Index is a rule deriving at most one index entry from a record's metadata.
//
// KeyValue makes an equality index, SortValue a range index ordered by the
// lexical order of the token. Without either the index only records
// membership. Filter excludes a record when it returns false.
type Index struct {
	KeyValue  func(md kvsdk.Metadata) string
	SortValue func(md kvsdk.Metadata) string
	Filter    func(md kvsdk.Metadata) bool
}

type Kind int

const (
	KindExistence Kind = iota
	KindEquality
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindEquality:
		return "equality"
	case KindRange:
		return "range"
	default:
		return "existence"
	}
}

func (i Index) Kind() Kind {
	switch {
	case i.KeyValue != nil:
		return KindEquality
	case i.SortValue != nil:
		return KindRange
	default:
		return KindExistence
	}
}

// Applies reports whether a record with the given metadata belongs in the index.
func (i Index) Applies(md kvsdk.Metadata) bool {
	if i.Filter == nil {
		return true
	}
	return i.Filter(md)
}

// Value returns the equality value or sort token of a record, or "" for
// existence indexes.
func (i Index) Value(md kvsdk.Metadata) string {
	switch {
	case i.KeyValue != nil:
		return i.KeyValue(md)
	case i.SortValue != nil:
		return i.SortValue(md)
	default:
		return ""
	}
}

// Validate checks the index on its own; see ValidateName for its name.
func (i Index) Validate() error {
	if i.KeyValue != nil && i.SortValue != nil {
		return errors.Wrap(ErrInvalidIndex, "KeyValue and SortValue are mutually exclusive")
	}
	return nil
}

// ValidateName rejects reserved names and names that would break the key layout.
func ValidateName(name, separator string) error {
	switch {
	case name == RoleData, name == RoleDirectory:
		return errors.Wrapf(ErrReservedIndexName, "%q", name)
	case name == "":
		return errors.Wrap(ErrInvalidName, "index name is empty")
	case separator != "" && containsSeparator(name, separator):
		return errors.Wrapf(ErrInvalidName, "index name %q contains separator %q", name, separator)
	}
	return nil
}
