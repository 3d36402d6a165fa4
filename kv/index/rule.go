package index

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// Rule is the declarative form of an Index, as written in configuration files:
//
//	indexes:
//	  email: {keyField: email}
//	  timestamp_desc: {sortField: timestamp, descending: true}
//	  ">500points": {filter: {field: points, op: gt, value: 500}}
type Rule struct {
	KeyField   string      `yaml:"keyField,omitempty" json:"keyField,omitempty"`
	SortField  string      `yaml:"sortField,omitempty" json:"sortField,omitempty"`
	Descending bool        `yaml:"descending,omitempty" json:"descending,omitempty"`
	Filter     *FilterRule `yaml:"filter,omitempty" json:"filter,omitempty"`
}

type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpExists Op = "exists"
)

// FilterRule compares one metadata field against a constant.
// Numbers are compared numerically, everything else by its string form.
type FilterRule struct {
	Field string `yaml:"field" json:"field"`
	Op    Op     `yaml:"op" json:"op"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// Index converts the rule into an Index.
func (r Rule) Index() (Index, error) {
	if r.KeyField != "" && r.SortField != "" {
		return Index{}, errors.Wrap(ErrInvalidIndex, "keyField and sortField are mutually exclusive")
	}
	if r.Descending && r.SortField == "" {
		return Index{}, errors.Wrap(ErrInvalidIndex, "descending requires sortField")
	}
	var idx Index
	if r.KeyField != "" {
		field := r.KeyField
		idx.KeyValue = func(md kvsdk.Metadata) string {
			return FormatValue(md[field])
		}
	}
	if r.SortField != "" {
		field, desc := r.SortField, r.Descending
		idx.SortValue = func(md kvsdk.Metadata) string {
			return SortToken(md[field], desc)
		}
	}
	if r.Filter != nil {
		if err := r.Filter.Validate(); err != nil {
			return Index{}, err
		}
		f := *r.Filter
		idx.Filter = f.Match
	}
	return idx, nil
}

func (f FilterRule) Validate() error {
	if f.Field == "" {
		return errors.Wrap(ErrInvalidIndex, "filter field is required")
	}
	switch f.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpExists:
		return nil
	default:
		return errors.Wrapf(ErrInvalidIndex, "unknown filter op %q", f.Op)
	}
}

func (f FilterRule) Match(md kvsdk.Metadata) bool {
	v, ok := md[f.Field]
	if f.Op == OpExists {
		return ok && v != nil
	}
	if !ok {
		return false
	}
	var c int
	a, aNum := Number(v)
	b, bNum := Number(f.Value)
	if aNum && bNum {
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	} else {
		c = strings.Compare(FormatValue(v), FormatValue(f.Value))
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// Number converts numeric metadata values. Metadata read back from a store
// holds float64, metadata built in code usually holds ints.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// FormatValue renders a metadata value as a key segment.
func FormatValue(v any) string {
	if v == nil {
		return ""
	}
	if n, ok := Number(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// sortWidth fits every integer a float64 represents exactly.
const sortWidth = 16

// SortToken renders a value so that lexical order follows value order.
// Non-negative integers are zero padded; descending tokens are inverted
// against the largest exactly representable integer. Other values fall back
// to FormatValue.
func SortToken(v any, descending bool) string {
	n, ok := Number(v)
	if !ok || n < 0 || n != math.Trunc(n) || n > maxSortable {
		return FormatValue(v)
	}
	if descending {
		n = maxSortable - n
	}
	return fmt.Sprintf("%0*d", sortWidth, int64(n))
}

const maxSortable = 1<<53 - 1
