package table

import (
	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/index"
	"github.com/acksell/cfkv/kv/kvsdk"
)

// Config is the declarative form of a Definition:
//
//	name: users
//	properties: [email, points]
//	indexes:
//	  email: {keyField: email}
//	  ">500points": {filter: {field: points, op: gt, value: 500}}
type Config struct {
	Name       string                `yaml:"name" json:"name"`
	Properties []string              `yaml:"properties" json:"properties"`
	Indexes    map[string]index.Rule `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// Definition compiles the index rules of the config.
func (c Config) Definition() (Definition, error) {
	def := Definition{
		Name:       c.Name,
		Properties: c.Properties,
		Indexes:    make(map[string]index.Index, len(c.Indexes)),
	}
	for name, rule := range c.Indexes {
		idx, err := rule.Index()
		if err != nil {
			return Definition{}, errors.Wrapf(err, "table %s: index %s", c.Name, name)
		}
		def.Indexes[name] = idx
	}
	return def, nil
}

// FromConfig builds a table from its declarative form.
func FromConfig(remote kvsdk.Remote, c Config, opts ...Option) (*Table, error) {
	def, err := c.Definition()
	if err != nil {
		return nil, err
	}
	return New(remote, def, opts...)
}
