package main

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/acksell/cfkv/kv/table"
)

const configFile = "kv.yaml"

// Config is loaded from kv.yaml if present. Credentials never live in the
// file; they come from the environment or a .env file.
type Config struct {
	// AccountID is the Cloudflare account. CF_ACCOUNT_ID overrides it.
	AccountID string `yaml:"account"`
	// Namespace is the id of the namespace the tables live in.
	Namespace string `yaml:"namespace"`
	// BaseURL points the client at another API root, such as `kv serve`.
	BaseURL   string `yaml:"baseURL"`
	Separator string `yaml:"separator"`

	// DataDir is where the emulator keeps its BadgerDB files.
	DataDir string `yaml:"dataDir"`
	// Port is the emulator's HTTP port.
	Port int `yaml:"port"`
	// Namespaces are created by the emulator at startup.
	Namespaces []string `yaml:"namespaces"`

	// DynamoDB, when its table is set, replaces Workers KV as the store.
	DynamoDB DynamoConfig `yaml:"dynamodb"`

	Tables []table.Config `yaml:"tables"`

	APIToken  string `yaml:"-"`
	AuthKey   string `yaml:"-"`
	AuthEmail string `yaml:"-"`
}

// DynamoConfig selects a DynamoDB table as the store. Credentials come from
// the default AWS chain.
type DynamoConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig reads the nearest kv.yaml, walking up from the working
// directory, then applies the environment. A missing file is not an error.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := findConfigFile(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse %s", path)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if v := os.Getenv("CF_ACCOUNT_ID"); v != "" {
		cfg.AccountID = v
	}
	cfg.APIToken = os.Getenv("CF_API_TOKEN")
	cfg.AuthKey = os.Getenv("CF_AUTH_KEY")
	cfg.AuthEmail = os.Getenv("CF_AUTH_EMAIL")
	return cfg, nil
}

// Table returns the named table definition.
func (c Config) Table(name string) (table.Config, error) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return table.Config{}, errors.Errorf("table %q is not defined in %s", name, configFile)
}

func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, configFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
