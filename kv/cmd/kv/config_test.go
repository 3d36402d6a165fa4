package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/cfkv/kv/kvstore"
	"github.com/acksell/cfkv/kv/table"
)

const testConfig = `
account: acct-from-file
namespace: ns-1
separator: "::"
port: 9000
namespaces: [dev]
tables:
  - name: users
    properties: [email, points]
    indexes:
      email: {keyField: email}
      ">500points": {filter: {field: points, op: gt, value: 500}}
`

func TestLoadConfig_WalksUp(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, configFile), []byte(testConfig), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	t.Setenv("CF_ACCOUNT_ID", "")
	t.Setenv("CF_API_TOKEN", "tok")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "acct-from-file", cfg.AccountID)
	assert.Equal(t, "ns-1", cfg.Namespace)
	assert.Equal(t, "::", cfg.Separator)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"dev"}, cfg.Namespaces)
	assert.Equal(t, "tok", cfg.APIToken)

	tc, err := cfg.Table("users")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "points"}, tc.Properties)

	_, err = cfg.Table("orders")
	assert.Error(t, err)
}

func TestLoadConfig_Environment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFile), []byte(testConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CF_AUTH_EMAIL=me@example.com\n"), 0o644))
	chdir(t, dir)

	t.Setenv("CF_ACCOUNT_ID", "acct-from-env")
	t.Setenv("CF_AUTH_KEY", "key")
	// godotenv does not override variables that are already set
	t.Setenv("CF_AUTH_EMAIL", "")
	os.Unsetenv("CF_AUTH_EMAIL")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "acct-from-env", cfg.AccountID)
	assert.Equal(t, "key", cfg.AuthKey)
	assert.Equal(t, "me@example.com", cfg.AuthEmail)
}

func TestLoadConfig_Missing(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CF_ACCOUNT_ID", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.AccountID)
	assert.Empty(t, cfg.Tables)
}

// The table config from kv.yaml builds a working table.
func TestConfig_Table(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFile), []byte(testConfig), 0o644))
	chdir(t, dir)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	tc, err := cfg.Table("users")
	require.NoError(t, err)

	store, err := kvstore.New(kvstore.StoreOptions{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	users, err := table.FromConfig(store.Default(), tc, table.WithSeparator(cfg.Separator))
	require.NoError(t, err)
	assert.Equal(t, "users::prefix::email::", users.IndexPrefix("email"))
	assert.Equal(t, []string{">500points", "email"}, users.IndexNames())
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
