package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
env: "staging"
storage_path: "/tmp/accounts.db"
http_server:
  address: "0.0.0.0:9000"
  api_key: "k-1"
accounts:
  endpoint: "https://identitytoolkit.example"
  timeout: 3s
oauth:
  client_id: "client-1"
  scopes: ["openid", "email"]
token:
  secret: "s3cret"
  ttl: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "/tmp/accounts.db", cfg.StoragePath)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "k-1", cfg.HTTPServer.APIKey)
	assert.Equal(t, "https://identitytoolkit.example", cfg.Accounts.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.Accounts.Timeout)
	assert.Equal(t, "client-1", cfg.OAuth.ClientID)
	assert.Equal(t, []string{"openid", "email"}, cfg.OAuth.Scopes)
	assert.Equal(t, 30*time.Minute, cfg.Token.TTL)

	// Unset keys fall back to defaults.
	assert.Equal(t, "http://127.0.0.1:8085/oauth2/callback", cfg.OAuth.RedirectURI)
	assert.Equal(t, 5*time.Minute, cfg.OAuth.FlowTimeout)
	assert.Equal(t, "signup-accounts-api", cfg.Token.Issuer)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
env: "dev"
accounts:
  endpoint: "http://localhost:8082"
`)
	t.Setenv("ACCOUNTS_ENDPOINT", "http://accounts.internal:8082")
	t.Setenv("OAUTH_CLIENT_ID", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://accounts.internal:8082", cfg.Accounts.Endpoint)
	assert.Equal(t, "from-env", cfg.OAuth.ClientID)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.False(t, cfg.IsProd())
	assert.Equal(t, "localhost:8082", cfg.Addr)
	assert.Equal(t, 15*time.Second, cfg.Accounts.Timeout)
	assert.Empty(t, cfg.OAuth.ClientID)
	assert.Equal(t, []string{"openid", "email", "profile"}, cfg.OAuth.Scopes)
	assert.Equal(t, time.Hour, cfg.Token.TTL)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown env", `env: "qa"`},
		{"prod with default secret", `env: "prod"`},
		{"negative ttl", "token:\n  ttl: -1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadProdWithSecret(t *testing.T) {
	cfg, err := Load(writeConfig(t, "env: \"prod\"\ntoken:\n  secret: \"real\""))
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "does not exist")
}
