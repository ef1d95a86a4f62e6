package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every CARTSYNC_* variable and CONFIG_FILE for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, EnvPrefix+"_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARTSYNC_PORT", "9090")
	t.Setenv("CARTSYNC_LOG_LEVEL", "debug")
	t.Setenv("CARTSYNC_STORE_DRIVER", "postgres")
	t.Setenv("CARTSYNC_STORE_DSN", "postgres://cart@localhost/cart?sslmode=disable")
	t.Setenv("CARTSYNC_STORE_MAX_OPEN_CONNS", "8")
	t.Setenv("CARTSYNC_REMOTE_BASE_URL", "https://carts.example.com")
	t.Setenv("CARTSYNC_REMOTE_API_KEY", "k-123")
	t.Setenv("CARTSYNC_REMOTE_TIMEOUT", "3s")
	t.Setenv("CARTSYNC_REMOTE_FINGERPRINT", "chrome")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 8, cfg.Store.MaxOpenConns)
	assert.Equal(t, "https://carts.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "k-123", cfg.Remote.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "chrome", cfg.Remote.Fingerprint)
	assert.Equal(t, "development", cfg.Environment, "unset fields keep defaults")
}

func TestLoadFromYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cartd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
store:
  driver: memory
remote:
  base_url: http://localhost:9000
  timeout: 2s
  legacy_merge_path: /v0/cart/merge
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CARTSYNC_PORT", "1111") // ignored when a file is given

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "/v0/cart/merge", cfg.Remote.LegacyMergePath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromJSONFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cartd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "6060", "log_level": "warn", "store": {"driver": "sqlite3", "dsn": "/tmp/c.db"}}`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/tmp/c.db", cfg.Store.DSN)
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "reading config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unclosed"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err = Load(context.Background())
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad environment", func(c *Config) { c.Environment = "staging" }, "environment"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn"},
		{"memory in production", func(c *Config) {
			c.Environment = "production"
			c.Store.Driver = DriverMemory
		}, "memory"},
		{"relative base url", func(c *Config) { c.Remote.BaseURL = "carts.example.com" }, "remote.base_url"},
		{"zero timeout", func(c *Config) {
			c.Remote.BaseURL = "https://carts.example.com"
			c.Remote.Timeout = 0
		}, "remote.timeout"},
		{"unknown fingerprint", func(c *Config) { c.Remote.Fingerprint = "opera" }, "fingerprint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

type fakeSecrets struct {
	payload string
	err     error
	name    string
	closed  bool
}

func (f *fakeSecrets) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.name = req.GetName()
	if f.err != nil {
		return nil, f.err
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(f.payload)},
	}, nil
}

func (f *fakeSecrets) Close() error {
	f.closed = true
	return nil
}

func useSecrets(t *testing.T, f *fakeSecrets) {
	t.Helper()
	orig := newSecretClient
	newSecretClient = func(ctx context.Context) (secretAccessor, error) { return f, nil }
	t.Cleanup(func() { newSecretClient = orig })
}

func TestLoadProductionSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARTSYNC_ENVIRONMENT", "production")
	t.Setenv("CARTSYNC_GCP_PROJECT", "shop-prod")
	t.Setenv("CARTSYNC_STORE_DRIVER", "postgres")
	t.Setenv("CARTSYNC_REMOTE_BASE_URL", "https://carts.example.com")

	fake := &fakeSecrets{payload: `{"remote_api_key":"from-secret","database_dsn":"postgres://secret/db"}`}
	useSecrets(t, fake)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "projects/shop-prod/secrets/cartsync/versions/latest", fake.name)
	assert.True(t, fake.closed)
	assert.Equal(t, "from-secret", cfg.Remote.APIKey)
	assert.Equal(t, "postgres://secret/db", cfg.Store.DSN)
}

func TestLoadProductionErrors(t *testing.T) {
	t.Run("missing project", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CARTSYNC_ENVIRONMENT", "production")
		_, err := Load(context.Background())
		assert.ErrorContains(t, err, "gcp_project")
	})

	t.Run("secret unavailable", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CARTSYNC_ENVIRONMENT", "production")
		t.Setenv("CARTSYNC_GCP_PROJECT", "shop-prod")
		useSecrets(t, &fakeSecrets{err: errors.New("permission denied")})

		_, err := Load(context.Background())
		assert.ErrorContains(t, err, "permission denied")
	})

	t.Run("secret not json", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CARTSYNC_ENVIRONMENT", "production")
		t.Setenv("CARTSYNC_GCP_PROJECT", "shop-prod")
		useSecrets(t, &fakeSecrets{payload: "not json"})

		_, err := Load(context.Background())
		assert.ErrorContains(t, err, "parsing secret JSON")
	})
}
