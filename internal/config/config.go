// Package config loads cartd configuration.
// Development reads a file or the environment; production additionally pulls
// credentials from Secret Manager.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"cartsync/internal/store"
	"cartsync/internal/transport"
)

// EnvPrefix prefixes every environment variable, e.g. CARTSYNC_PORT.
const EnvPrefix = "CARTSYNC"

// DriverMemory keeps carts in process memory. Development only.
const DriverMemory = "memory"

// Config holds all cartd configuration.
type Config struct {
	Port        string `yaml:"port" envconfig:"PORT"`
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT"` // "development" or "production"
	LogLevel    string `yaml:"log_level" envconfig:"LOG_LEVEL"`     // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string `yaml:"gcp_project" envconfig:"GCP_PROJECT"`
	SecretName string `yaml:"secret_name" envconfig:"SECRET_NAME"`

	Store  StoreConfig  `yaml:"store" envconfig:"STORE"`
	Remote RemoteConfig `yaml:"remote" envconfig:"REMOTE"`
}

// StoreConfig selects the local store.
type StoreConfig struct {
	Driver       string `yaml:"driver" envconfig:"DRIVER"` // sqlite3, postgres or memory
	DSN          string `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
}

// RemoteConfig points at the remote cart service. An empty BaseURL runs
// without a remote tier.
type RemoteConfig struct {
	BaseURL          string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey           string        `yaml:"api_key" envconfig:"API_KEY"`
	PrimaryMergePath string        `yaml:"primary_merge_path" envconfig:"PRIMARY_MERGE_PATH"`
	LegacyMergePath  string        `yaml:"legacy_merge_path" envconfig:"LEGACY_MERGE_PATH"`
	Timeout          time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	Fingerprint      string        `yaml:"fingerprint" envconfig:"FINGERPRINT"`
}

// secrets is the JSON payload of the production secret.
type secrets struct {
	RemoteAPIKey string `json:"remote_api_key"`
	DatabaseDSN  string `json:"database_dsn"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		Port:        "8080",
		Environment: "development",
		LogLevel:    "info",
		SecretName:  "cartsync",
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			DSN:    "cartsync.db",
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from CONFIG_FILE when set, otherwise from
// CARTSYNC_* environment variables. In production the remote API key and
// database DSN are then overlaid from Secret Manager.
func Load(ctx context.Context) (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	} else if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("gcp_project required in production environment")
		}
		if err := cfg.loadSecrets(ctx); err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile overlays a YAML file onto c. JSON files parse too, JSON being a
// subset of YAML 1.2.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// secretAccessor is the slice of the Secret Manager client used here.
type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// newSecretClient is replaced in tests.
var newSecretClient = func(ctx context.Context) (secretAccessor, error) {
	return secretmanager.NewClient(ctx)
}

// loadSecrets fetches credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_name}/versions/latest
func (c *Config) loadSecrets(ctx context.Context) error {
	client, err := newSecretClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.GCPProject, c.SecretName)
	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", name, err)
	}

	var s secrets
	if err := json.Unmarshal(result.GetPayload().GetData(), &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if s.RemoteAPIKey != "" {
		c.Remote.APIKey = s.RemoteAPIKey
	}
	if s.DatabaseDSN != "" {
		c.Store.DSN = s.DatabaseDSN
	}
	return nil
}

// Validate checks field values and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("environment must be development or production, got %q", c.Environment)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case DriverMemory:
		if c.Environment == "production" {
			return fmt.Errorf("store driver memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}

	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid remote.base_url %q", c.Remote.BaseURL)
		}
		if c.Remote.Timeout <= 0 {
			return fmt.Errorf("remote.timeout must be positive")
		}
	}
	switch c.Remote.Fingerprint {
	case transport.FingerprintNone, transport.FingerprintChrome, transport.FingerprintFirefox, transport.FingerprintSafari:
	default:
		return fmt.Errorf("unsupported remote.fingerprint %q", c.Remote.Fingerprint)
	}
	return nil
}
