// Package config loads the server configuration from an optional YAML file
// and applies TRACELIGHT_* environment overrides on top. Every field has a
// usable default so the binary starts with no file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts YAML values like "30s" or "2m" and keeps the
// time.Duration semantics everywhere else.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
	// PublicURL is the externally reachable base URL. DSNs handed to SDKs
	// are rendered against it.
	PublicURL string `yaml:"public_url"`
	// MaxBodyBytes caps ingestion request bodies before and after
	// decompression.
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	// DataDir holds the per-project SQLite shard files.
	DataDir string `yaml:"data_dir"`
	// RegistryDriver selects the project registry backend: "sqlite3"
	// (default) or "postgres".
	RegistryDriver string `yaml:"registry_driver"`
	// RegistryDSN is the connection string for the registry. Empty with
	// the sqlite3 driver means <data_dir>/registry.db.
	RegistryDSN string `yaml:"registry_dsn"`
	// ShardCacheSize bounds the number of shard handles kept open.
	ShardCacheSize int `yaml:"shard_cache_size"`
}

type AuthConfig struct {
	Tokens []TokenEntry `yaml:"tokens"`
}

// TokenEntry maps a static bearer token to the user it authenticates.
type TokenEntry struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file and no overrides are
// present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			PublicURL:    "http://localhost:8080",
			MaxBodyBytes: 8 << 20,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Storage: StorageConfig{
			DataDir:        "./data",
			RegistryDriver: "sqlite3",
			ShardCacheSize: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), layers
// TRACELIGHT_* environment variables over it and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv applies the environment overrides. Unset variables leave the
// file/default values untouched.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("TRACELIGHT_ADDR", &cfg.Server.Addr)
	setString("TRACELIGHT_PUBLIC_URL", &cfg.Server.PublicURL)
	setString("TRACELIGHT_DATA_DIR", &cfg.Storage.DataDir)
	setString("TRACELIGHT_REGISTRY_DRIVER", &cfg.Storage.RegistryDriver)
	setString("TRACELIGHT_REGISTRY_DSN", &cfg.Storage.RegistryDSN)
	setString("TRACELIGHT_LOG_LEVEL", &cfg.Logging.Level)
	setString("TRACELIGHT_LOG_FORMAT", &cfg.Logging.Format)

	if v, ok := os.LookupEnv("TRACELIGHT_MAX_BODY_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if v, ok := os.LookupEnv("TRACELIGHT_SHARD_CACHE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Storage.ShardCacheSize = n
		}
	}
	if v, ok := os.LookupEnv("TRACELIGHT_ADMIN_TOKEN"); ok && v != "" {
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, TokenEntry{Token: v, UserID: "admin"})
	}
}

func (c Config) validate() error {
	switch c.Storage.RegistryDriver {
	case "sqlite3":
	case "postgres":
		if c.Storage.RegistryDSN == "" {
			return fmt.Errorf("registry_dsn is required with the postgres driver")
		}
	default:
		return fmt.Errorf("unknown registry_driver %q", c.Storage.RegistryDriver)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.Storage.ShardCacheSize <= 0 {
		return fmt.Errorf("shard_cache_size must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.UserID == "" {
			return fmt.Errorf("auth.tokens[%d]: token and user_id are both required", i)
		}
	}
	return nil
}

// TokenMap flattens the configured token entries for the auth resolver.
// Later entries win on duplicate tokens, so TRACELIGHT_ADMIN_TOKEN can
// override a file entry.
func (c Config) TokenMap() map[string]string {
	m := make(map[string]string, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		m[t.Token] = t.UserID
	}
	return m
}
