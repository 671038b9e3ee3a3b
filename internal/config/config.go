// Package config loads refcache settings from defaults, an optional YAML
// file and REFCACHE_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/refcache/internal/hybrid"
	"github.com/dshills/refcache/internal/remote"
	"github.com/dshills/refcache/internal/syncer"
)

// Environment variables read by FromEnv
const (
	EnvDBPath      = "REFCACHE_DB_PATH"
	EnvKVPath      = "REFCACHE_KV_PATH"
	EnvAPIURL      = "REFCACHE_API_URL"
	EnvSemanticURL = "REFCACHE_SEMANTIC_URL"
	EnvAPIToken    = "REFCACHE_API_TOKEN"
	EnvLogLevel    = "REFCACHE_LOG_LEVEL"
	EnvLogFormat   = "REFCACHE_LOG_FORMAT"
)

// ErrInvalid marks a configuration that failed validation
var ErrInvalid = errors.New("invalid configuration")

// Config is the full process configuration
type Config struct {
	DBPath string `yaml:"db_path"`
	// KVPath is the persisted cache directory; empty keeps the cache in memory
	KVPath string `yaml:"kv_path"`

	Log    LogConfig    `yaml:"log"`
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Search SearchConfig `yaml:"search"`
	Cache  CacheConfig  `yaml:"cache"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RemoteConfig describes the catalog API and semantic service
type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url"`
	SemanticURL       string        `yaml:"semantic_url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RatePerSecond     float64       `yaml:"rate_per_second"`
	Burst             int           `yaml:"burst"`
	SemanticCacheSize int           `yaml:"semantic_cache_size"`
	SemanticCacheTTL  time.Duration `yaml:"semantic_cache_ttl"`
}

// SyncConfig tunes the replica sync
type SyncConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxRecords      int           `yaml:"max_records"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

// SearchConfig tunes the query engine and the orchestrator
type SearchConfig struct {
	PageSize        int           `yaml:"page_size"`
	SemanticLimit   int           `yaml:"semantic_limit"`
	KeywordLimit    int           `yaml:"keyword_limit"`
	SemanticTimeout time.Duration `yaml:"semantic_timeout"`
	Debounce        time.Duration `yaml:"debounce"`
}

// CacheConfig tunes the reference caches
type CacheConfig struct {
	WorksTTL      time.Duration `yaml:"works_ttl"`
	MaxValueBytes int           `yaml:"max_value_bytes"`
}

// Default returns the built-in configuration
func Default() Config {
	sc := syncer.DefaultConfig()
	hc := hybrid.DefaultConfig()
	return Config{
		DBPath: "~/.refcache/replica.db",
		Log:    LogConfig{Level: "info", Format: "text"},
		Remote: RemoteConfig{
			Timeout:           30 * time.Second,
			RatePerSecond:     10,
			Burst:             5,
			SemanticCacheSize: 256,
			SemanticCacheTTL:  5 * time.Minute,
		},
		Sync: SyncConfig{
			FreshnessWindow: sc.FreshnessWindow,
			InitialDelay:    sc.InitialDelay,
			MaxRecords:      sc.MaxRecords,
			FetchTimeout:    sc.FetchTimeout,
		},
		Search: SearchConfig{
			PageSize:        hc.PageSize,
			SemanticLimit:   hc.SemanticLimit,
			KeywordLimit:    hc.KeywordLimit,
			SemanticTimeout: hc.SemanticTimeout,
			Debounce:        300 * time.Millisecond,
		},
		Cache: CacheConfig{
			WorksTTL:      5 * time.Minute,
			MaxValueBytes: 5 << 20,
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overlays the REFCACHE_* variables returned by getenv
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.DBPath, EnvDBPath)
	set(&c.KVPath, EnvKVPath)
	set(&c.Remote.BaseURL, EnvAPIURL)
	set(&c.Remote.SemanticURL, EnvSemanticURL)
	set(&c.Remote.Token, EnvAPIToken)
	set(&c.Log.Level, EnvLogLevel)
	set(&c.Log.Format, EnvLogFormat)
}

// Validate checks URLs and numeric bounds
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Remote.BaseURL != "" {
		if err := checkURL(c.Remote.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("remote.base_url: %w", err))
		}
	}
	if c.Remote.SemanticURL != "" {
		if err := checkURL(c.Remote.SemanticURL); err != nil {
			errs = append(errs, fmt.Errorf("remote.semantic_url: %w", err))
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Sync.MaxRecords < 0 {
		errs = append(errs, errors.New("sync.max_records must not be negative"))
	}
	if c.Search.PageSize < 0 || c.Search.PageSize > 500 {
		errs = append(errs, fmt.Errorf("search.page_size %d out of range 0..500", c.Search.PageSize))
	}
	if c.Cache.MaxValueBytes < 0 {
		errs = append(errs, errors.New("cache.max_value_bytes must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}

// ExpandPath resolves a leading ~ to the home directory
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// RemoteClients returns the settings for remote.New
func (c *Config) RemoteClients() remote.Config {
	return remote.Config{
		BaseURL:           c.Remote.BaseURL,
		SemanticURL:       c.Remote.SemanticURL,
		Token:             c.Remote.Token,
		Timeout:           c.Remote.Timeout,
		RatePerSecond:     c.Remote.RatePerSecond,
		Burst:             c.Remote.Burst,
		SemanticCacheSize: c.Remote.SemanticCacheSize,
		SemanticCacheTTL:  c.Remote.SemanticCacheTTL,
	}
}

// Syncer returns the settings for syncer.New
func (c *Config) Syncer() syncer.Config {
	return syncer.Config{
		FreshnessWindow: c.Sync.FreshnessWindow,
		InitialDelay:    c.Sync.InitialDelay,
		MaxRecords:      c.Sync.MaxRecords,
		FetchTimeout:    c.Sync.FetchTimeout,
	}
}

// Hybrid returns the settings for hybrid.New
func (c *Config) Hybrid() hybrid.Config {
	return hybrid.Config{
		SemanticLimit:   c.Search.SemanticLimit,
		KeywordLimit:    c.Search.KeywordLimit,
		SemanticTimeout: c.Search.SemanticTimeout,
		PageSize:        c.Search.PageSize,
	}
}
