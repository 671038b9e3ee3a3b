package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 24*time.Hour, cfg.Sync.FreshnessWindow)
	assert.Equal(t, time.Second, cfg.Sync.InitialDelay)
	assert.Equal(t, 50000, cfg.Sync.MaxRecords)
	assert.Equal(t, 50, cfg.Search.PageSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.WorksTTL)
	assert.Empty(t, cfg.KVPath)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
db_path: /tmp/replica.db
remote:
  base_url: https://api.example.com/v1
  timeout: 5s
sync:
  freshness_window: 12h
search:
  page_size: 100
`)
	t.Setenv(EnvAPIURL, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/replica.db", cfg.DBPath)
	assert.Equal(t, "https://api.example.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 12*time.Hour, cfg.Sync.FreshnessWindow)
	assert.Equal(t, 100, cfg.Search.PageSize)
	// untouched keys keep their defaults
	assert.Equal(t, 50000, cfg.Sync.MaxRecords)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "db_pth: /tmp/typo.db\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "remote:\n  base_url: https://file.example.com\n")
	t.Setenv(EnvAPIURL, "https://env.example.com")
	t.Setenv(EnvLogFormat, "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDBPath:      "/data/r.db",
		EnvKVPath:      "/data/kv",
		EnvSemanticURL: "https://sem.example.com",
		EnvAPIToken:    "secret",
		EnvLogLevel:    "debug",
		EnvAPIURL:      "   ",
	}
	cfg := Default()
	cfg.Remote.BaseURL = "https://keep.example.com"
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "/data/r.db", cfg.DBPath)
	assert.Equal(t, "/data/kv", cfg.KVPath)
	assert.Equal(t, "https://sem.example.com", cfg.Remote.SemanticURL)
	assert.Equal(t, "secret", cfg.Remote.Token)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://keep.example.com", cfg.Remote.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "Defaults", mutate: func(c *Config) {}},
		{name: "NoDBPath", mutate: func(c *Config) { c.DBPath = "" }, wantErr: true},
		{name: "BadURL", mutate: func(c *Config) { c.Remote.BaseURL = "not a url" }, wantErr: true},
		{name: "BadScheme", mutate: func(c *Config) { c.Remote.SemanticURL = "ftp://x.example.com" }, wantErr: true},
		{name: "BadFormat", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{name: "PageSizeTooLarge", mutate: func(c *Config) { c.Search.PageSize = 501 }, wantErr: true},
		{name: "NegativeMaxRecords", mutate: func(c *Config) { c.Sync.MaxRecords = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.refcache/replica.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".refcache/replica.db"), got)

	got, err = ExpandPath("/abs/path.db")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path.db", got)
}

func TestAdapters(t *testing.T) {
	cfg := Default()
	cfg.Remote.BaseURL = "https://api.example.com"

	rc := cfg.RemoteClients()
	assert.Equal(t, "https://api.example.com", rc.BaseURL)
	assert.Equal(t, 256, rc.SemanticCacheSize)

	assert.Equal(t, cfg.Sync.MaxRecords, cfg.Syncer().MaxRecords)
	assert.Equal(t, cfg.Search.SemanticLimit, cfg.Hybrid().SemanticLimit)
}
