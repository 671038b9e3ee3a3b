package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/refcache/internal/config"
	"github.com/dshills/refcache/internal/testutil"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "refcache", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "sync", "search", "status", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-format"))
}

func TestSearchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	searchCmd, _, err := cmd.Find([]string{"search"})
	require.NoError(t, err)

	interactive := searchCmd.Flags().Lookup("interactive")
	require.NotNil(t, interactive)
	assert.Equal(t, "i", interactive.Shorthand)
	assert.NotNil(t, searchCmd.Flags().Lookup("page"))
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "version"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// setupEnv points the CLI at a fake catalog and a temp replica
func setupEnv(t *testing.T, catalog *testutil.FakeCatalog) {
	t.Helper()
	t.Setenv(config.EnvAPIURL, catalog.Start(t))
	t.Setenv(config.EnvSemanticURL, "")
	t.Setenv(config.EnvDBPath, filepath.Join(t.TempDir(), "replica.db"))
	t.Setenv(config.EnvKVPath, "")
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvLogFormat, "text")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestSyncAndStatus(t *testing.T) {
	setupEnv(t, testutil.NewFakeCatalog(testutil.Materials(12), nil))

	out, err := execute(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 12 records")

	out, err = execute(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Replica is fresh")

	out, err = execute(t, "--format", "json", "sync", "--force")
	require.NoError(t, err)
	data := decode(t, strings.TrimSpace(out))
	assert.Equal(t, "success", data["outcome"])

	out, err = execute(t, "--format", "json", "status")
	require.NoError(t, err)
	data = decode(t, strings.TrimSpace(out))
	assert.Equal(t, float64(12), data["record_count"])
	assert.Equal(t, true, data["fresh"])

	out, err = execute(t, "sync", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Replica cleared")

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Last sync:      never")
}

func TestSync_ResetSchema(t *testing.T) {
	setupEnv(t, testutil.NewFakeCatalog(testutil.Materials(12), nil))

	_, err := execute(t, "sync")
	require.NoError(t, err)

	out, err := execute(t, "sync", "--reset-schema")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 12 records")

	out, err = execute(t, "--format", "json", "status")
	require.NoError(t, err)
	data := decode(t, strings.TrimSpace(out))
	assert.Equal(t, float64(12), data["record_count"])

	_, err = execute(t, "sync", "--clear", "--reset-schema")
	require.Error(t, err)
}

func TestSync_Failure(t *testing.T) {
	t.Setenv(config.EnvAPIURL, "http://127.0.0.1:1")
	t.Setenv(config.EnvDBPath, filepath.Join(t.TempDir(), "replica.db"))
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvLogFormat, "text")

	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSearch(t *testing.T) {
	setupEnv(t, testutil.NewFakeCatalog(testutil.Materials(30), nil))
	_, err := execute(t, "sync")
	require.NoError(t, err)

	out, err := execute(t, "--format", "json", "search", "материал 5")
	require.NoError(t, err)
	data := decode(t, strings.TrimSpace(out))
	assert.Equal(t, "semantic", data["source"])
	assert.Equal(t, "ranked-topk", data["mode"])

	out, err = execute(t, "--format", "json", "search", "--page", "2", "--page-size", "20", "материал")
	require.NoError(t, err)
	data = decode(t, strings.TrimSpace(out))
	assert.Equal(t, float64(30), data["total"])
	assert.Len(t, data["items"], 10)
	assert.Equal(t, false, data["has_more"])

	out, err = execute(t, "search", "--page", "1", "материал 29")
	require.NoError(t, err)
	assert.Contains(t, out, "m-029")
	assert.Contains(t, out, "page 1, 1 of 1")
}

func TestSearch_Interactive(t *testing.T) {
	setupEnv(t, testutil.NewFakeCatalog(testutil.Materials(30), nil))
	_, err := execute(t, "sync")
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "json", "search", "-i"})
	cmd.SetIn(strings.NewReader("м\nмат\nматериал 2\nматериал 29\n"))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	data := decode(t, lines[len(lines)-1])
	assert.Equal(t, "материал 29", data["query"])
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "refcache dev")
	assert.Contains(t, out, "SQLite Driver:")
}
