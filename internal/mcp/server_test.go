package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/refcache/internal/app"
	"github.com/dshills/refcache/internal/config"
	"github.com/dshills/refcache/internal/testutil"
	"github.com/dshills/refcache/pkg/types"
)

type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.Remote.BaseURL = baseURL
	cfg.Remote.RatePerSecond = 1000
	cfg.Remote.Burst = 100
	cfg.Search.PageSize = 10
	return cfg
}

func setupServer(t *testing.T, catalog *testutil.FakeCatalog) *Server {
	t.Helper()
	a, err := app.New(testConfig(catalog.Start(t)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	server, err := NewServer(a)
	require.NoError(t, err)
	return server
}

func call(t *testing.T, handler toolHandler, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := handler(context.Background(), request(args))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func callErr(t *testing.T, handler toolHandler, args map[string]interface{}) *MCPError {
	t.Helper()
	_, err := handler(context.Background(), request(args))
	require.Error(t, err)

	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	return mcpErr
}

func request(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func TestNewServer(t *testing.T) {
	server := setupServer(t, testutil.NewFakeCatalog(nil, nil))
	assert.NotNil(t, server.mcp)
	assert.NotNil(t, server.app)

	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestSyncCatalog(t *testing.T) {
	server := setupServer(t, testutil.NewFakeCatalog(testutil.Materials(15), nil))

	out := call(t, server.handleSyncCatalog, nil)
	assert.Equal(t, "success", out["outcome"])
	assert.Equal(t, float64(15), out["records"])
	assert.NotEmpty(t, out["run_id"])

	out = call(t, server.handleSyncCatalog, map[string]interface{}{})
	assert.Equal(t, "skipped_fresh", out["outcome"])

	out = call(t, server.handleSyncCatalog, map[string]interface{}{"force": true})
	assert.Equal(t, "success", out["outcome"])

	status := call(t, server.handleGetSyncStatus, nil)
	assert.Equal(t, "success", status["state"])
	assert.Equal(t, false, status["degraded"])
	assert.NotEmpty(t, status["last_synced_at"])
	replica := status["replica"].(map[string]interface{})
	assert.Equal(t, float64(15), replica["record_count"])
}

func TestSyncCatalog_Failure(t *testing.T) {
	a, err := app.New(testConfig("http://127.0.0.1:1"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	server, err := NewServer(a)
	require.NoError(t, err)

	mcpErr := callErr(t, server.handleSyncCatalog, nil)
	assert.Equal(t, ErrorCodeSyncFailed, mcpErr.Code)

	status := call(t, server.handleGetSyncStatus, nil)
	assert.Equal(t, "error", status["state"])
	assert.NotEmpty(t, status["last_error"])
}

func TestSearchCatalog(t *testing.T) {
	catalog := testutil.NewFakeCatalog(testutil.Materials(25), nil)
	server := setupServer(t, catalog)
	call(t, server.handleSyncCatalog, nil)

	t.Run("semantic", func(t *testing.T) {
		out := call(t, server.handleSearchCatalog, map[string]interface{}{"query": "материал 24"})
		assert.Equal(t, "semantic", out["source"])
		assert.Equal(t, string(types.ModeRankedTopK), out["mode"])
		assert.Equal(t, false, out["has_more"])
		assert.Len(t, out["items"], 1)
	})

	t.Run("keyword fallback", func(t *testing.T) {
		catalog.SemanticDown.Store(true)
		defer catalog.SemanticDown.Store(false)

		out := call(t, server.handleSearchCatalog, map[string]interface{}{"query": "материал 23"})
		assert.Equal(t, "keyword", out["source"])
		assert.Len(t, out["items"], 1)
	})

	t.Run("browse and load more", func(t *testing.T) {
		args := map[string]interface{}{"surface": "browse"}
		out := call(t, server.handleSearchCatalog, args)
		assert.Equal(t, "browse", out["source"])
		assert.Equal(t, true, out["has_more"])
		assert.Len(t, out["items"], 10)

		out = call(t, server.handleLoadMore, args)
		assert.Equal(t, float64(2), out["page"])
		assert.Len(t, out["items"], 20)

		out = call(t, server.handleLoadMore, args)
		assert.Len(t, out["items"], 25)
		assert.Equal(t, false, out["has_more"])
	})
}

func TestBrowseCatalog(t *testing.T) {
	server := setupServer(t, testutil.NewFakeCatalog(testutil.Materials(30), nil))
	call(t, server.handleSyncCatalog, nil)

	out := call(t, server.handleBrowseCatalog, map[string]interface{}{"page": float64(2), "page_size": float64(20)})
	assert.Equal(t, string(types.ModePaginated), out["mode"])
	assert.Equal(t, float64(30), out["total"])
	assert.Equal(t, false, out["has_more"])
	assert.Len(t, out["items"], 10)

	out = call(t, server.handleBrowseCatalog, map[string]interface{}{"query": "category:прочее"})
	assert.Equal(t, float64(30), out["total"])

	pages := []struct {
		name string
		args map[string]interface{}
	}{
		{name: "BrowsePastTheEnd", args: map[string]interface{}{"page": float64(99)}},
		{name: "FilterPastTheEnd", args: map[string]interface{}{"query": "материал", "page": float64(99)}},
		{name: "BrowseOverflowingPage", args: map[string]interface{}{"page": float64(1 << 62), "page_size": float64(500)}},
		{name: "FilterOverflowingPage", args: map[string]interface{}{"query": "материал", "page": float64(1 << 62), "page_size": float64(500)}},
		{name: "FilterHugePage", args: map[string]interface{}{"query": "материал", "page": 1e300}},
	}
	for _, tt := range pages {
		t.Run(tt.name, func(t *testing.T) {
			out := call(t, server.handleBrowseCatalog, tt.args)
			assert.Equal(t, float64(30), out["total"])
			assert.Equal(t, false, out["has_more"])
			assert.Empty(t, out["items"])
		})
	}

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{name: "ZeroPage", args: map[string]interface{}{"page": float64(0)}},
		{name: "PageSizeTooLarge", args: map[string]interface{}{"page_size": float64(501)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mcpErr := callErr(t, server.handleBrowseCatalog, tt.args)
			assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
		})
	}
}

func TestSuggestMaterials(t *testing.T) {
	server := setupServer(t, testutil.NewFakeCatalog(testutil.Materials(30), nil))
	call(t, server.handleSyncCatalog, nil)

	out := call(t, server.handleSuggestMaterials, map[string]interface{}{"query": "материал 2", "limit": float64(5)})
	assert.Equal(t, string(types.ModeRankedTopK), out["mode"])
	assert.Len(t, out["items"], 5)

	mcpErr := callErr(t, server.handleSuggestMaterials, map[string]interface{}{"query": "  "})
	assert.Equal(t, ErrorCodeEmptyQuery, mcpErr.Code)

	mcpErr = callErr(t, server.handleSuggestMaterials, map[string]interface{}{"query": "x", "limit": float64(0)})
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestListWorks(t *testing.T) {
	works := []types.WorkItem{
		{ID: "w1", Name: "Демонтаж стяжки", Category: "Демонтаж", IsGlobal: true},
		{ID: "w2", Name: "Демонтаж плитки", Category: "Демонтаж"},
		{ID: "w3", Name: "Покраска стен", Category: "Отделка", IsGlobal: true},
	}
	catalog := testutil.NewFakeCatalog(nil, works)
	server := setupServer(t, catalog)

	out := call(t, server.handleListWorks, nil)
	assert.Equal(t, float64(3), out["count"])
	assert.Equal(t, "ready", out["state"])

	out = call(t, server.handleListWorks, map[string]interface{}{
		"filters": map[string]interface{}{"is_global": true, "name": "демонтаж"},
	})
	assert.Equal(t, float64(1), out["count"])
	assert.Equal(t, float64(3), out["total"])
	assert.Equal(t, int32(1), catalog.WorkCalls.Load())

	call(t, server.handleListWorks, map[string]interface{}{"refresh": true})
	assert.Equal(t, int32(2), catalog.WorkCalls.Load())
}

func TestListWorks_Unreachable(t *testing.T) {
	a, err := app.New(testConfig("http://127.0.0.1:1"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	server, err := NewServer(a)
	require.NoError(t, err)

	mcpErr := callErr(t, server.handleListWorks, nil)
	assert.Equal(t, ErrorCodeSourceNotReached, mcpErr.Code)
}

func TestDegradedMode(t *testing.T) {
	catalog := testutil.NewFakeCatalog(testutil.Materials(12), nil)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := testConfig(catalog.Start(t))
	cfg.DBPath = filepath.Join(blocker, "replica.db")
	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	server, err := NewServer(a)
	require.NoError(t, err)

	out := call(t, server.handleBrowseCatalog, map[string]interface{}{"page_size": float64(5)})
	assert.Equal(t, true, out["degraded"])
	assert.Equal(t, float64(12), out["total"])
	assert.Len(t, out["items"], 5)

	status := call(t, server.handleGetSyncStatus, nil)
	assert.Equal(t, true, status["degraded"])
	assert.NotEmpty(t, status["replica_error"])

	mcpErr := callErr(t, server.handleClearReplica, nil)
	assert.Equal(t, ErrorCodeReplicaDown, mcpErr.Code)
}

func TestClearReplica(t *testing.T) {
	server := setupServer(t, testutil.NewFakeCatalog(testutil.Materials(5), nil))
	call(t, server.handleSyncCatalog, nil)

	out := call(t, server.handleClearReplica, nil)
	assert.Equal(t, true, out["cleared"])

	status := call(t, server.handleGetSyncStatus, nil)
	assert.Equal(t, "idle", status["state"])
	replica := status["replica"].(map[string]interface{})
	assert.Equal(t, float64(0), replica["record_count"])
}

func TestArgsOf_InvalidArguments(t *testing.T) {
	server := setupServer(t, testutil.NewFakeCatalog(nil, nil))
	_, err := server.handleSearchCatalog(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: "not a map"},
	})
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}
