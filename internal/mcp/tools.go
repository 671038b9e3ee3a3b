package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/refcache/internal/hybrid"
	"github.com/dshills/refcache/internal/refcache"
	"github.com/dshills/refcache/internal/searcher"
	"github.com/dshills/refcache/internal/syncer"
	"github.com/dshills/refcache/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeReplicaDown      = -32001 // Local replica failed to open
	ErrorCodeSyncInProgress   = -32002 // Another sync is already running
	ErrorCodeSyncFailed       = -32003 // Sync attempt failed, previous data kept
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeSuperseded       = -32005 // A newer search on the same surface won
	ErrorCodeSourceNotReached = -32006 // Remote source unreachable and nothing cached
)

// handleSearchCatalog handles the search_catalog tool invocation
func (s *Server) handleSearchCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := argsOf(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := getStringDefault(args, "query", "")
	surface := getStringDefault(args, "surface", DefaultSurface)

	st, err := s.app.Orchestrator.Search(ctx, surface, query)
	if err != nil {
		return nil, s.orchestratorError(err, surface)
	}
	return mcp.NewToolResultText(formatJSON(stateResponse(surface, st))), nil
}

// handleLoadMore handles the load_more tool invocation
func (s *Server) handleLoadMore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := argsOf(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	surface := getStringDefault(args, "surface", DefaultSurface)

	st, err := s.app.Orchestrator.LoadMore(ctx, surface)
	if err != nil {
		return nil, s.orchestratorError(err, surface)
	}
	return mcp.NewToolResultText(formatJSON(stateResponse(surface, st))), nil
}

// handleBrowseCatalog handles the browse_catalog tool invocation
func (s *Server) handleBrowseCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := argsOf(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := getStringDefault(args, "query", "")
	page := getIntDefault(args, "page", 1)
	if page < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "page must be at least 1", map[string]interface{}{
			"param": "page",
			"value": page,
		})
	}
	pageSize := getIntDefault(args, "page_size", searcher.DefaultPageSize)
	if pageSize < 1 || pageSize > searcher.MaxPageSize {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("page_size must be between 1 and %d", searcher.MaxPageSize), map[string]interface{}{
			"param": "page_size",
			"value": pageSize,
		})
	}

	result, err := s.app.Browse(ctx, query, page, pageSize)
	if err != nil {
		return nil, newMCPError(ErrorCodeSourceNotReached, "browse failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"mode":      result.Mode,
		"page":      page,
		"page_size": pageSize,
		"total":     result.TotalCount,
		"has_more":  result.HasMore(page, pageSize),
		"items":     result.Items,
		"degraded":  s.app.Degraded(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSuggestMaterials handles the suggest_materials tool invocation
func (s *Server) handleSuggestMaterials(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := argsOf(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	result, err := s.app.Suggest(ctx, query, limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeSourceNotReached, "suggest failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"mode":  result.Mode,
		"total": result.TotalCount,
		"items": result.Items,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSyncCatalog handles the sync_catalog tool invocation
func (s *Server) handleSyncCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := argsOf(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	force := getBoolDefault(args, "force", false)

	var res *syncer.Result
	if force {
		res = s.app.Syncer.ForceSync(ctx)
	} else {
		res = s.app.Syncer.Sync(ctx, false)
	}

	switch res.Outcome {
	case syncer.OutcomeSkippedBusy:
		return nil, newMCPError(ErrorCodeSyncInProgress, "a sync is already running", map[string]interface{}{
			"run_id": res.RunID,
		})
	case syncer.OutcomeFailed:
		data := map[string]interface{}{"run_id": res.RunID}
		if res.Err != nil {
			data["error"] = res.Err.Error()
		}
		return nil, newMCPError(ErrorCodeSyncFailed, "sync failed, previous replica kept", data)
	}

	response := map[string]interface{}{
		"run_id":      res.RunID,
		"outcome":     res.Outcome,
		"records":     res.Records,
		"duration_ms": res.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearReplica handles the clear_replica tool invocation
func (s *Server) handleClearReplica(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	err := s.app.Syncer.Clear(ctx)
	switch {
	case errors.Is(err, syncer.ErrBusy):
		return nil, newMCPError(ErrorCodeSyncInProgress, "a sync is running", nil)
	case errors.Is(err, types.ErrStoreInit):
		return nil, newMCPError(ErrorCodeReplicaDown, "local replica unavailable", map[string]interface{}{
			"error": errorText(s.app.StoreErr),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "clear failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"cleared": true})), nil
}

// handleGetSyncStatus handles the get_sync_status tool invocation
func (s *Server) handleGetSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.app.Syncer.Status()

	response := map[string]interface{}{
		"state":    status.State,
		"degraded": s.app.Degraded(),
	}
	if !status.LastSyncedAt.IsZero() {
		response["last_synced_at"] = status.LastSyncedAt.Format(time.RFC3339)
	}
	if status.LastError != "" {
		response["last_error"] = status.LastError
	}

	if s.app.Degraded() {
		response["replica_error"] = errorText(s.app.StoreErr)
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	replica, err := s.app.ReplicaStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get replica status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	response["replica"] = map[string]interface{}{
		"record_count": replica.RecordCount,
		"size_mb":      fmt.Sprintf("%.2f", replica.SizeMB),
	}
	response["health"] = map[string]interface{}{
		"database_accessible": replica.Health.DatabaseAccessible,
		"schema_version":      replica.Health.SchemaVersion,
		"synced":              replica.Health.Synced,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListWorks handles the list_works tool invocation
func (s *Server) handleListWorks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := argsOf(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	filters, _ := args["filters"].(map[string]interface{})
	refresh := getBoolDefault(args, "refresh", false)

	var err error
	if refresh {
		err = s.app.Works.Refresh(ctx, true)
	} else {
		err = s.app.Works.Load(ctx)
	}

	snap := s.app.Works.Snapshot()
	if err != nil && len(snap.AllData) == 0 {
		return nil, newMCPError(ErrorCodeSourceNotReached, "works catalog unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	}

	items := refcache.Apply(snap.AllData, filters)
	response := map[string]interface{}{
		"state":      snap.State,
		"total":      len(snap.AllData),
		"count":      len(items),
		"items":      items,
		"fetched_at": time.UnixMilli(snap.Entry.FetchedAtMillis).UTC().Format(time.RFC3339),
	}
	if err != nil {
		response["stale"] = true
		response["error"] = err.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) orchestratorError(err error, surface string) error {
	switch {
	case errors.Is(err, hybrid.ErrStale):
		return newMCPError(ErrorCodeSuperseded, "superseded by a newer search", map[string]interface{}{
			"surface": surface,
		})
	case errors.Is(err, hybrid.ErrNoBackend):
		return newMCPError(ErrorCodeReplicaDown, "no search backend available", nil)
	default:
		s.log.Error("search failed", "surface", surface, "error", err)
		return newMCPError(ErrorCodeSourceNotReached, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func stateResponse(surface string, st hybrid.State) map[string]interface{} {
	response := map[string]interface{}{
		"surface":  surface,
		"query":    st.Query,
		"source":   st.Source,
		"mode":     st.Mode,
		"page":     st.Page,
		"has_more": st.HasMore,
		"total":    st.TotalCount,
		"items":    st.Items,
	}
	if len(st.ExpandedKeywords) > 0 {
		response["expanded_keywords"] = st.ExpandedKeywords
	}
	return response
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// argsOf returns the call arguments, treating absent arguments as empty
func argsOf(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		switch {
		case val >= math.MaxInt:
			return math.MaxInt
		case val <= math.MinInt:
			return math.MinInt
		}
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
