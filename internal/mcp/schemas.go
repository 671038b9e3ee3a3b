package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func surfaceProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Independent result list to update; a newer search on the same surface supersedes older ones",
		"default":     DefaultSurface,
	}
}

// searchCatalogTool returns the tool definition for search_catalog
func searchCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_catalog",
		Description: "Search reference materials: semantic first with keyword fallback, or the first browse page for an empty query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-text query; empty returns the first browse page",
				},
				"surface": surfaceProperty(),
			},
		},
	}
}

// loadMoreTool returns the tool definition for load_more
func loadMoreTool() mcp.Tool {
	return mcp.Tool{
		Name:        "load_more",
		Description: "Append the next browse page to a surface showing empty-query results",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"surface": surfaceProperty(),
			},
		},
	}
}

// browseCatalogTool returns the tool definition for browse_catalog
func browseCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "browse_catalog",
		Description: "Page through materials matching every query token, or a category with the category: prefix",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Tokens to match (all must match) or category:<name>",
				},
				"page": map[string]interface{}{
					"type":        "integer",
					"description": "1-based page number",
					"default":     1,
					"minimum":     1,
				},
				"page_size": map[string]interface{}{
					"type":        "integer",
					"description": "Records per page (1-500)",
					"default":     50,
					"minimum":     1,
					"maximum":     500,
				},
			},
		},
	}
}

// suggestMaterialsTool returns the tool definition for suggest_materials
func suggestMaterialsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "suggest_materials",
		Description: "Ranked material suggestions for a partial query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Partial query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of suggestions (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// syncCatalogTool returns the tool definition for sync_catalog
func syncCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_catalog",
		Description: "Replace the local replica with the current remote catalog",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, sync even when the replica is fresh",
					"default":     false,
				},
			},
		},
	}
}

// clearReplicaTool returns the tool definition for clear_replica
func clearReplicaTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_replica",
		Description: "Delete every local record and the sync marker",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getSyncStatusTool returns the tool definition for get_sync_status
func getSyncStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_sync_status",
		Description: "Report sync state, replica size and health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listWorksTool returns the tool definition for list_works
func listWorksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_works",
		Description: "List the works catalog from the TTL cache",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Field filters: booleans match exactly, strings match as case-insensitive substrings",
				},
				"refresh": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, bypass the TTL and fetch again",
					"default":     false,
				},
			},
		},
	}
}
