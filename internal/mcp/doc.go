// Package mcp implements the Model Context Protocol (MCP) server for refcache.
//
// The server exposes the reference catalog to MCP clients:
//   - search_catalog: semantic search with keyword fallback, or the first
//     browse page for an empty query
//   - load_more: append the next browse page to a surface
//   - browse_catalog: paginated local filter over the replica
//   - suggest_materials: ranked suggestions for a partial query
//   - sync_catalog, clear_replica, get_sync_status: replica management
//   - list_works: the works catalog from the TTL cache
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started via the serve command:
//
//	refcache serve --config refcache.yaml
//
// # Surfaces
//
// search_catalog and load_more keep one result list per surface. Each search
// supersedes every earlier search on the same surface; a superseded call
// fails with code -32005 and leaves the list untouched:
//
//	Request:
//	{
//	  "name": "search_catalog",
//	  "arguments": {"query": "гипсовая штукатурка", "surface": "materials"}
//	}
//
//	Response:
//	{
//	  "surface": "materials",
//	  "source": "semantic",
//	  "mode": "ranked-topk",
//	  "has_more": false,
//	  "items": [{"id": "m-101", "name": "Штукатурка гипсовая", ...}],
//	  "expanded_keywords": ["штукатурка", "гипс"]
//	}
//
// Ranked results (semantic or keyword) are capped lists and never page.
// Only empty-query results accept load_more.
//
// # Degraded mode
//
// When the local replica fails to open the server still starts. Keyword and
// browse queries then go to the remote catalog API, sync and clear fail with
// -32001, and get_sync_status reports "degraded": true.
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error
//   - -32001: Local replica unavailable
//   - -32002: Sync in progress
//   - -32003: Sync failed, previous replica kept
//   - -32004: Empty query
//   - -32005: Superseded by a newer search
//   - -32006: Remote source unreachable
//
// # Logging
//
// The server logs to stderr; stdout is reserved for the protocol.
package mcp
