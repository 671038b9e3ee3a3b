package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/refcache/internal/app"
	"github.com/dshills/refcache/internal/logging"
)

const (
	// ServerName is the MCP server name
	ServerName = "refcache"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultSurface is the result list used when a call names none
	DefaultSurface = "default"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp *server.MCPServer
	app *app.App
	log *logging.Logger
}

// NewServer creates a new MCP server over a wired app
func NewServer(a *app.App) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("app is required")
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithRecovery(),
	)

	s := &Server{
		mcp: mcpServer,
		app: a,
		log: a.Log.WithComponent("mcp"),
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown. The app
// is closed on return.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.app.Close() }()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(searchCatalogTool(), s.handleSearchCatalog)
	s.mcp.AddTool(loadMoreTool(), s.handleLoadMore)
	s.mcp.AddTool(browseCatalogTool(), s.handleBrowseCatalog)
	s.mcp.AddTool(suggestMaterialsTool(), s.handleSuggestMaterials)
	s.mcp.AddTool(syncCatalogTool(), s.handleSyncCatalog)
	s.mcp.AddTool(clearReplicaTool(), s.handleClearReplica)
	s.mcp.AddTool(getSyncStatusTool(), s.handleGetSyncStatus)
	s.mcp.AddTool(listWorksTool(), s.handleListWorks)

	return nil
}
