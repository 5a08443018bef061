package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/repovec-mcp/internal/app"
)

const (
	// ServerName is the MCP server name
	ServerName = "repovec-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	app    *app.App
	logger *slog.Logger
}

// NewServer creates a new MCP server over a, which the caller keeps
// ownership of
func NewServer(a *app.App) (*Server, error) {
	if a == nil {
		return nil, errors.New("application is required")
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:    mcpServer,
		app:    a,
		logger: slog.Default().With("component", "mcp"),
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the MCP protocol over the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	s.logger.Info("serving MCP on stdio")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Write path
	s.mcp.AddTool(ingestRepositoryTool(), s.handleIngestRepository)
	s.mcp.AddTool(ingestIssuesTool(), s.handleIngestIssues)

	// Read path
	s.mcp.AddTool(queryDocumentsTool(), s.handleQuery(s.app.Documents))
	s.mcp.AddTool(queryIssuesTool(), s.handleQuery(s.app.Issues))
	s.mcp.AddTool(fetchChunksTool(), s.handleFetchChunks)
	s.mcp.AddTool(fetchChunksByPrefixTool(), s.handleFetchChunksByPrefix)
	s.mcp.AddTool(fetchNextChunkTool(), s.handleFetchNextChunk)
	s.mcp.AddTool(listPrefixesTool(), s.handleListPrefixes)
	s.mcp.AddTool(combineChunksTool(), s.handleCombineChunks)

	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
