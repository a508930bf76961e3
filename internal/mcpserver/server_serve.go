package mcpserver

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// This file contains server startup methods that start blocking servers.
// They are exercised by running the daemon, not by unit tests.

// Serve starts the MCP server with stdio transport
func (ms *MCPServer) Serve() error {
	return server.ServeStdio(ms.server)
}

// ServeWithLogger starts the MCP server with stdio transport and custom logger
func (ms *MCPServer) ServeWithLogger(logger *slog.Logger) error {
	logger.Info("Starting MCP server with stdio transport")
	return ms.Serve()
}

// NewSSEServer builds the HTTP/SSE transport for addr
func (ms *MCPServer) NewSSEServer(addr string) *server.SSEServer {
	return server.NewSSEServer(ms.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)
}

// ServeHTTPWithLogger starts the MCP server with HTTP/SSE transport and custom logger
func (ms *MCPServer) ServeHTTPWithLogger(sse *server.SSEServer, addr string, logger *slog.Logger) error {
	logger.Info("Starting MCP server with HTTP/SSE transport", "address", addr, "base_path", "/mcp")
	return sse.Start(addr)
}
