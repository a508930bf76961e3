// Package mcpserver exposes the batching core to MCP clients. Every MCP
// session becomes one batching client; asynchronous deliveries land in the
// report mailbox and are announced with a server notification.
package mcpserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/cache"
	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
	"github.com/mark3labs/mcp-go/server"
)

// Batching is the part of the batching core the MCP surface drives
type Batching interface {
	RegisterClient(id batching.ClientID, cb batching.Callbacks) error
	RemoveClient(id batching.ClientID) error
	StartBatching(client batching.ClientID, opts types.BatchingOptions) (uint32, <-chan batching.Response)
	UpdateBatchingOptions(client batching.ClientID, id uint32, opts types.BatchingOptions) <-chan batching.Response
	StopBatching(client batching.ClientID, id uint32) <-chan batching.Response
	GetBatchedLocations(client batching.ClientID, id uint32, count int) <-chan batching.Response
	Snapshot(ctx context.Context) (batching.Snapshot, error)
}

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
	// ResponseTimeout bounds how long a tool waits for the engine result
	ResponseTimeout time.Duration
}

// MCPServer wraps the mcp-go server with the batching tools
type MCPServer struct {
	server          *server.MCPServer
	batching        Batching
	mailbox         cache.MailboxInterface
	bridge          *ClientBridge
	toolRegistry    *ToolHandlerRegistry
	responseTimeout time.Duration
	logger          *slog.Logger
}

// NewMCPServer creates and configures a new MCP server. MCP session
// registration and teardown are mirrored into the batching client table.
func NewMCPServer(cfg Config, svc Batching, mailbox cache.MailboxInterface, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = config.DefaultResponseTimeout
	}

	ms := &MCPServer{
		batching:        svc,
		mailbox:         mailbox,
		responseTimeout: timeout,
		logger:          logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		ms.bridge.Attach(session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		ms.bridge.Detach(session.SessionID())
	})

	ms.server = server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	ms.bridge = NewClientBridge(svc, mailbox, ms.server, logger)

	ms.toolRegistry = NewToolHandlerRegistry(map[string]ToolHandlerFunc{
		config.ToolStart:        ms.handleStart,
		config.ToolUpdate:       ms.handleUpdate,
		config.ToolStop:         ms.handleStop,
		config.ToolGetLocations: ms.handleGetLocations,
		config.ToolFetchReports: ms.handleFetchReports,
		config.ToolStatus:       ms.handleStatus,
	})
	ms.registerTools()

	return ms
}

// Server returns the underlying mcp-go server for serving
func (ms *MCPServer) Server() *server.MCPServer {
	return ms.server
}

// Bridge returns the MCP session to batching client bridge
func (ms *MCPServer) Bridge() *ClientBridge {
	return ms.bridge
}
