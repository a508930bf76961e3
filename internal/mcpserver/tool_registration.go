package mcpserver

import (
	"fmt"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool argument names
const (
	argSessionID   = "session_id"
	argMode        = "mode"
	argSize        = "size"
	argMinInterval = "min_interval_ms"
	argMinDistance = "min_distance_m"
	argCount       = "count"
	argMax         = "max"
)

// registerTools registers all MCP tools with handlers via the tool registry
func (ms *MCPServer) registerTools() {
	add := func(tool mcp.Tool) {
		h, err := ms.toolRegistry.GetHandler(tool.Name)
		if err != nil {
			// Every tool declared here must have a registry entry
			panic(fmt.Sprintf("Tool %s not found in registry", tool.Name))
		}
		ms.server.AddTool(tool, server.ToolHandlerFunc(h))
	}

	add(mcp.NewTool(config.ToolStart,
		mcp.WithDescription("Start a location batching session"),
		mcp.WithNumber(argSize,
			mcp.Required(),
			mcp.Description("Number of fixes to buffer before reporting"),
		),
		mcp.WithString(argMode,
			mcp.Description("routine, no_auto_report or trip"),
		),
		mcp.WithNumber(argMinInterval,
			mcp.Description("Minimum interval between fixes in milliseconds"),
		),
		mcp.WithNumber(argMinDistance,
			mcp.Description("Minimum distance in meters; the trip distance for trip mode"),
		),
	))

	add(mcp.NewTool(config.ToolUpdate,
		mcp.WithDescription("Replace the options of a running batching session"),
		mcp.WithNumber(argSessionID,
			mcp.Required(),
			mcp.Description("Session ID returned by "+config.ToolStart),
		),
		mcp.WithNumber(argSize,
			mcp.Required(),
			mcp.Description("Number of fixes to buffer before reporting"),
		),
		mcp.WithString(argMode,
			mcp.Description("routine, no_auto_report or trip"),
		),
		mcp.WithNumber(argMinInterval,
			mcp.Description("Minimum interval between fixes in milliseconds"),
		),
		mcp.WithNumber(argMinDistance,
			mcp.Description("Minimum distance in meters; the trip distance for trip mode"),
		),
	))

	add(mcp.NewTool(config.ToolStop,
		mcp.WithDescription("Stop a batching session"),
		mcp.WithNumber(argSessionID,
			mcp.Required(),
			mcp.Description("Session ID returned by "+config.ToolStart),
		),
	))

	add(mcp.NewTool(config.ToolGetLocations,
		mcp.WithDescription("Retrieve buffered fixes for a batching session"),
		mcp.WithNumber(argSessionID,
			mcp.Required(),
			mcp.Description("Session ID returned by "+config.ToolStart),
		),
		mcp.WithNumber(argCount,
			mcp.Required(),
			mcp.Description("Maximum number of fixes to retrieve"),
		),
	))

	add(mcp.NewTool(config.ToolFetchReports,
		mcp.WithDescription("Fetch location batches and status changes delivered since the last fetch"),
		mcp.WithNumber(argMax,
			mcp.Description("Maximum number of reports to return; 0 returns all"),
		),
	))

	add(mcp.NewTool(config.ToolStatus,
		mcp.WithDescription("Show engine capabilities, sessions and the shared trip configuration"),
	))
}
