package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolHandlerFunc is a function that handles a tool call
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// ToolHandlerRegistry maps tool names to handler functions
type ToolHandlerRegistry struct {
	handlers map[string]ToolHandlerFunc
}

// NewToolHandlerRegistry creates a registry seeded with initial handlers
func NewToolHandlerRegistry(initial map[string]ToolHandlerFunc) *ToolHandlerRegistry {
	r := &ToolHandlerRegistry{
		handlers: make(map[string]ToolHandlerFunc, len(initial)),
	}
	for k, v := range initial {
		r.handlers[k] = v
	}
	return r
}

// Register adds or replaces a handler for a tool name
func (r *ToolHandlerRegistry) Register(toolName string, handler ToolHandlerFunc) {
	r.handlers[toolName] = handler
}

// GetHandler returns the handler function for a given tool name
func (r *ToolHandlerRegistry) GetHandler(toolName string) (ToolHandlerFunc, error) {
	h, ok := r.handlers[toolName]
	if !ok {
		return nil, fmt.Errorf("no handler registered for tool: %s", toolName)
	}
	return h, nil
}
