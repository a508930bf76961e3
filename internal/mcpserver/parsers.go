package mcpserver

import (
	"context"
	"fmt"
	"math"

	"github.com/AltairaLabs/locbatch-mcp/internal/types"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const defaultSessionID = "default-session"

type sessionIDKey struct{}

// WithSessionID attaches an MCP session ID to ctx for transports that do
// not carry a client session
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// sessionIDFromContext extracts the MCP session that issued the call
func sessionIDFromContext(ctx context.Context) string {
	if clientSession := server.ClientSessionFromContext(ctx); clientSession != nil {
		return clientSession.SessionID()
	}
	if sessionID, ok := ctx.Value(sessionIDKey{}).(string); ok && sessionID != "" {
		return sessionID
	}
	return defaultSessionID
}

// optionsFromRequest reads batching options from tool arguments. Range
// checks beyond the wire type are left to the batching core.
func optionsFromRequest(request mcp.CallToolRequest) (types.BatchingOptions, error) {
	mode, err := types.ParseMode(request.GetString(argMode, ""))
	if err != nil {
		return types.BatchingOptions{}, err
	}

	size, err := request.RequireInt(argSize)
	if err != nil {
		return types.BatchingOptions{}, err
	}

	opts := types.BatchingOptions{Mode: mode}
	if opts.Size, err = toUint32(argSize, size); err != nil {
		return types.BatchingOptions{}, err
	}
	if opts.MinInterval, err = toUint32(argMinInterval, request.GetInt(argMinInterval, 0)); err != nil {
		return types.BatchingOptions{}, err
	}
	if opts.MinDistance, err = toUint32(argMinDistance, request.GetInt(argMinDistance, 0)); err != nil {
		return types.BatchingOptions{}, err
	}
	return opts, nil
}

// sessionIDFromRequest reads the required session_id argument
func sessionIDFromRequest(request mcp.CallToolRequest) (uint32, error) {
	id, err := request.RequireInt(argSessionID)
	if err != nil {
		return 0, err
	}
	return toUint32(argSessionID, id)
}

func toUint32(name string, v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%s out of range: %d", name, v)
	}
	return uint32(v), nil
}
