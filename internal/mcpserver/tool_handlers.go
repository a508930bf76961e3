package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
	"github.com/mark3labs/mcp-go/mcp"
)

// CommandResult is the tool payload for a batching command
type CommandResult struct {
	SessionID uint32           `json:"session_id"`
	Code      string           `json:"code"`
	Message   string           `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
	Locations []types.Location `json:"locations,omitempty"`
}

// handleStart implements the batching.start tool
func (ms *MCPServer) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := ms.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts, err := optionsFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.logger.Info("Tool call",
		"tool", config.ToolStart,
		"client_id", client,
		"mode", opts.Mode.String(),
		"size", opts.Size,
		"distance", opts.MinDistance,
		"interval_ms", opts.MinInterval,
	)

	_, ch := ms.batching.StartBatching(client, opts)
	resp, err := ms.await(ctx, ch)
	return ms.commandResult(resp, err, config.MsgSessionStarted)
}

// handleUpdate implements the batching.update tool
func (ms *MCPServer) handleUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := ms.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := sessionIDFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts, err := optionsFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.logger.Info("Tool call",
		"tool", config.ToolUpdate,
		"client_id", client,
		"session_id", id,
		"mode", opts.Mode.String(),
	)

	resp, err := ms.await(ctx, ms.batching.UpdateBatchingOptions(client, id, opts))
	return ms.commandResult(resp, err, config.MsgSessionUpdated)
}

// handleStop implements the batching.stop tool
func (ms *MCPServer) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := ms.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := sessionIDFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.logger.Info("Tool call", "tool", config.ToolStop, "client_id", client, "session_id", id)

	resp, err := ms.await(ctx, ms.batching.StopBatching(client, id))
	return ms.commandResult(resp, err, config.MsgSessionStopped)
}

// handleGetLocations implements the batching.get_locations tool
func (ms *MCPServer) handleGetLocations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := ms.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := sessionIDFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	count, err := request.RequireInt(argCount)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.logger.Info("Tool call",
		"tool", config.ToolGetLocations,
		"client_id", client,
		"session_id", id,
		"count", count,
	)

	resp, err := ms.await(ctx, ms.batching.GetBatchedLocations(client, id, count))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := newCommandResult(resp)
	if resp.OK() {
		result.Message = fmt.Sprintf(config.MsgLocationsRetrieved, len(resp.Locations), resp.SessionID)
	}
	return toolResult(result, resp.OK())
}

// clientFor makes sure the calling MCP session is a batching client
func (ms *MCPServer) clientFor(ctx context.Context) (batching.ClientID, error) {
	sessionID := sessionIDFromContext(ctx)
	if err := ms.bridge.Attach(sessionID); err != nil {
		return "", fmt.Errorf(config.ErrClientRegistration, sessionID, err)
	}
	return batching.ClientID(sessionID), nil
}

// await waits for a command's single response
func (ms *MCPServer) await(ctx context.Context, ch <-chan batching.Response) (batching.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, ms.responseTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return batching.Response{}, fmt.Errorf("%s: %w", config.ErrEngineTimeout, ctx.Err())
	}
}

func (ms *MCPServer) commandResult(resp batching.Response, err error, successFormat string) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := newCommandResult(resp)
	if resp.OK() {
		result.Message = fmt.Sprintf(successFormat, resp.SessionID)
	}
	return toolResult(result, resp.OK())
}

func newCommandResult(resp batching.Response) CommandResult {
	result := CommandResult{
		SessionID: resp.SessionID,
		Code:      resp.Code.String(),
		Locations: resp.Locations,
	}
	if resp.Err != nil {
		result.Error = resp.Err.Error()
	}
	return result
}

// toolResult renders v as JSON, as an error result when ok is false
func toolResult(v any, ok bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
