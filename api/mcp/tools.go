package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/quarry/api/tools"
)

// ToolError is the body of a failed tool call.
type ToolError struct {
	Error   string `json:"error"`
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
}

// handleTool forwards a call to the dispatcher. Tool failures are reported
// in the result with IsError set rather than as protocol errors.
func (s *Server) handleTool(name tools.ToolName) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := s.config.Logger

		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}

		logger.Debug("MCP tool call", "tool", name)

		out, err := s.config.Dispatcher.Call(ctx, string(name), args)
		if err != nil {
			logger.Warn("MCP tool call failed", "tool", name, "error", err)
			return errorResult(name, err), nil
		}

		// Structured output is also serialized into a text block for clients
		// that only read content.
		body, err := json.Marshal(out)
		if err != nil {
			return errorResult(name, fmt.Errorf("serializing result: %w", err)), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: string(body)},
			},
			StructuredContent: json.RawMessage(body),
		}, nil
	}
}

func errorResult(name tools.ToolName, err error) *mcp.CallToolResult {
	body, _ := json.Marshal(ToolError{Error: err.Error(), Tool: string(name)})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(body)},
		},
	}
}
