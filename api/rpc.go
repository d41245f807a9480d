package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/quarry/api/tools"
)

const (
	jsonRPCVersion = "2.0"

	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response. Exactly one of Result and Error
// is set.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallParams are the params of tools/call.
type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolList is the result of tools/list.
type ToolList struct {
	Tools []tools.Tool `json:"tools"`
}

var nullID = json.RawMessage("null")

// parseRPC decodes and checks the envelope. On failure it returns the error
// response to send.
func parseRPC(body []byte) (*RPCRequest, *RPCResponse) {
	var req RPCRequest
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, rpcFailure(nullID, CodeInvalidRequest, "batch requests are not supported")
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, rpcFailure(nullID, CodeParseError, "parse error: "+err.Error())
	}

	id := req.ID
	if len(id) == 0 {
		id = nullID
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		return nil, rpcFailure(id, CodeInvalidRequest, "invalid request")
	}
	req.ID = id
	return &req, nil
}

func parseCallParams(req *RPCRequest) (*CallParams, *RPCResponse) {
	var params CallParams
	if len(req.Params) == 0 {
		return nil, rpcFailure(req.ID, CodeInvalidParams, "params are required")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, rpcFailure(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if params.Name == "" {
		return nil, rpcFailure(req.ID, CodeInvalidParams, "tool name is required")
	}
	return &params, nil
}

func rpcFailure(id json.RawMessage, code int, msg string) *RPCResponse {
	return &RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func rpcResult(id json.RawMessage, result any) *RPCResponse {
	return &RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
}

// handleRPC serves tools/list and tools/call. Protocol and tool errors are
// reported in the envelope with HTTP 200.
func (s *Server) handleRPC(c *fiber.Ctx) error {
	req, failure := parseRPC(c.Body())
	if failure != nil {
		return c.JSON(failure)
	}

	switch req.Method {
	case MethodToolsList:
		return c.JSON(rpcResult(req.ID, ToolList{Tools: s.config.Dispatcher.Tools()}))

	case MethodToolsCall:
		params, failure := parseCallParams(req)
		if failure != nil {
			return c.JSON(failure)
		}

		out, err := s.config.Dispatcher.Call(c.UserContext(), params.Name, params.Arguments)
		if err != nil {
			code := rpcCode(err)
			if code == CodeInternalError || code == CodeStorageError {
				s.logger.Error("tool call failed", "tool", params.Name, "error", err)
			}
			return c.JSON(rpcFailure(req.ID, code, err.Error()))
		}
		return c.JSON(rpcResult(req.ID, out))

	default:
		return c.JSON(rpcFailure(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
	}
}
