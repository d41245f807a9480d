// Package mcp exposes the retrieval tools over the Model Context Protocol.
package mcp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/utils"
)

// ServerName is the implementation name reported to MCP clients.
const ServerName = "quarry"

type Config struct {
	// Dispatcher validates and runs tool calls.
	Dispatcher *tools.Dispatcher

	// Noop for an MCP server with no tools
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates an MCP server that registers every non-streaming tool
// of the dispatcher.
func NewServer(c Config) (*Server, error) {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	s := &Server{
		config:    c,
		mcpServer: mcpServer,
	}

	if !c.Noop {
		if c.Dispatcher == nil {
			return nil, errors.New("tool dispatcher is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		for _, tool := range c.Dispatcher.Tools() {
			if tool.Streaming {
				continue
			}
			mcpServer.AddTool(&mcp.Tool{
				Name:        string(tool.Name),
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			}, s.handleTool(tool.Name))
		}
	}

	// Stateless streamable HTTP handler
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
