// Package tools is the closed registry of RPC tools. Every tool is bound at
// NewDispatcher time to a JSON schema and a handler; arguments are validated
// against the schema before the handler runs.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/vector"
)

var (
	// ErrToolNotFound is returned for names outside the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams is returned when arguments fail schema validation or
	// the tool is called on the wrong transport.
	ErrInvalidParams = errors.New("invalid params")
)

// ToolName identifies a registered tool.
type ToolName string

const (
	RAGSearch        ToolName = "rag_search"
	ListDocuments    ToolName = "list_documents"
	GetDocument      ToolName = "get_document"
	SearchStatistics ToolName = "search_statistics"
	RAGQueryStream   ToolName = "rag_query_stream"
)

// Names lists every tool in registration order.
var Names = []ToolName{RAGSearch, ListDocuments, GetDocument, SearchStatistics, RAGQueryStream}

// ParseToolName returns the ToolName for s.
func ParseToolName(s string) (ToolName, error) {
	for _, n := range Names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrToolNotFound, s)
}

// Streaming reports whether the tool is only served over the stream
// transport.
func (n ToolName) Streaming() bool {
	return n == RAGQueryStream
}

// Retriever is the read side the tools are served from.
type Retriever interface {
	Search(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
	ListDocuments(ctx context.Context) ([]vector.Document, error)
	GetDocument(ctx context.Context, id int64) (*retrieval.DocumentDetail, error)
	Statistics(ctx context.Context) (*retrieval.Statistics, error)
	Defaults() (limit int, threshold float64)
}

// Tool describes a registered tool as listed to clients.
type Tool struct {
	Name        ToolName           `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
	Streaming   bool               `json:"streaming,omitempty"`
}

type binding struct {
	tool     Tool
	resolved *jsonschema.Resolved
	call     func(ctx context.Context, args json.RawMessage) (any, error)
}

// Dispatcher validates tool arguments and routes calls to their handlers.
type Dispatcher struct {
	retriever Retriever
	logger    *slog.Logger
	bindings  map[ToolName]*binding
}

// NewDispatcher binds every tool to its schema and handler.
func NewDispatcher(retriever Retriever, logger *slog.Logger) (*Dispatcher, error) {
	if retriever == nil {
		return nil, errors.New("dispatcher requires a retriever")
	}

	d := &Dispatcher{
		retriever: retriever,
		logger:    logger,
		bindings:  make(map[ToolName]*binding, len(Names)),
	}

	limit, threshold := retriever.Defaults()
	handlers := map[ToolName]func(ctx context.Context, args json.RawMessage) (any, error){
		RAGSearch:        d.ragSearch,
		ListDocuments:    d.listDocuments,
		GetDocument:      d.getDocument,
		SearchStatistics: d.searchStatistics,
		RAGQueryStream:   nil,
	}

	for _, name := range Names {
		schema := inputSchema(name, limit, threshold)
		resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, fmt.Errorf("resolving schema for %s: %w", name, err)
		}
		d.bindings[name] = &binding{
			tool: Tool{
				Name:        name,
				Description: descriptions[name],
				InputSchema: schema,
				Streaming:   name.Streaming(),
			},
			resolved: resolved,
			call:     handlers[name],
		}
	}

	return d, nil
}

// Tools returns the registered tools in registration order.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(Names))
	for _, name := range Names {
		out = append(out, d.bindings[name].tool)
	}
	return out
}

// Call validates args and invokes a non-streaming tool.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	b, args, err := d.prepare(name, args)
	if err != nil {
		return nil, err
	}
	if b.tool.Streaming {
		return nil, fmt.Errorf("%w: %s requires the stream transport", ErrInvalidParams, name)
	}

	d.logger.Debug("tool call", "tool", name)
	result, err := b.call(ctx, args)
	if err != nil {
		d.logger.Warn("tool call failed", "tool", name, "error", err)
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

// prepare resolves the tool and validates args against its schema. Empty
// args are treated as an empty object.
func (d *Dispatcher) prepare(name string, args json.RawMessage) (*binding, json.RawMessage, error) {
	toolName, err := ParseToolName(name)
	if err != nil {
		return nil, nil, err
	}
	b := d.bindings[toolName]

	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return nil, nil, fmt.Errorf("%w: arguments are not valid JSON: %w", ErrInvalidParams, err)
	}
	if err := b.resolved.Validate(instance); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return b, args, nil
}

func decode[T any](args json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return v, nil
}
