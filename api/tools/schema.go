package tools

import (
	"encoding/json"
	"strconv"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/papercomputeco/quarry/pkg/vector"
)

var descriptions = map[ToolName]string{
	RAGSearch:        "Search for relevant document chunks using semantic similarity",
	ListDocuments:    "List all available documents in the knowledge base",
	GetDocument:      "Get detailed information about a specific document",
	SearchStatistics: "Get search and document statistics",
	RAGQueryStream:   "Retrieve context for a query as a stream of status, documents, content and completed events",
}

// noAdditional is the false schema, so misspelled arguments fail validation
// instead of being ignored.
func noAdditional() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

func emptyObject() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           map[string]*jsonschema.Schema{},
		AdditionalProperties: noAdditional(),
	}
}

func querySchema(defaultLimit int, defaultThreshold float64) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type:        "string",
				Description: "The search query to find relevant documents",
				MinLength:   jsonschema.Ptr(1),
			},
			"limit": {
				Type:        "integer",
				Description: "Maximum number of results to return",
				Default:     json.RawMessage(strconv.Itoa(defaultLimit)),
				Minimum:     jsonschema.Ptr(float64(vector.MinLimit)),
				Maximum:     jsonschema.Ptr(float64(vector.MaxLimit)),
			},
			"threshold": {
				Type:        "number",
				Description: "Minimum similarity threshold for results",
				Default:     json.RawMessage(strconv.FormatFloat(defaultThreshold, 'f', -1, 64)),
				Minimum:     jsonschema.Ptr(0.0),
				Maximum:     jsonschema.Ptr(1.0),
			},
			"document_ids": {
				Type:        "array",
				Description: "Optional list of document IDs to limit search scope",
				Items:       &jsonschema.Schema{Type: "integer"},
			},
		},
		Required:             []string{"query"},
		AdditionalProperties: noAdditional(),
	}
}

func inputSchema(name ToolName, defaultLimit int, defaultThreshold float64) *jsonschema.Schema {
	switch name {
	case RAGSearch, RAGQueryStream:
		return querySchema(defaultLimit, defaultThreshold)
	case GetDocument:
		return &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"document_id": {
					Type:        "integer",
					Description: "The ID of the document to retrieve",
					Minimum:     jsonschema.Ptr(1.0),
				},
			},
			Required:             []string{"document_id"},
			AdditionalProperties: noAdditional(),
		}
	default:
		return emptyObject()
	}
}
