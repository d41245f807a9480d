package tools

import (
	"context"
	"encoding/json"

	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/vector"
)

// SearchParams are the arguments of rag_search and rag_query_stream.
type SearchParams struct {
	Query       string   `json:"query"`
	Limit       *int     `json:"limit,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
	DocumentIDs []int64  `json:"document_ids,omitempty"`
}

func (p SearchParams) request() retrieval.Request {
	return retrieval.Request{
		Query:       p.Query,
		Limit:       p.Limit,
		Threshold:   p.Threshold,
		DocumentIDs: p.DocumentIDs,
	}
}

// GetDocumentParams are the arguments of get_document.
type GetDocumentParams struct {
	DocumentID int64 `json:"document_id"`
}

// DocumentList is the result of list_documents.
type DocumentList struct {
	Documents      []vector.Document `json:"documents"`
	TotalDocuments int               `json:"total_documents"`
}

func (d *Dispatcher) ragSearch(ctx context.Context, args json.RawMessage) (any, error) {
	params, err := decode[SearchParams](args)
	if err != nil {
		return nil, err
	}
	return d.retriever.Search(ctx, params.request())
}

func (d *Dispatcher) listDocuments(ctx context.Context, _ json.RawMessage) (any, error) {
	docs, err := d.retriever.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return &DocumentList{Documents: docs, TotalDocuments: len(docs)}, nil
}

func (d *Dispatcher) getDocument(ctx context.Context, args json.RawMessage) (any, error) {
	params, err := decode[GetDocumentParams](args)
	if err != nil {
		return nil, err
	}
	return d.retriever.GetDocument(ctx, params.DocumentID)
}

func (d *Dispatcher) searchStatistics(ctx context.Context, _ json.RawMessage) (any, error) {
	return d.retriever.Statistics(ctx)
}
