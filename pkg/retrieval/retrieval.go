// Package retrieval provides semantic search over vectorized documents. It is
// used by the tool dispatcher, the REST search endpoint and the MCP server.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/vector"
)

const (
	DefaultLimit     = 5
	DefaultThreshold = 0.7
)

// ErrInvalidQuery is returned for an empty query text.
var ErrInvalidQuery = fmt.Errorf("%w: query must not be empty", vector.ErrInvalidArgument)

// Config holds the defaults applied when a request omits them.
type Config struct {
	DefaultLimit     int
	DefaultThreshold float64
}

// Request is a single search. Nil Limit and Threshold take the engine
// defaults.
type Request struct {
	Query       string
	Limit       *int
	Threshold   *float64
	DocumentIDs []int64
}

// Response carries the ranked results and the time spent producing them.
type Response struct {
	Results      []vector.SearchResult `json:"results"`
	TotalResults int                   `json:"total_results"`
	QueryTime    time.Duration         `json:"-"`
	QueryTimeMS  int64                 `json:"query_time_ms"`
	Query        string                `json:"query"`
	Limit        int                   `json:"limit"`
	Threshold    float64               `json:"threshold"`
}

// DocumentDetail is a document together with its ordered chunks.
type DocumentDetail struct {
	Document vector.Document `json:"document"`
	Chunks   []vector.Chunk  `json:"chunks"`
}

// Statistics summarises the indexed corpus and the search defaults.
type Statistics struct {
	TotalDocuments           int            `json:"total_documents"`
	TotalChunks              int            `json:"total_chunks"`
	FileTypes                map[string]int `json:"file_types"`
	AverageChunksPerDocument float64        `json:"average_chunks_per_document"`
	SimilarityThreshold      float64        `json:"similarity_threshold"`
	DefaultSearchLimit       int            `json:"default_search_limit"`
}

// Engine embeds queries and delegates ranking to the vector store. It never
// mutates stored state.
type Engine struct {
	config   Config
	embedder embeddings.Embedder
	store    vector.Store
	logger   *slog.Logger
}

// NewEngine creates an Engine. Zero defaults fall back to DefaultLimit and
// DefaultThreshold.
func NewEngine(c Config, embedder embeddings.Embedder, store vector.Store, logger *slog.Logger) (*Engine, error) {
	if embedder == nil || store == nil {
		return nil, errors.New("retrieval engine requires an embedder and a store")
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.DefaultThreshold == 0 {
		c.DefaultThreshold = DefaultThreshold
	}
	if err := vector.ValidateBounds(c.DefaultLimit, c.DefaultThreshold); err != nil {
		return nil, fmt.Errorf("invalid search defaults: %w", err)
	}

	return &Engine{
		config:   c,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}, nil
}

// Defaults returns the limit and threshold used for omitted parameters.
func (e *Engine) Defaults() (int, float64) {
	return e.config.DefaultLimit, e.config.DefaultThreshold
}

// Search embeds the query and returns the chunks scoring at or above the
// threshold, best first.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	limit := e.config.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	threshold := e.config.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if err := vector.ValidateBounds(limit, threshold); err != nil {
		return nil, err
	}

	e.logger.Debug("search request",
		"query", query,
		"limit", limit,
		"threshold", threshold,
		"document_ids", req.DocumentIDs,
	)

	queryEmbedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := e.store.Search(ctx, vector.Query{
		Vector:      queryEmbedding,
		Limit:       limit,
		Threshold:   threshold,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("searching vector store: %w", err)
	}
	if results == nil {
		results = []vector.SearchResult{}
	}

	resp := &Response{
		Results:      results,
		TotalResults: len(results),
		Query:        req.Query,
		Limit:        limit,
		Threshold:    threshold,
	}
	resp.QueryTime = time.Since(start)
	resp.QueryTimeMS = resp.QueryTime.Milliseconds()

	e.logger.Debug("search completed",
		"results", resp.TotalResults,
		"query_time", resp.QueryTime,
	)
	return resp, nil
}

// ListDocuments returns every document, newest first.
func (e *Engine) ListDocuments(ctx context.Context) ([]vector.Document, error) {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if docs == nil {
		docs = []vector.Document{}
	}
	return docs, nil
}

// GetDocument returns a document and its chunks ordered by index.
func (e *Engine) GetDocument(ctx context.Context, id int64) (*DocumentDetail, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := e.store.GetChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for document %d: %w", id, err)
	}
	if chunks == nil {
		chunks = []vector.Chunk{}
	}
	doc.ChunkCount = len(chunks)

	return &DocumentDetail{Document: *doc, Chunks: chunks}, nil
}

// Statistics reports corpus counts and the active search defaults.
func (e *Engine) Statistics(ctx context.Context) (*Statistics, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading statistics: %w", err)
	}

	var avg float64
	if stats.TotalDocuments > 0 {
		avg = math.Round(float64(stats.TotalChunks)/float64(stats.TotalDocuments)*100) / 100
	}
	fileTypes := stats.FileTypes
	if fileTypes == nil {
		fileTypes = map[string]int{}
	}

	return &Statistics{
		TotalDocuments:           stats.TotalDocuments,
		TotalChunks:              stats.TotalChunks,
		FileTypes:                fileTypes,
		AverageChunksPerDocument: avg,
		SimilarityThreshold:      e.config.DefaultThreshold,
		DefaultSearchLimit:       e.config.DefaultLimit,
	}, nil
}
