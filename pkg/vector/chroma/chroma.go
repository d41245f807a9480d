// Package chroma provides a vector.Store that keeps documents and chunks in
// a metadata store and delegates similarity search to a Chroma collection
// over its REST API.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/papercomputeco/quarry/pkg/utils"
	"github.com/papercomputeco/quarry/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for quarry chunks.
	DefaultCollectionName = "quarry_chunks"

	DefaultMaxRetries    = 5
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxRetryDelay = 5 * time.Second

	collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

	metaDocumentID   = "document_id"
	metaChunkIndex   = "chunk_index"
	metaDocumentName = "document_name"
)

// Config holds configuration for the Chroma store.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string

	// Dimensions is the size of the stored vectors. Required.
	Dimensions uint

	// MaxRetries bounds the attempts to reach Chroma at startup.
	MaxRetries int

	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Store implements vector.Store. The embedded metadata store is the system
// of record; Chroma holds one record per chunk keyed by chunk id.
type Store struct {
	vector.Store

	baseURL      string
	collectionID string
	dimensions   int
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewStore connects to Chroma, retrying while the server starts, and wraps
// meta.
func NewStore(ctx context.Context, c Config, meta vector.Store, logger *slog.Logger) (*Store, error) {
	if meta == nil {
		return nil, errors.New("chroma store requires a metadata store")
	}
	if c.URL == "" {
		return nil, errors.New("chroma URL is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("chroma embedding dimensions cannot be 0, must be configured")
	}
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}

	s := &Store{
		Store:      meta,
		baseURL:    c.URL,
		dimensions: int(c.Dimensions),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}

	delay := c.RetryDelay
	var err error
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		s.collectionID, err = s.getOrCreateCollection(ctx, c.CollectionName)
		if err == nil {
			break
		}
		if attempt == c.MaxRetries {
			return nil, fmt.Errorf("connecting to chroma after %d attempts: %w", attempt, err)
		}

		logger.Warn("chroma not ready, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.MaxRetryDelay)
	}

	logger.Info("connected to chroma",
		"url", c.URL,
		"collection", c.CollectionName,
		"collection_id", s.collectionID,
	)
	return s, nil
}

// getOrCreateCollection returns the id of the named collection, creating it
// with cosine distance when missing.
func (s *Store) getOrCreateCollection(ctx context.Context, name string) (string, error) {
	var collection chromaCollection

	err := s.do(ctx, http.MethodGet, collectionsPath+"/"+name, nil, &collection)
	if err == nil {
		return collection.ID, nil
	}

	err = s.do(ctx, http.MethodPost, collectionsPath, chromaCreateRequest{
		Name:        name,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}, &collection)
	if err != nil {
		return "", fmt.Errorf("creating collection %q: %w", name, err)
	}
	return collection.ID, nil
}

func (s *Store) collectionPath(op string) string {
	return collectionsPath + "/" + s.collectionID + "/" + op
}

func (s *Store) checkDimensions(v []float32) error {
	if len(v) != s.dimensions {
		return fmt.Errorf("%w: expected %d dimensions, got %d", vector.ErrInvalidArgument, s.dimensions, len(v))
	}
	return nil
}

// SaveChunk writes the chunk record, then upserts it into the collection.
// When the upsert fails the record's embedding is cleared so the chunk is
// never half indexed.
func (s *Store) SaveChunk(ctx context.Context, documentID int64, index int, content string, embedding []float32) (int64, error) {
	if err := s.checkDimensions(embedding); err != nil {
		return 0, err
	}

	doc, err := s.Store.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	chunkID, err := s.Store.SaveChunk(ctx, documentID, index, content, embedding)
	if err != nil {
		return 0, err
	}

	err = s.do(ctx, http.MethodPost, s.collectionPath("upsert"), chromaUpsertRequest{
		IDs:        []string{strconv.FormatInt(chunkID, 10)},
		Embeddings: [][]float32{embedding},
		Metadatas: []map[string]any{{
			metaDocumentID:   documentID,
			metaChunkIndex:   index,
			metaDocumentName: doc.Filename,
		}},
		Documents: []string{content},
	}, nil)
	if err != nil {
		if _, cerr := s.Store.SaveChunk(ctx, documentID, index, content, nil); cerr != nil {
			s.logger.Error("clearing chunk after failed upsert",
				"chunk_id", chunkID,
				"error", cerr,
			)
		}
		return 0, vector.StorageError(fmt.Sprintf("upserting chunk %d into chroma", chunkID), err)
	}

	return chunkID, nil
}

// DeleteDocument removes the record and every chunk of the document from
// the collection.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	if err := s.Store.DeleteDocument(ctx, id); err != nil {
		return err
	}

	err := s.do(ctx, http.MethodPost, s.collectionPath("delete"), chromaDeleteRequest{
		Where: map[string]any{metaDocumentID: id},
	}, nil)
	if err != nil {
		return vector.StorageError(fmt.Sprintf("deleting chunks of document %d from chroma", id), err)
	}
	return nil
}

// TruncateChunks removes the records and collection entries of chunks at
// index keep and above.
func (s *Store) TruncateChunks(ctx context.Context, documentID int64, keep int) error {
	if err := s.Store.TruncateChunks(ctx, documentID, keep); err != nil {
		return err
	}

	err := s.do(ctx, http.MethodPost, s.collectionPath("delete"), chromaDeleteRequest{
		Where: map[string]any{"$and": []map[string]any{
			{metaDocumentID: documentID},
			{metaChunkIndex: map[string]any{"$gte": keep}},
		}},
	}, nil)
	if err != nil {
		return vector.StorageError(fmt.Sprintf("deleting stale chunks of document %d from chroma", documentID), err)
	}
	return nil
}

// Search queries the collection with the document filter applied server
// side. Chroma reports cosine distance, which is converted back to
// similarity before the threshold is applied. Twice the limit is fetched so
// ties at the cut are resolved by chunk id like every other driver.
func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.SearchResult, error) {
	if err := vector.ValidateQuery(q); err != nil {
		return nil, err
	}
	if err := s.checkDimensions(q.Vector); err != nil {
		return nil, err
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{q.Vector},
		NResults:        q.Limit * 2,
		Include:         []string{"metadatas", "documents", "distances"},
	}
	switch len(q.DocumentIDs) {
	case 0:
	case 1:
		req.Where = map[string]any{metaDocumentID: q.DocumentIDs[0]}
	default:
		req.Where = map[string]any{metaDocumentID: map[string]any{"$in": q.DocumentIDs}}
	}

	var resp chromaQueryResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("query"), req, &resp); err != nil {
		return nil, vector.StorageError("querying chroma", err)
	}
	if len(resp.IDs) == 0 {
		return []vector.SearchResult{}, nil
	}

	ids := resp.IDs[0]
	results := make([]vector.SearchResult, 0, len(ids))
	for i, rawID := range ids {
		chunkID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			s.logger.Warn("skipping chroma record with foreign id", "id", rawID)
			continue
		}

		score := 0.0
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			score = vector.ClampScore(1 - resp.Distances[0][i])
		}
		if score < q.Threshold {
			continue
		}

		r := vector.SearchResult{ChunkID: chunkID, Score: score}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			meta := resp.Metadatas[0][i]
			r.DocumentID = int64(number(meta[metaDocumentID]))
			r.ChunkIndex = int(number(meta[metaChunkIndex]))
			r.DocumentName, _ = meta[metaDocumentName].(string)
		}
		results = append(results, r)
	}

	s.logger.Debug("queried chroma", "results", len(results), "limit", q.Limit)

	return vector.Finalize(results, q.Limit), nil
}

// do sends a JSON request to Chroma and decodes the response into out when
// out is non-nil.
func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", utils.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// number reads a JSON number from decoded metadata.
func number(v any) float64 {
	f, _ := v.(float64)
	return f
}

var _ vector.Store = (*Store)(nil)
