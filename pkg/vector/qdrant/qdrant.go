// Package qdrant provides a vector.Store that keeps documents and chunks in
// a metadata store and delegates similarity search to a Qdrant collection.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/quarry/pkg/vector"
)

const (
	DefaultPort       = 6334
	DefaultCollection = "quarry_chunks"

	payloadDocumentID   = "document_id"
	payloadChunkIndex   = "chunk_index"
	payloadContent      = "content"
	payloadDocumentName = "document_name"
)

// Config holds configuration for the Qdrant store.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// Dimensions is the size of the collection vectors. Required.
	Dimensions uint
}

// Store implements vector.Store. The embedded metadata store is the system
// of record; Qdrant holds one point per chunk keyed by chunk id.
type Store struct {
	vector.Store

	client     *qdrant.Client
	collection string
	dimensions int
	logger     *slog.Logger
}

// NewStore connects to Qdrant, creates the collection when missing and wraps
// meta.
func NewStore(ctx context.Context, c Config, meta vector.Store, logger *slog.Logger) (*Store, error) {
	if meta == nil {
		return nil, errors.New("qdrant store requires a metadata store")
	}
	if c.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &Store{
		Store:      meta,
		client:     client,
		collection: c.Collection,
		dimensions: int(c.Dimensions),
		logger:     logger,
	}

	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		"host", c.Host,
		"port", c.Port,
		"collection", c.Collection,
		"dimensions", c.Dimensions,
	)
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking qdrant collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating qdrant collection %s: %w", s.collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      payloadDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", payloadDocumentID, err)
	}
	return nil
}

func (s *Store) checkDimensions(v []float32) error {
	if len(v) != s.dimensions {
		return fmt.Errorf("%w: expected %d dimensions, got %d", vector.ErrInvalidArgument, s.dimensions, len(v))
	}
	return nil
}

// SaveChunk writes the chunk record, then upserts its point. When the
// upsert fails the record's embedding is cleared so the chunk is never
// half indexed.
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

	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(uint64(chunkID)),
				Vectors: qdrant.NewVectors(embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					payloadDocumentID:   documentID,
					payloadChunkIndex:   int64(index),
					payloadContent:      content,
					payloadDocumentName: doc.Filename,
				}),
			},
		},
	})
	if err != nil {
		if _, cerr := s.Store.SaveChunk(ctx, documentID, index, content, nil); cerr != nil {
			s.logger.Error("clearing chunk after failed upsert",
				"chunk_id", chunkID,
				"error", cerr,
			)
		}
		return 0, vector.StorageError(fmt.Sprintf("upserting point for chunk %d", chunkID), err)
	}

	return chunkID, nil
}

// DeleteDocument removes the record and every point of the document.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	if err := s.Store.DeleteDocument(ctx, id); err != nil {
		return err
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt(payloadDocumentID, id)},
		}),
	})
	if err != nil {
		return vector.StorageError(fmt.Sprintf("deleting points of document %d", id), err)
	}
	return nil
}

// TruncateChunks removes the records and points of chunks at index keep
// and above.
func (s *Store) TruncateChunks(ctx context.Context, documentID int64, keep int) error {
	if err := s.Store.TruncateChunks(ctx, documentID, keep); err != nil {
		return err
	}

	wait := true
	from := float64(keep)
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt(payloadDocumentID, documentID),
				qdrant.NewRange(payloadChunkIndex, &qdrant.Range{Gte: &from}),
			},
		}),
	})
	if err != nil {
		return vector.StorageError(fmt.Sprintf("deleting stale points of document %d", documentID), err)
	}
	return nil
}

// Search queries the collection with the score threshold and document
// filter applied server side. Twice the limit is fetched so ties at the cut
// are resolved by chunk id like every other driver.
func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.SearchResult, error) {
	if err := vector.ValidateQuery(q); err != nil {
		return nil, err
	}
	if err := s.checkDimensions(q.Vector); err != nil {
		return nil, err
	}

	limit := uint64(q.Limit * 2)
	// The server sees the raw score, so its cut is loosened by the
	// tolerance and the clamped score is checked below.
	threshold := float32(max(q.Threshold-vector.ScoreTolerance, 0))
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(q.DocumentIDs) > 0 {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInts(payloadDocumentID, q.DocumentIDs...)},
		}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, vector.StorageError("querying qdrant", err)
	}

	results := make([]vector.SearchResult, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		score := vector.ClampScore(float64(p.GetScore()))
		if score < q.Threshold {
			continue
		}
		results = append(results, vector.SearchResult{
			ChunkID:      int64(p.GetId().GetNum()),
			DocumentID:   payload[payloadDocumentID].GetIntegerValue(),
			DocumentName: payload[payloadDocumentName].GetStringValue(),
			Content:      payload[payloadContent].GetStringValue(),
			Score:        score,
			ChunkIndex:   int(payload[payloadChunkIndex].GetIntegerValue()),
		})
	}

	s.logger.Debug("queried qdrant", "results", len(results), "limit", q.Limit)

	return vector.Finalize(results, q.Limit), nil
}

// Close closes the Qdrant connection and the metadata store.
func (s *Store) Close() error {
	return errors.Join(s.client.Close(), s.Store.Close())
}

var _ vector.Store = (*Store)(nil)
