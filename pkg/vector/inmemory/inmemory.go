// Package inmemory provides a map backed vector.Store with brute force
// cosine search.
package inmemory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/quarry/pkg/vector"
)

type chunkKey struct {
	documentID int64
	index      int
}

// Store implements vector.Store using in-memory maps.
type Store struct {
	// mu guards every map below
	mu sync.RWMutex

	documents map[int64]*vector.Document
	chunks    map[int64]*vector.Chunk
	byIndex   map[chunkKey]int64

	nextDocumentID int64
	nextChunkID    int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		documents: make(map[int64]*vector.Document),
		chunks:    make(map[int64]*vector.Chunk),
		byIndex:   make(map[chunkKey]int64),
	}
}

func (s *Store) SaveDocument(_ context.Context, meta vector.DocumentMeta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDocumentID++
	doc := &vector.Document{
		ID:        s.nextDocumentID,
		Filename:  meta.Filename,
		FileType:  meta.FileType,
		Size:      int64(len(meta.Content)),
		Status:    vector.StatusPending,
		Metadata:  maps.Clone(meta.Metadata),
		Content:   meta.Content,
		CreatedAt: time.Now(),
	}
	s.documents[doc.ID] = doc
	return doc.ID, nil
}

func (s *Store) SetDocumentStatus(_ context.Context, id int64, status vector.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return vector.NotFound(id)
	}
	doc.Status = status
	return nil
}

func (s *Store) GetDocument(_ context.Context, id int64) (*vector.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, vector.NotFound(id)
	}

	out := *doc
	out.Metadata = maps.Clone(doc.Metadata)
	out.ChunkCount = s.chunkCountLocked(id)
	return &out, nil
}

func (s *Store) ListDocuments(_ context.Context) ([]vector.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int, len(s.documents))
	for _, c := range s.chunks {
		counts[c.DocumentID]++
	}

	docs := make([]vector.Document, 0, len(s.documents))
	for _, d := range s.documents {
		out := *d
		out.Content = ""
		out.Metadata = maps.Clone(d.Metadata)
		out.ChunkCount = counts[d.ID]
		docs = append(docs, out)
	}

	slices.SortFunc(docs, func(a, b vector.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return docs, nil
}

func (s *Store) DeleteDocument(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return vector.NotFound(id)
	}
	delete(s.documents, id)

	for chunkID, c := range s.chunks {
		if c.DocumentID == id {
			delete(s.chunks, chunkID)
			delete(s.byIndex, chunkKey{documentID: id, index: c.Index})
		}
	}
	return nil
}

func (s *Store) SaveChunk(_ context.Context, documentID int64, index int, content string, embedding []float32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[documentID]; !ok {
		return 0, vector.NotFound(documentID)
	}

	key := chunkKey{documentID: documentID, index: index}
	if id, ok := s.byIndex[key]; ok {
		c := s.chunks[id]
		c.Content = content
		c.Embedding = slices.Clone(embedding)
		return id, nil
	}

	s.nextChunkID++
	c := &vector.Chunk{
		ID:         s.nextChunkID,
		DocumentID: documentID,
		Index:      index,
		Content:    content,
		Embedding:  slices.Clone(embedding),
		CreatedAt:  time.Now(),
	}
	s.chunks[c.ID] = c
	s.byIndex[key] = c.ID
	return c.ID, nil
}

func (s *Store) TruncateChunks(_ context.Context, documentID int64, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[documentID]; !ok {
		return vector.NotFound(documentID)
	}

	for chunkID, c := range s.chunks {
		if c.DocumentID == documentID && c.Index >= keep {
			delete(s.chunks, chunkID)
			delete(s.byIndex, chunkKey{documentID: documentID, index: c.Index})
		}
	}
	return nil
}

func (s *Store) GetChunks(_ context.Context, documentID int64) ([]vector.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, vector.NotFound(documentID)
	}

	var out []vector.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			cp := *c
			cp.Embedding = slices.Clone(c.Embedding)
			out = append(out, cp)
		}
	}
	slices.SortFunc(out, func(a, b vector.Chunk) int { return cmp.Compare(a.Index, b.Index) })
	return out, nil
}

func (s *Store) Search(_ context.Context, q vector.Query) ([]vector.SearchResult, error) {
	if err := vector.ValidateQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]vector.Candidate, 0, len(s.chunks))
	for _, c := range s.chunks {
		if !vector.FilterDocuments(q.DocumentIDs, c.DocumentID) {
			continue
		}
		var name string
		if d, ok := s.documents[c.DocumentID]; ok {
			name = d.Filename
		}
		candidates = append(candidates, vector.Candidate{Chunk: *c, DocumentName: name})
	}
	s.mu.RUnlock()

	return vector.Rank(q, candidates)
}

func (s *Store) Stats(_ context.Context) (vector.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := vector.Stats{
		TotalDocuments: len(s.documents),
		TotalChunks:    len(s.chunks),
		FileTypes:      make(map[string]int),
	}
	for _, d := range s.documents {
		stats.FileTypes[d.FileType]++
	}
	return stats, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) chunkCountLocked(documentID int64) int {
	n := 0
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n
}

var _ vector.Store = (*Store)(nil)
