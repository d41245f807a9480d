package testutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/papercomputeco/quarry/pkg/vector"
)

// FaultyStore wraps a vector.Store and injects failures into chosen calls.
type FaultyStore struct {
	vector.Store

	// SaveChunkErr is returned by SaveChunk for the chunk index FailChunkIndex.
	SaveChunkErr   error
	FailChunkIndex int

	// TruncateErr, when set, is returned by every TruncateChunks.
	TruncateErr error

	// SearchErr, when set, is returned by every Search.
	SearchErr error

	// SaveChunkHook, when set, runs before every SaveChunk.
	SaveChunkHook func(documentID int64, index int)

	mu         sync.Mutex
	statuses   map[int64][]vector.DocumentStatus
	saveChunks atomic.Int64
}

// NewFaultyStore wraps inner without any failures configured.
func NewFaultyStore(inner vector.Store) *FaultyStore {
	return &FaultyStore{
		Store:          inner,
		FailChunkIndex: -1,
		statuses:       make(map[int64][]vector.DocumentStatus),
	}
}

func (f *FaultyStore) SaveChunk(ctx context.Context, documentID int64, index int, content string, embedding []float32) (int64, error) {
	f.saveChunks.Add(1)
	if f.SaveChunkHook != nil {
		f.SaveChunkHook(documentID, index)
	}
	if f.SaveChunkErr != nil && index == f.FailChunkIndex {
		return 0, vector.StorageError("save chunk", f.SaveChunkErr)
	}
	return f.Store.SaveChunk(ctx, documentID, index, content, embedding)
}

func (f *FaultyStore) TruncateChunks(ctx context.Context, documentID int64, keep int) error {
	if f.TruncateErr != nil {
		return vector.StorageError("truncate chunks", f.TruncateErr)
	}
	return f.Store.TruncateChunks(ctx, documentID, keep)
}

func (f *FaultyStore) Search(ctx context.Context, q vector.Query) ([]vector.SearchResult, error) {
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	return f.Store.Search(ctx, q)
}

func (f *FaultyStore) SetDocumentStatus(ctx context.Context, id int64, status vector.DocumentStatus) error {
	f.mu.Lock()
	f.statuses[id] = append(f.statuses[id], status)
	f.mu.Unlock()
	return f.Store.SetDocumentStatus(ctx, id, status)
}

// SaveChunkCalls returns the number of SaveChunk calls made so far.
func (f *FaultyStore) SaveChunkCalls() int64 {
	return f.saveChunks.Load()
}

// StatusHistory returns every status set on the document, in order.
func (f *FaultyStore) StatusHistory(id int64) []vector.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vector.DocumentStatus(nil), f.statuses[id]...)
}
