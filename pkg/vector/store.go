// Package vector provides the document and chunk store contract shared by
// the vectorization pipeline and the retrieval engine, together with the
// query validation and cosine ranking every driver applies.
package vector

import (
	"context"
	"time"
)

const (
	// MinLimit and MaxLimit bound the number of results a search may request.
	MinLimit = 1
	MaxLimit = 50
)

// DocumentStatus is the vectorization state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// DocumentMeta is what a caller hands the store when a document is accepted.
type DocumentMeta struct {
	Filename string
	FileType string
	Content  string
	Metadata map[string]string
}

// Document is a stored document. Size is the byte length of Content.
type Document struct {
	ID         int64             `json:"document_id"`
	Filename   string            `json:"filename"`
	FileType   string            `json:"file_type"`
	Size       int64             `json:"size"`
	Status     DocumentStatus    `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Content    string            `json:"content,omitempty"`
	ChunkCount int               `json:"chunk_count"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Chunk is a contiguous fragment of a document and its embedding.
type Chunk struct {
	ID         int64     `json:"chunk_id"`
	DocumentID int64     `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchResult is a chunk that scored at or above the query threshold.
type SearchResult struct {
	ChunkID      int64   `json:"chunk_id"`
	DocumentID   int64   `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Content      string  `json:"content"`
	Score        float64 `json:"similarity_score"`
	ChunkIndex   int     `json:"chunk_index"`
}

// Query describes a similarity search. An empty DocumentIDs searches every
// document.
type Query struct {
	Vector      []float32
	Limit       int
	Threshold   float64
	DocumentIDs []int64
}

// Stats summarises the store contents.
type Stats struct {
	TotalDocuments int            `json:"total_documents"`
	TotalChunks    int            `json:"total_chunks"`
	FileTypes      map[string]int `json:"file_types"`
}

// Store persists documents and chunks and answers similarity searches.
// Implementations are safe for concurrent use.
type Store interface {
	// SaveDocument stores a new document with status pending and returns its ID.
	SaveDocument(ctx context.Context, meta DocumentMeta) (int64, error)

	// SetDocumentStatus updates the vectorization status of a document.
	SetDocumentStatus(ctx context.Context, id int64, status DocumentStatus) error

	// GetDocument returns ErrNotFound when the document does not exist.
	GetDocument(ctx context.Context, id int64) (*Document, error)

	// ListDocuments returns every document, newest first, without content.
	ListDocuments(ctx context.Context) ([]Document, error)

	// DeleteDocument removes a document and all of its chunks.
	DeleteDocument(ctx context.Context, id int64) error

	// SaveChunk stores a chunk and its embedding atomically. Saving the same
	// (documentID, index) again replaces the content and embedding.
	SaveChunk(ctx context.Context, documentID int64, index int, content string, embedding []float32) (int64, error)

	// TruncateChunks removes the chunks of a document whose index is keep
	// or higher.
	TruncateChunks(ctx context.Context, documentID int64, keep int) error

	// GetChunks returns the chunks of a document ordered by index.
	GetChunks(ctx context.Context, documentID int64) ([]Chunk, error)

	// Search ranks chunks by cosine similarity to the query vector.
	Search(ctx context.Context, q Query) ([]SearchResult, error)

	// Stats returns document and chunk counts.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
