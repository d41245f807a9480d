// Package ingest accepts raw documents, chunks them and hands them to the
// vectorization scheduler. It also provides a folder watcher that reports
// new and modified text files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/quarry/pkg/chunker"
	"github.com/papercomputeco/quarry/pkg/vector"
)

var (
	// ErrMissingFilename is returned when a document has no name.
	ErrMissingFilename = errors.New("document filename is required")

	// ErrUnsupportedContent is returned for content that is not UTF-8 text.
	ErrUnsupportedContent = errors.New("document content is not UTF-8 text")

	// ErrBlankChunk is returned when an explicit chunk list holds a chunk
	// with no text to embed.
	ErrBlankChunk = errors.New("chunk has no text")
)

// TextExtensions are the file extensions read as plain text.
var TextExtensions = []string{".txt", ".md", ".markdown", ".rst", ".csv", ".json", ".log", ".html", ".xml", ".yaml", ".yml"}

// Submitter queues a vectorization task for a stored document.
type Submitter interface {
	Submit(documentID int64, chunks []string) (string, error)
}

// Config holds the chunking parameters.
type Config struct {
	MaxChunkSize int
	Overlap      int
}

// Document is a raw document handed to the Ingestor.
type Document struct {
	Filename string            `json:"filename"`
	FileType string            `json:"file_type,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result identifies the stored document and its vectorization task.
type Result struct {
	DocumentID  int64  `json:"document_id"`
	TaskID      string `json:"task_id"`
	ChunksTotal int    `json:"chunks_total"`
}

// Ingestor stores documents and submits their chunks for vectorization.
type Ingestor struct {
	chunker   *chunker.Chunker
	store     vector.Store
	submitter Submitter
	logger    *slog.Logger
}

// New creates an Ingestor. A zero MaxChunkSize takes the chunker defaults
// for both size and overlap.
func New(c Config, store vector.Store, submitter Submitter, logger *slog.Logger) (*Ingestor, error) {
	if store == nil || submitter == nil {
		return nil, errors.New("ingestor requires a store and a submitter")
	}

	var opts []chunker.Option
	if c.MaxChunkSize > 0 {
		opts = append(opts, chunker.WithMaxChunkSize(c.MaxChunkSize), chunker.WithOverlap(c.Overlap))
	}
	ch, err := chunker.New(opts...)
	if err != nil {
		return nil, err
	}

	return &Ingestor{
		chunker:   ch,
		store:     store,
		submitter: submitter,
		logger:    logger,
	}, nil
}

// Ingest stores doc and queues its vectorization. When the task cannot be
// queued the document is marked failed and the error returned.
func (i *Ingestor) Ingest(ctx context.Context, doc Document) (*Result, error) {
	if strings.TrimSpace(doc.Filename) == "" {
		return nil, ErrMissingFilename
	}
	if !utf8.ValidString(doc.Content) {
		return nil, ErrUnsupportedContent
	}
	if doc.FileType == "" {
		doc.FileType = FileType(doc.Filename)
	}

	id, err := i.store.SaveDocument(ctx, vector.DocumentMeta{
		Filename: doc.Filename,
		FileType: doc.FileType,
		Content:  doc.Content,
		Metadata: doc.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("saving document %s: %w", doc.Filename, err)
	}

	chunks := i.chunker.Chunk(doc.Content)
	taskID, err := i.submitter.Submit(id, chunks)
	if err != nil {
		if serr := i.store.SetDocumentStatus(ctx, id, vector.StatusFailed); serr != nil {
			i.logger.Warn("marking document failed", "document_id", id, "error", serr)
		}
		return nil, fmt.Errorf("queueing document %d: %w", id, err)
	}

	i.logger.Info("document ingested",
		"document_id", id,
		"filename", doc.Filename,
		"task_id", taskID,
		"chunks", len(chunks),
	)
	return &Result{DocumentID: id, TaskID: taskID, ChunksTotal: len(chunks)}, nil
}

// Vectorize queues a new task for an existing document. Explicit chunks are
// used as given; otherwise text, or the stored content when text is empty,
// is chunked.
func (i *Ingestor) Vectorize(ctx context.Context, documentID int64, text string, chunks []string) (*Result, error) {
	for n, c := range chunks {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("chunk %d: %w", n, ErrBlankChunk)
		}
		if !utf8.ValidString(c) {
			return nil, fmt.Errorf("chunk %d: %w", n, ErrUnsupportedContent)
		}
	}

	doc, err := i.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		if text == "" {
			text = doc.Content
		}
		chunks = i.chunker.Chunk(text)
	}

	taskID, err := i.submitter.Submit(documentID, chunks)
	if err != nil {
		return nil, fmt.Errorf("queueing document %d: %w", documentID, err)
	}
	return &Result{DocumentID: documentID, TaskID: taskID, ChunksTotal: len(chunks)}, nil
}

// ReadFile loads a text file as a Document named after its base name.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return Document{}, fmt.Errorf("%s: %w", path, ErrUnsupportedContent)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	name := filepath.Base(path)
	return Document{
		Filename: name,
		FileType: FileType(name),
		Content:  string(data),
		Metadata: map[string]string{"source_path": abs},
	}, nil
}

// FileType derives a file type from the extension, defaulting to "txt".
func FileType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "txt"
	}
	return ext
}

// IsText reports whether path has one of the TextExtensions.
func IsText(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range TextExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
