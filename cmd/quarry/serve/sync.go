package servecmder

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/vector"
)

// fileSync keeps one document per watched file. A changed file is ingested
// as a new document and the previous one is deleted.
type fileSync struct {
	ingestor *ingest.Ingestor
	store    vector.Store
	logger   *slog.Logger

	mu   sync.Mutex
	docs map[string]int64
}

func newFileSync(ingestor *ingest.Ingestor, store vector.Store, logger *slog.Logger) *fileSync {
	return &fileSync{
		ingestor: ingestor,
		store:    store,
		logger:   logger,
		docs:     make(map[string]int64),
	}
}

func (f *fileSync) handle(ctx context.Context, path string) error {
	doc, err := ingest.ReadFile(path)
	if err != nil {
		return err
	}

	res, err := f.ingestor.Ingest(ctx, doc)
	if err != nil {
		return err
	}

	f.mu.Lock()
	prev, ok := f.docs[path]
	f.docs[path] = res.DocumentID
	f.mu.Unlock()

	if ok {
		if err := f.store.DeleteDocument(ctx, prev); err != nil && !errors.Is(err, vector.ErrNotFound) {
			f.logger.Warn("removing replaced document", "document_id", prev, "path", path, "error", err)
		}
	}
	return nil
}
