package testutils

import (
	"context"

	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/vector"
)

// SeedStore stores two documents whose chunks score 1.0, 0.8 and 0.0
// against the vector {1, 0}. It returns the ids of "a.md" and "b.txt".
func SeedStore(ctx context.Context, store vector.Store) (int64, int64) {
	docA, err := store.SaveDocument(ctx, vector.DocumentMeta{Filename: "a.md", FileType: "md", Content: "alpha one beta two"})
	Expect(err).NotTo(HaveOccurred())
	docB, err := store.SaveDocument(ctx, vector.DocumentMeta{Filename: "b.txt", FileType: "txt", Content: "gamma"})
	Expect(err).NotTo(HaveOccurred())

	_, err = store.SaveChunk(ctx, docA, 0, "alpha one", []float32{1, 0})
	Expect(err).NotTo(HaveOccurred())
	_, err = store.SaveChunk(ctx, docA, 1, "beta two", []float32{0.8, 0.6})
	Expect(err).NotTo(HaveOccurred())
	_, err = store.SaveChunk(ctx, docB, 0, "gamma", []float32{0, 1})
	Expect(err).NotTo(HaveOccurred())
	return docA, docB
}
