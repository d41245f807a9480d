package testutils

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/vector"
)

// DescribeStoreContract registers the behaviour every vector.Store driver
// must share. newStore is called once per spec and the store is closed
// after it.
func DescribeStoreContract(newStore func() vector.Store) {
	var (
		store vector.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = nil
		store = newStore()
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
		}
	})

	saveDoc := func(name, content string) int64 {
		id, err := store.SaveDocument(ctx, vector.DocumentMeta{
			Filename: name,
			FileType: "txt",
			Content:  content,
			Metadata: map[string]string{"source": "test"},
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	Describe("documents", func() {
		It("stores a document as pending with its size", func() {
			id := saveDoc("a.txt", "hello world")

			doc, err := store.GetDocument(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.ID).To(Equal(id))
			Expect(doc.Filename).To(Equal("a.txt"))
			Expect(doc.FileType).To(Equal("txt"))
			Expect(doc.Size).To(Equal(int64(11)))
			Expect(doc.Content).To(Equal("hello world"))
			Expect(doc.Status).To(Equal(vector.StatusPending))
			Expect(doc.Metadata).To(HaveKeyWithValue("source", "test"))
			Expect(doc.CreatedAt).NotTo(BeZero())
		})

		It("returns ErrNotFound for unknown documents", func() {
			_, err := store.GetDocument(ctx, 999)
			Expect(err).To(MatchError(vector.ErrNotFound))

			err = store.SetDocumentStatus(ctx, 999, vector.StatusCompleted)
			Expect(err).To(MatchError(vector.ErrNotFound))

			err = store.DeleteDocument(ctx, 999)
			Expect(err).To(MatchError(vector.ErrNotFound))

			_, err = store.SaveChunk(ctx, 999, 0, "x", []float32{1, 0})
			Expect(err).To(MatchError(vector.ErrNotFound))
		})

		It("updates the status", func() {
			id := saveDoc("a.txt", "hello")
			Expect(store.SetDocumentStatus(ctx, id, vector.StatusCompleted)).To(Succeed())

			doc, err := store.GetDocument(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Status).To(Equal(vector.StatusCompleted))
		})

		It("lists newest first with chunk counts", func() {
			first := saveDoc("first.txt", "one")
			second := saveDoc("second.txt", "two")
			_, err := store.SaveChunk(ctx, first, 0, "one", []float32{1, 0})
			Expect(err).NotTo(HaveOccurred())

			docs, err := store.ListDocuments(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(2))
			Expect(docs[0].ID).To(Equal(second))
			Expect(docs[1].ID).To(Equal(first))
			Expect(docs[1].ChunkCount).To(Equal(1))
			Expect(docs[0].ChunkCount).To(Equal(0))
		})

		It("deletes a document and its chunks", func() {
			id := saveDoc("a.txt", "hello")
			_, err := store.SaveChunk(ctx, id, 0, "hello", []float32{1, 0})
			Expect(err).NotTo(HaveOccurred())

			Expect(store.DeleteDocument(ctx, id)).To(Succeed())

			_, err = store.GetDocument(ctx, id)
			Expect(err).To(MatchError(vector.ErrNotFound))

			stats, err := store.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalChunks).To(BeZero())
		})
	})

	Describe("chunks", func() {
		It("returns chunks ordered by index", func() {
			id := saveDoc("a.txt", "abc")
			for _, i := range []int{2, 0, 1} {
				_, err := store.SaveChunk(ctx, id, i, string(rune('a'+i)), []float32{1, float32(i)})
				Expect(err).NotTo(HaveOccurred())
			}

			chunks, err := store.GetChunks(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(3))
			for i, c := range chunks {
				Expect(c.Index).To(Equal(i))
				Expect(c.DocumentID).To(Equal(id))
				Expect(c.Embedding).To(Equal([]float32{1, float32(i)}))
			}
			Expect(chunks[0].Content).To(Equal("a"))
		})

		It("replaces an existing chunk index and keeps its id", func() {
			id := saveDoc("a.txt", "abc")
			first, err := store.SaveChunk(ctx, id, 0, "old", []float32{1, 0})
			Expect(err).NotTo(HaveOccurred())

			second, err := store.SaveChunk(ctx, id, 0, "new", []float32{0, 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))

			chunks, err := store.GetChunks(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Content).To(Equal("new"))
			Expect(chunks[0].Embedding).To(Equal([]float32{0, 1}))
		})

		It("truncates chunks from an index so they no longer match", func() {
			id := saveDoc("a.txt", "abcd")
			other := saveDoc("b.txt", "z")
			for i := range 4 {
				_, err := store.SaveChunk(ctx, id, i, string(rune('a'+i)), []float32{1, 0})
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := store.SaveChunk(ctx, other, 3, "z", []float32{1, 0})
			Expect(err).NotTo(HaveOccurred())

			Expect(store.TruncateChunks(ctx, id, 1)).To(Succeed())

			chunks, err := store.GetChunks(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Content).To(Equal("a"))

			results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0}, Limit: 10, Threshold: 0.5})
			Expect(err).NotTo(HaveOccurred())
			contents := make([]string, 0, len(results))
			for _, r := range results {
				contents = append(contents, r.Content)
			}
			Expect(contents).To(ConsistOf("a", "z"))

			doc, err := store.GetDocument(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.ChunkCount).To(Equal(1))
		})

		It("truncating past the last chunk is a no-op", func() {
			id := saveDoc("a.txt", "ab")
			_, err := store.SaveChunk(ctx, id, 0, "a", []float32{1, 0})
			Expect(err).NotTo(HaveOccurred())

			Expect(store.TruncateChunks(ctx, id, 5)).To(Succeed())

			chunks, err := store.GetChunks(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(1))
		})

		It("reports ErrNotFound when truncating an unknown document", func() {
			Expect(store.TruncateChunks(ctx, 999, 0)).To(MatchError(vector.ErrNotFound))
		})
	})

	Describe("Search", func() {
		var docA, docB int64

		BeforeEach(func() {
			docA = saveDoc("a.txt", "alpha")
			docB = saveDoc("b.txt", "beta")

			mustSave := func(doc int64, idx int, content string, emb []float32) {
				_, err := store.SaveChunk(ctx, doc, idx, content, emb)
				Expect(err).NotTo(HaveOccurred())
			}
			mustSave(docA, 0, "exact", []float32{1, 0, 0})
			mustSave(docA, 1, "close", []float32{0.9, 0.1, 0})
			mustSave(docB, 0, "tie", []float32{1, 0, 0})
			mustSave(docB, 1, "orthogonal", []float32{0, 1, 0})
			mustSave(docB, 2, "opposite", []float32{-1, 0, 0})
		})

		It("ranks by score with ties broken by ascending chunk id", func() {
			results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0}, Limit: 10, Threshold: 0.5})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))

			Expect(results[0].Content).To(Equal("exact"))
			Expect(results[1].Content).To(Equal("tie"))
			Expect(results[0].ChunkID).To(BeNumerically("<", results[1].ChunkID))
			Expect(results[0].Score).To(BeNumerically("~", 1.0, 1e-5))
			Expect(results[1].Score).To(BeNumerically("~", 1.0, 1e-5))
			Expect(results[2].Content).To(Equal("close"))
			Expect(results[0].DocumentName).To(Equal("a.txt"))
			Expect(results[1].DocumentName).To(Equal("b.txt"))
		})

		It("only returns scores within the threshold and [0, 1]", func() {
			results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0}, Limit: 50, Threshold: 0})
			Expect(err).NotTo(HaveOccurred())
			for _, r := range results {
				Expect(r.Score).To(BeNumerically(">=", 0))
				Expect(r.Score).To(BeNumerically("<=", 1))
				Expect(r.Content).NotTo(Equal("opposite"))
			}
		})

		It("keeps an exact match at a threshold of 1", func() {
			v := []float32{0.1, 0.2, 0.3}
			id := saveDoc("c.txt", "gamma")
			_, err := store.SaveChunk(ctx, id, 0, "same", v)
			Expect(err).NotTo(HaveOccurred())

			results, err := store.Search(ctx, vector.Query{Vector: v, Limit: 10, Threshold: 1, DocumentIDs: []int64{id}})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Content).To(Equal("same"))
			Expect(results[0].Score).To(Equal(1.0))
		})

		It("truncates to the limit", func() {
			results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0}, Limit: 1, Threshold: 0.5})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Content).To(Equal("exact"))
		})

		It("filters by document ids", func() {
			results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0}, Limit: 10, Threshold: 0.5, DocumentIDs: []int64{docB}})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Content).To(Equal("tie"))
		})

		It("returns nothing when no chunk reaches the threshold", func() {
			results, err := store.Search(ctx, vector.Query{Vector: []float32{0, 0, 1}, Limit: 10, Threshold: 0.7})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("is idempotent", func() {
			q := vector.Query{Vector: []float32{0.7, 0.7, 0}, Limit: 5, Threshold: 0.1}
			first, err := store.Search(ctx, q)
			Expect(err).NotTo(HaveOccurred())
			second, err := store.Search(ctx, q)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})

		DescribeTable("rejects invalid arguments",
			func(q vector.Query) {
				_, err := store.Search(ctx, q)
				Expect(err).To(MatchError(vector.ErrInvalidArgument))
			},
			Entry("limit 0", vector.Query{Vector: []float32{1, 0, 0}, Limit: 0, Threshold: 0.5}),
			Entry("limit 51", vector.Query{Vector: []float32{1, 0, 0}, Limit: 51, Threshold: 0.5}),
			Entry("negative threshold", vector.Query{Vector: []float32{1, 0, 0}, Limit: 5, Threshold: -0.1}),
			Entry("threshold above 1", vector.Query{Vector: []float32{1, 0, 0}, Limit: 5, Threshold: 1.1}),
			Entry("empty vector", vector.Query{Limit: 5, Threshold: 0.5}),
		)
	})

	It("reports stats", func() {
		id := saveDoc("a.txt", "abc")
		_, err := store.SaveChunk(ctx, id, 0, "abc", []float32{1, 0})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.SaveDocument(ctx, vector.DocumentMeta{Filename: "b.md", FileType: "md", Content: "b"})
		Expect(err).NotTo(HaveOccurred())

		stats, err := store.Stats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.TotalDocuments).To(Equal(2))
		Expect(stats.TotalChunks).To(Equal(1))
		Expect(stats.FileTypes).To(Equal(map[string]int{"txt": 1, "md": 1}))
	})
}
