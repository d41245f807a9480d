package retrieval_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/logger"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	testutils "github.com/papercomputeco/quarry/pkg/utils/test"
	"github.com/papercomputeco/quarry/pkg/vector"
	"github.com/papercomputeco/quarry/pkg/vector/inmemory"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		embedder *testutils.MockEmbedder
		store    *testutils.FaultyStore
		engine   *retrieval.Engine
		docA     int64
		docB     int64
	)

	BeforeEach(func() {
		ctx = context.Background()
		embedder = testutils.NewMockEmbedder()
		embedder.Embeddings["x"] = []float32{1, 0}
		store = testutils.NewFaultyStore(inmemory.NewStore())

		var err error
		docA, err = store.SaveDocument(ctx, vector.DocumentMeta{Filename: "a.md", FileType: "md", Content: "alpha beta"})
		Expect(err).NotTo(HaveOccurred())
		docB, err = store.SaveDocument(ctx, vector.DocumentMeta{Filename: "b.txt", FileType: "txt", Content: "gamma"})
		Expect(err).NotTo(HaveOccurred())

		// scores against {1, 0}: 1.0, 0.8, 0.0
		_, err = store.SaveChunk(ctx, docA, 0, "alpha", []float32{1, 0})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.SaveChunk(ctx, docA, 1, "beta", []float32{0.8, 0.6})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.SaveChunk(ctx, docB, 0, "gamma", []float32{0, 1})
		Expect(err).NotTo(HaveOccurred())

		engine, err = retrieval.NewEngine(retrieval.Config{}, embedder, store, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewEngine", func() {
		It("applies the default limit and threshold", func() {
			limit, threshold := engine.Defaults()
			Expect(limit).To(Equal(5))
			Expect(threshold).To(Equal(0.7))
		})

		It("rejects out of range defaults", func() {
			_, err := retrieval.NewEngine(retrieval.Config{DefaultLimit: 100}, embedder, store, logger.Nop())
			Expect(err).To(MatchError(vector.ErrInvalidArgument))
		})

		It("requires an embedder and a store", func() {
			_, err := retrieval.NewEngine(retrieval.Config{}, nil, store, logger.Nop())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Search", func() {
		It("returns only the chunks at or above the threshold", func() {
			resp, err := engine.Search(ctx, retrieval.Request{
				Query:     "x",
				Limit:     ptr(2),
				Threshold: ptr(0.9),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(HaveLen(1))
			Expect(resp.TotalResults).To(Equal(1))
			Expect(resp.Results[0].Content).To(Equal("alpha"))
			Expect(resp.Results[0].DocumentName).To(Equal("a.md"))
			Expect(resp.Results[0].Score).To(BeNumerically("~", 1.0, 1e-6))
			Expect(resp.Limit).To(Equal(2))
			Expect(resp.Threshold).To(Equal(0.9))
		})

		It("uses the defaults when limit and threshold are omitted", func() {
			resp, err := engine.Search(ctx, retrieval.Request{Query: "x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Limit).To(Equal(5))
			Expect(resp.Threshold).To(Equal(0.7))
			Expect(resp.Results).To(HaveLen(2))
			Expect(resp.Results[0].Score).To(BeNumerically(">=", resp.Results[1].Score))
			Expect(resp.QueryTime).To(BeNumerically(">", 0))
			Expect(resp.QueryTimeMS).To(Equal(resp.QueryTime.Milliseconds()))
		})

		It("accepts an explicit zero threshold", func() {
			resp, err := engine.Search(ctx, retrieval.Request{Query: "x", Threshold: ptr(0.0)})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(HaveLen(3))
		})

		It("restricts the search to the given documents", func() {
			resp, err := engine.Search(ctx, retrieval.Request{
				Query:       "x",
				Threshold:   ptr(0.0),
				DocumentIDs: []int64{docB},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).To(HaveLen(1))
			Expect(resp.Results[0].DocumentID).To(Equal(docB))
		})

		It("returns an empty, non-nil result set when nothing matches", func() {
			embedder.Embeddings["x"] = []float32{-1, 0}
			resp, err := engine.Search(ctx, retrieval.Request{Query: "x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Results).NotTo(BeNil())
			Expect(resp.Results).To(BeEmpty())
			Expect(resp.TotalResults).To(BeZero())
		})

		It("is idempotent against an unchanged store", func() {
			first, err := engine.Search(ctx, retrieval.Request{Query: "x", Threshold: ptr(0.0)})
			Expect(err).NotTo(HaveOccurred())
			second, err := engine.Search(ctx, retrieval.Request{Query: "x", Threshold: ptr(0.0)})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Results).To(Equal(first.Results))
		})

		DescribeTable("rejects invalid parameters without embedding",
			func(req retrieval.Request) {
				_, err := engine.Search(ctx, req)
				Expect(err).To(MatchError(vector.ErrInvalidArgument))
				Expect(embedder.Calls()).To(BeZero())
			},
			Entry("empty query", retrieval.Request{Query: ""}),
			Entry("blank query", retrieval.Request{Query: "   "}),
			Entry("zero limit", retrieval.Request{Query: "x", Limit: ptr(0)}),
			Entry("limit above 50", retrieval.Request{Query: "x", Limit: ptr(51)}),
			Entry("negative threshold", retrieval.Request{Query: "x", Threshold: ptr(-0.1)}),
			Entry("threshold above 1", retrieval.Request{Query: "x", Threshold: ptr(1.5)}),
		)

		It("reports an empty query as ErrInvalidQuery", func() {
			_, err := engine.Search(ctx, retrieval.Request{})
			Expect(err).To(MatchError(retrieval.ErrInvalidQuery))
		})

		It("wraps embedding failures", func() {
			embedder.FailOn = "x"
			embedder.FailErr = &embeddings.ProviderError{Kind: embeddings.ErrProviderUnavailable, Message: "down"}

			_, err := engine.Search(ctx, retrieval.Request{Query: "x"})
			Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
			Expect(err.Error()).To(HavePrefix("embedding query: "))
		})

		It("surfaces storage failures", func() {
			store.SearchErr = vector.StorageError("search", errors.New("disk gone"))

			_, err := engine.Search(ctx, retrieval.Request{Query: "x"})
			Expect(err).To(MatchError(vector.ErrStorage))
		})
	})

	Describe("documents", func() {
		It("lists documents newest first", func() {
			docs, err := engine.ListDocuments(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(2))
			Expect(docs[0].ID).To(Equal(docB))
		})

		It("returns a document with its ordered chunks", func() {
			detail, err := engine.GetDocument(ctx, docA)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Document.Filename).To(Equal("a.md"))
			Expect(detail.Document.Content).To(Equal("alpha beta"))
			Expect(detail.Document.ChunkCount).To(Equal(2))
			Expect(detail.Chunks).To(HaveLen(2))
			Expect(detail.Chunks[0].Content).To(Equal("alpha"))
			Expect(detail.Chunks[1].Index).To(Equal(1))
		})

		It("returns ErrNotFound for unknown documents", func() {
			_, err := engine.GetDocument(ctx, 999)
			Expect(err).To(MatchError(vector.ErrNotFound))
		})
	})

	Describe("Statistics", func() {
		It("reports counts, the rounded average and the defaults", func() {
			_, err := store.SaveDocument(ctx, vector.DocumentMeta{Filename: "c.txt", FileType: "txt", Content: "delta"})
			Expect(err).NotTo(HaveOccurred())

			stats, err := engine.Statistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalDocuments).To(Equal(3))
			Expect(stats.TotalChunks).To(Equal(3))
			Expect(stats.FileTypes).To(Equal(map[string]int{"md": 1, "txt": 2}))
			Expect(stats.AverageChunksPerDocument).To(Equal(1.0))
			Expect(stats.SimilarityThreshold).To(Equal(0.7))
			Expect(stats.DefaultSearchLimit).To(Equal(5))
		})

		It("rounds the average to two decimals", func() {
			for _, name := range []string{"d.txt", "e.txt", "f.txt", "g.txt"} {
				_, err := store.SaveDocument(ctx, vector.DocumentMeta{Filename: name, FileType: "txt", Content: name})
				Expect(err).NotTo(HaveOccurred())
			}

			stats, err := engine.Statistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.AverageChunksPerDocument).To(Equal(0.5))
		})

		It("reports zero averages for an empty store", func() {
			empty, err := retrieval.NewEngine(retrieval.Config{DefaultLimit: 10, DefaultThreshold: 0.5}, embedder, inmemory.NewStore(), logger.Nop())
			Expect(err).NotTo(HaveOccurred())

			stats, err := empty.Statistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalDocuments).To(BeZero())
			Expect(stats.AverageChunksPerDocument).To(BeZero())
			Expect(stats.FileTypes).NotTo(BeNil())
			Expect(stats.DefaultSearchLimit).To(Equal(10))
		})
	})
})
