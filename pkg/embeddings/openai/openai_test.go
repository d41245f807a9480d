package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/embeddings/openai"
)

var _ = Describe("Embedder", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		e       *openai.Embedder
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))

		var err error
		e, err = openai.NewEmbedder(openai.EmbedderConfig{
			BaseURL:    server.URL,
			APIKey:     "sk-test",
			Dimensions: 2,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an API key", func() {
		_, err := openai.NewEmbedder(openai.EmbedderConfig{})
		Expect(err).To(HaveOccurred())
	})

	It("sends the bearer key and orders results by index", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/v1/embeddings"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer sk-test"))
			Expect(r.Header.Get("User-Agent")).To(HavePrefix("quarry/"))

			var body map[string]any
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			Expect(body["model"]).To(Equal(openai.DefaultEmbeddingModel))
			Expect(body["dimensions"]).To(BeNumerically("==", 2))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"index": 1, "embedding": []float32{0, 1}},
					{"index": 0, "embedding": []float32{1, 0}},
				},
			})
		}

		vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(Equal([][]float32{{1, 0}, {0, 1}}))
	})

	It("fails when an input has no embedding", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"index": 0, "embedding": []float32{1, 0}}},
			})
		}

		_, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
		Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
	})

	It("treats auth failures as non-transient", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
		}

		_, err := e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
		Expect(embeddings.IsRetryable(err)).To(BeFalse())
	})

	It("treats oversized requests as invalid input", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "too long", http.StatusBadRequest)
		}

		_, err := e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(embeddings.ErrInvalidInput))
	})
})
