package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/embeddings/ollama"
)

var _ = Describe("Embedder", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		e       *ollama.Embedder
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))

		var err error
		e, err = ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL, Model: "test-model"})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("posts the inputs to /api/embed and returns aligned vectors", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/api/embed"))

			var body struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			Expect(body.Model).To(Equal("test-model"))
			Expect(body.Input).To(Equal([]string{"a", "b"}))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"embeddings": [][]float32{{1, 0}, {0, 1}},
			})
		}

		vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(Equal([][]float32{{1, 0}, {0, 1}}))
	})

	It("returns the single vector from Embed", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.5, 0.5}}})
		}

		vec, err := e.Embed(context.Background(), "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.5, 0.5}))
	})

	It("classifies throttling responses", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}

		_, err := e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(embeddings.ErrRateLimited))
		Expect(embeddings.IsRetryable(err)).To(BeTrue())
	})

	It("classifies server errors as transient", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}

		_, err := e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
		Expect(embeddings.IsRetryable(err)).To(BeTrue())
	})

	It("rejects a mismatched embedding count", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{}})
		}

		_, err := e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
	})

	It("reports an unreachable server as transient", func() {
		server.Close()

		_, err := e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(embeddings.ErrProviderUnavailable))
		Expect(embeddings.IsRetryable(err)).To(BeTrue())
	})

	It("skips the request for an empty batch", func() {
		handler = func(http.ResponseWriter, *http.Request) {
			defer GinkgoRecover()
			Fail("unexpected request")
		}

		vecs, err := e.EmbedBatch(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(BeEmpty())
	})

	Context("with dimensions and keep-alive", func() {
		BeforeEach(func() {
			var err error
			e, err = ollama.NewEmbedder(ollama.EmbedderConfig{
				BaseURL:    server.URL,
				Model:      "test-model",
				Dimensions: 2,
				KeepAlive:  "10m",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("forwards both in the request", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				var body map[string]any
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body).To(HaveKeyWithValue("dimensions", BeNumerically("==", 2)))
				Expect(body).To(HaveKeyWithValue("keep_alive", "10m"))
				Expect(r.Header.Get("User-Agent")).To(HavePrefix("quarry/"))

				_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.6, 0.8}}})
			}

			vec, err := e.Embed(context.Background(), "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(vec).To(Equal([]float32{0.6, 0.8}))
		})

		It("rejects vectors of the wrong size as invalid input", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0, 0}}})
			}

			_, err := e.Embed(context.Background(), "hello")
			Expect(err).To(MatchError(embeddings.ErrInvalidInput))
			Expect(err).To(MatchError(ContainSubstring("returned 3 dimensions")))
			Expect(embeddings.IsRetryable(err)).To(BeFalse())
		})
	})
})
