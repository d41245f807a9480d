// Package ollama implements pkg/embeddings' Embedder client for Ollama's embedding APIs
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/utils"
)

const (
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultBaseURL        = "http://localhost:11434"
)

// Embedder calls Ollama's /api/embed, which takes a whole batch per request.
type Embedder struct {
	baseURL    string
	model      string
	dimensions uint
	keepAlive  string
	httpClient *http.Client
}

type EmbedderConfig struct {
	BaseURL string
	Model   string

	// Dimensions asks the model for shorter vectors and is checked against
	// every returned vector. Zero leaves both to the model.
	Dimensions uint

	// KeepAlive is how long Ollama keeps the model loaded after a request,
	// e.g. "10m". Empty uses the server default.
	KeepAlive string

	// HTTPClient overrides the default client. Timeouts are applied per call
	// by the caller's context.
	HTTPClient *http.Client
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions uint     `json:"dimensions,omitempty"`
	KeepAlive  string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	e := &Embedder{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		keepAlive:  cfg.KeepAlive,
		httpClient: cfg.HTTPClient,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.model == "" {
		e.model = DefaultEmbeddingModel
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{}
	}
	return e, nil
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds every text in a single request.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	jsonBody, err := json.Marshal(embedRequest{
		Model:      e.model,
		Input:      texts,
		Dimensions: e.dimensions,
		KeepAlive:  e.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", embeddings.ErrInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", embeddings.ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", utils.UserAgent())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, embeddings.Unreachable(fmt.Errorf("sending request to ollama: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, embeddings.Classify(resp.StatusCode, resp.Header, body)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, embeddings.Unreachable(fmt.Errorf("decoding ollama response: %w", err))
	}

	if len(out.Embeddings) != len(texts) {
		return nil, &embeddings.ProviderError{
			Kind:    embeddings.ErrProviderUnavailable,
			Message: fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts)),
		}
	}
	if e.dimensions > 0 {
		for i, vec := range out.Embeddings {
			if uint(len(vec)) != e.dimensions {
				return nil, &embeddings.ProviderError{
					Kind:    embeddings.ErrInvalidInput,
					Message: fmt.Sprintf("ollama model %s returned %d dimensions for input %d, want %d", e.model, len(vec), i, e.dimensions),
				}
			}
		}
	}

	return out.Embeddings, nil
}

// Close is a no-op; the HTTP client holds nothing that needs releasing.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
