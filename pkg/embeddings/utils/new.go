// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"
	"log/slog"

	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/embeddings"
	"github.com/papercomputeco/quarry/pkg/embeddings/ollama"
	"github.com/papercomputeco/quarry/pkg/embeddings/openai"
	"github.com/papercomputeco/quarry/pkg/embeddings/resilient"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	APIKey       string
	Dimensions   uint
}

// NewEmbedder returns the raw provider client for the given options.
func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
		})
	case "openai":
		return openai.NewEmbedder(openai.EmbedderConfig{
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			APIKey:     o.APIKey,
			Dimensions: o.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}

// NewClient builds the configured provider and wraps it in the shared
// resilient client. Every embedding call in the process goes through the
// returned client.
func NewClient(cfg config.EmbeddingConfig, logger *slog.Logger) (*resilient.Client, error) {
	inner, err := NewEmbedder(&NewEmbedderOpts{
		ProviderType: cfg.Provider,
		TargetURL:    cfg.Target,
		Model:        cfg.Model,
		APIKey:       cfg.APIKey,
		Dimensions:   cfg.Dimensions,
	})
	if err != nil {
		return nil, err
	}

	return resilient.New(inner, resilient.Config{
		MaxConcurrent:     int64(cfg.MaxConcurrent),
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRetries:        int(cfg.MaxRetries),
		CallTimeout:       cfg.CallTimeout(),
	}, logger), nil
}
