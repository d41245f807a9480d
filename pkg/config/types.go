package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent quarry configuration stored as config.toml
// in the .quarry/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Chunking    ChunkingConfig    `toml:"chunking"`
	Vectorize   VectorizeConfig   `toml:"vectorize"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Events      EventsConfig      `toml:"events"`
}

// StorageConfig holds database locations used by the sqlite and postgres
// vector stores.
type StorageConfig struct {
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// API server (e.g. quarry search, quarry ask, quarry ingest).
// Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// VectorStoreConfig holds vector store settings.
// Provider is one of "memory", "sqlite", "postgres", "qdrant" or "chroma".
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// EmbeddingConfig holds embedding provider settings and the limits applied
// by the shared embedding client.
type EmbeddingConfig struct {
	Provider          string  `toml:"provider,omitempty"`
	Target            string  `toml:"target,omitempty"`
	Model             string  `toml:"model,omitempty"`
	Dimensions        uint    `toml:"dimensions,omitempty"`
	APIKey            string  `toml:"api_key,omitempty"`
	Timeout           string  `toml:"timeout,omitempty"`
	MaxConcurrent     uint    `toml:"max_concurrent,omitempty"`
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty"`
	MaxRetries        uint    `toml:"max_retries,omitempty"`
}

// CallTimeout parses Timeout, falling back to the default when it is unset
// or malformed.
func (e EmbeddingConfig) CallTimeout() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultEmbeddingTimeout)
	}
	return d
}

// ChunkingConfig holds chunker settings, measured in runes.
type ChunkingConfig struct {
	MaxChunkSize uint `toml:"max_chunk_size,omitempty"`
	Overlap      uint `toml:"overlap,omitempty"`
}

// VectorizeConfig holds task scheduler settings.
type VectorizeConfig struct {
	Workers   uint `toml:"workers,omitempty"`
	QueueSize uint `toml:"queue_size,omitempty"`
}

// RetrievalConfig holds search defaults applied when a caller omits them.
type RetrievalConfig struct {
	DefaultLimit     uint    `toml:"default_limit,omitempty"`
	DefaultThreshold float64 `toml:"default_threshold,omitempty"`
}

// EventsConfig selects where task lifecycle events are published.
// Provider is "nop" or "kafka".
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"api.listen":        stringKey(func(c *Config) *string { return &c.API.Listen }),
	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),

	"embedding.provider":            stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":              stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":               stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions":          uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"embedding.api_key":             stringKey(func(c *Config) *string { return &c.Embedding.APIKey }),
	"embedding.timeout":             durationKey(),
	"embedding.max_concurrent":      uintKey("embedding.max_concurrent", func(c *Config) *uint { return &c.Embedding.MaxConcurrent }),
	"embedding.requests_per_second": floatKey("embedding.requests_per_second", func(c *Config) *float64 { return &c.Embedding.RequestsPerSecond }),
	"embedding.max_retries":         uintKey("embedding.max_retries", func(c *Config) *uint { return &c.Embedding.MaxRetries }),

	"chunking.max_chunk_size": uintKey("chunking.max_chunk_size", func(c *Config) *uint { return &c.Chunking.MaxChunkSize }),
	"chunking.overlap":        uintKey("chunking.overlap", func(c *Config) *uint { return &c.Chunking.Overlap }),

	"vectorize.workers":    uintKey("vectorize.workers", func(c *Config) *uint { return &c.Vectorize.Workers }),
	"vectorize.queue_size": uintKey("vectorize.queue_size", func(c *Config) *uint { return &c.Vectorize.QueueSize }),

	"retrieval.default_limit":     uintKey("retrieval.default_limit", func(c *Config) *uint { return &c.Retrieval.DefaultLimit }),
	"retrieval.default_threshold": floatKey("retrieval.default_threshold", func(c *Config) *float64 { return &c.Retrieval.DefaultThreshold }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),
}

func durationKey() configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return c.Embedding.Timeout },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for embedding.timeout: %w", err)
			}
			c.Embedding.Timeout = v
			return nil
		},
	}
}
