package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/papercomputeco/quarry/pkg/dotdir"
)

const envPrefix = "QUARRY"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), loads any .env file from the working
// directory or the config directory, and binds environment variables
// with the QUARRY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (QUARRY_API_LISTEN, QUARRY_EMBEDDING_API_KEY, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Existing environment variables win over .env entries.
	envFiles := []string{".env"}
	if target != "" {
		envFiles = append(envFiles, filepath.Join(target, ".env"))
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes a Config from the resolved viper state so flags,
// environment and file values are all reflected.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Client: ClientConfig{
			APITarget: v.GetString("client.api_target"),
		},
		VectorStore: VectorStoreConfig{
			Provider:   v.GetString("vector_store.provider"),
			Target:     v.GetString("vector_store.target"),
			Collection: v.GetString("vector_store.collection"),
		},
		Embedding: EmbeddingConfig{
			Provider:          v.GetString("embedding.provider"),
			Target:            v.GetString("embedding.target"),
			Model:             v.GetString("embedding.model"),
			Dimensions:        v.GetUint("embedding.dimensions"),
			APIKey:            v.GetString("embedding.api_key"),
			Timeout:           v.GetString("embedding.timeout"),
			MaxConcurrent:     v.GetUint("embedding.max_concurrent"),
			RequestsPerSecond: v.GetFloat64("embedding.requests_per_second"),
			MaxRetries:        v.GetUint("embedding.max_retries"),
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: v.GetUint("chunking.max_chunk_size"),
			Overlap:      v.GetUint("chunking.overlap"),
		},
		Vectorize: VectorizeConfig{
			Workers:   v.GetUint("vectorize.workers"),
			QueueSize: v.GetUint("vectorize.queue_size"),
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:     v.GetUint("retrieval.default_limit"),
			DefaultThreshold: v.GetFloat64("retrieval.default_threshold"),
		},
		Events: EventsConfig{
			Provider: v.GetString("events.provider"),
			Brokers:  v.GetStringSlice("events.brokers"),
			Topic:    v.GetString("events.topic"),
		},
	}

	applyDefaults(cfg)
	return cfg
}

// ValueSource names the layer that supplied a key's effective value.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "env"
)

// EnvKey returns the environment variable that overrides key, e.g.
// QUARRY_EMBEDDING_MODEL for embedding.model.
func EnvKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Effective returns key's value as resolved by v and the layer it came from.
func Effective(v *viper.Viper, key string) (string, ValueSource, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", SourceDefault, fmt.Errorf("unknown config key: %q", key)
	}

	value := info.get(FromViper(v))
	switch {
	case os.Getenv(EnvKey(key)) != "":
		return value, SourceEnv, nil
	case v.InConfig(key):
		return value, SourceFile, nil
	default:
		return value, SourceDefault, nil
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("client.api_target", d.Client.APITarget)

	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.collection", d.VectorStore.Collection)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)
	v.SetDefault("embedding.max_concurrent", d.Embedding.MaxConcurrent)
	v.SetDefault("embedding.requests_per_second", d.Embedding.RequestsPerSecond)
	v.SetDefault("embedding.max_retries", d.Embedding.MaxRetries)

	v.SetDefault("chunking.max_chunk_size", d.Chunking.MaxChunkSize)
	v.SetDefault("chunking.overlap", d.Chunking.Overlap)

	v.SetDefault("vectorize.workers", d.Vectorize.Workers)
	v.SetDefault("vectorize.queue_size", d.Vectorize.QueueSize)

	v.SetDefault("retrieval.default_limit", d.Retrieval.DefaultLimit)
	v.SetDefault("retrieval.default_threshold", d.Retrieval.DefaultThreshold)

	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
