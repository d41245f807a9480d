package config

const (
	defaultAPIListen       = ":8081"
	defaultClientAPITarget = "http://localhost:8081"

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "quarry_chunks"

	defaultEmbeddingProvider          = "ollama"
	defaultEmbeddingModel             = "nomic-embed-text"
	defaultEmbeddingDimensions        = 768
	defaultEmbeddingTarget            = "http://localhost:11434"
	defaultEmbeddingTimeout           = "30s"
	defaultEmbeddingMaxConcurrent     = 4
	defaultEmbeddingRequestsPerSecond = 10
	defaultEmbeddingMaxRetries        = 3

	defaultMaxChunkSize = 1000
	defaultChunkOverlap = 200

	defaultVectorizeWorkers   = 2
	defaultVectorizeQueueSize = 256

	defaultSearchLimit     = 5
	defaultSearchThreshold = 0.7

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "quarry.tasks"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		Embedding: EmbeddingConfig{
			Provider:          defaultEmbeddingProvider,
			Target:            defaultEmbeddingTarget,
			Model:             defaultEmbeddingModel,
			Dimensions:        defaultEmbeddingDimensions,
			Timeout:           defaultEmbeddingTimeout,
			MaxConcurrent:     defaultEmbeddingMaxConcurrent,
			RequestsPerSecond: defaultEmbeddingRequestsPerSecond,
			MaxRetries:        defaultEmbeddingMaxRetries,
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: defaultMaxChunkSize,
			Overlap:      defaultChunkOverlap,
		},
		Vectorize: VectorizeConfig{
			Workers:   defaultVectorizeWorkers,
			QueueSize: defaultVectorizeQueueSize,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:     defaultSearchLimit,
			DefaultThreshold: defaultSearchThreshold,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}
