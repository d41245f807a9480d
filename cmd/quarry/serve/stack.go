package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/quarry/api"
	"github.com/papercomputeco/quarry/api/mcp"
	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/cmd/quarry/sqlitepath"
	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/credentials"
	embeddingutils "github.com/papercomputeco/quarry/pkg/embeddings/utils"
	"github.com/papercomputeco/quarry/pkg/embeddings/resilient"
	"github.com/papercomputeco/quarry/pkg/eventstream"
	eventstreamutils "github.com/papercomputeco/quarry/pkg/eventstream/utils"
	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/vector"
	vectorutils "github.com/papercomputeco/quarry/pkg/vector/utils"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

// stack is every long-lived component of a running server. One resilient
// embedding client is shared by the scheduler and the retrieval engine.
type stack struct {
	store     vector.Store
	embedder  *resilient.Client
	publisher eventstream.Publisher
	scheduler *vectorize.Scheduler
	engine    *retrieval.Engine
	ingestor  *ingest.Ingestor
	server    *api.Server
}

// newStack builds the components described by cfg. On error everything
// created so far is closed.
func newStack(ctx context.Context, cfg *config.Config, configDir string, logger *slog.Logger) (_ *stack, err error) {
	s := &stack{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	sqlitePath := cfg.Storage.SQLitePath
	if cfg.VectorStore.Provider == "sqlite" {
		sqlitePath, err = sqlitepath.ResolveSQLitePath(sqlitePath, configDir)
		if err != nil {
			return nil, err
		}
	}

	s.store, err = vectorutils.NewStore(ctx, &vectorutils.NewStoreOpts{
		ProviderType: cfg.VectorStore.Provider,
		SQLitePath:   sqlitePath,
		PostgresDSN:  cfg.Storage.PostgresDSN,
		TargetURL:    cfg.VectorStore.Target,
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	logger.Info("using vector store",
		"provider", cfg.VectorStore.Provider,
		"sqlite_path", sqlitePath,
	)

	embedCfg := cfg.Embedding
	if embedCfg.APIKey == "" && credentials.IsSupportedProvider(embedCfg.Provider) {
		if err := applyCredential(&embedCfg, configDir, logger); err != nil {
			return nil, err
		}
	}

	s.embedder, err = embeddingutils.NewClient(embedCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	logger.Info("using embedder",
		"provider", cfg.Embedding.Provider,
		"target", embedCfg.Target,
		"model", cfg.Embedding.Model,
	)

	s.publisher, err = eventstreamutils.NewPublisher(cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}

	s.scheduler, err = vectorize.NewScheduler(vectorize.Config{
		NumWorkers: cfg.Vectorize.Workers,
		QueueSize:  cfg.Vectorize.QueueSize,
	}, s.embedder, s.store, s.publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	s.engine, err = retrieval.NewEngine(retrieval.Config{
		DefaultLimit:     int(cfg.Retrieval.DefaultLimit),
		DefaultThreshold: cfg.Retrieval.DefaultThreshold,
	}, s.embedder, s.store, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retrieval engine: %w", err)
	}

	dispatcher, err := tools.NewDispatcher(s.engine, logger)
	if err != nil {
		return nil, fmt.Errorf("creating tool dispatcher: %w", err)
	}

	s.ingestor, err = ingest.New(ingest.Config{
		MaxChunkSize: int(cfg.Chunking.MaxChunkSize),
		Overlap:      int(cfg.Chunking.Overlap),
	}, s.store, s.scheduler, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ingestor: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	s.server, err = api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
		Dispatcher: dispatcher,
		Engine:     s.engine,
		Scheduler:  s.scheduler,
		Ingestor:   s.ingestor,
		Store:      s.store,
		MCPHandler: mcpServer.Handler(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	return s, nil
}

// applyCredential fills the API key, and the target when one was stored,
// from credentials.toml or the provider's environment variable.
func applyCredential(embedCfg *config.EmbeddingConfig, configDir string, logger *slog.Logger) error {
	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	cred, src, err := mgr.Lookup(embedCfg.Provider)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if src == credentials.SourceNone {
		return nil
	}

	embedCfg.APIKey = cred.APIKey
	if cred.Target != "" {
		embedCfg.Target = cred.Target
	}
	logger.Debug("using stored credential", "provider", embedCfg.Provider, "source", string(src))
	return nil
}

// Close releases the components in reverse dependency order. Scheduler
// workers are drained before the store they write to is closed.
func (s *stack) Close() error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Shutdown())
	}
	if s.scheduler != nil {
		s.scheduler.Close()
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
