package servecmder

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/credentials"
	"github.com/papercomputeco/quarry/pkg/embeddings/resilient"
	"github.com/papercomputeco/quarry/pkg/eventstream/nop"
	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/logger"
	testutils "github.com/papercomputeco/quarry/pkg/utils/test"
	"github.com/papercomputeco/quarry/pkg/vector/inmemory"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

var _ = Describe("NewServeCmd", func() {
	It("registers the serve flags with config defaults", func() {
		cmd := NewServeCmd()
		Expect(cmd.Use).To(Equal("serve"))

		listen := cmd.Flags().Lookup("listen")
		Expect(listen).NotTo(BeNil())
		Expect(listen.DefValue).To(Equal(":8081"))

		provider := cmd.Flags().Lookup("vector-store-provider")
		Expect(provider).NotTo(BeNil())
		Expect(provider.DefValue).To(Equal("sqlite"))

		for _, name := range []string{"sqlite", "postgres-dsn", "embedding-provider", "embedding-model", "workers", "events-provider", "watch", "json-logs"} {
			Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
	})

	It("shuts down cleanly when its context ends", func() {
		tmpDir := GinkgoT().TempDir()

		cmd := NewServeCmd()
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetArgs([]string{
			"--config-dir", tmpDir,
			"--vector-store-provider", "memory",
			"--listen", "127.0.0.1:0",
			"--json-logs",
		})

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		Expect(cmd.ExecuteContext(ctx)).To(Succeed())
	})

	It("mirrors logs as JSON to --log-file", func() {
		tmpDir := GinkgoT().TempDir()
		logPath := filepath.Join(tmpDir, "serve.log")

		cmd := NewServeCmd()
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetArgs([]string{
			"--config-dir", tmpDir,
			"--vector-store-provider", "memory",
			"--listen", "127.0.0.1:0",
			"--log-file", logPath,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		Expect(cmd.ExecuteContext(ctx)).To(Succeed())

		data, err := os.ReadFile(logPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"msg":"using vector store"`))
		Expect(string(data)).To(ContainSubstring(`"service":"serve"`))
	})
})

var _ = Describe("newStack", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.NewDefaultConfig()
		cfg.VectorStore.Provider = "memory"
	})

	It("wires every component from the config", func() {
		s, err := newStack(context.Background(), cfg, "", logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = s.Close() }()

		Expect(s.store).NotTo(BeNil())
		Expect(s.embedder).NotTo(BeNil())
		Expect(s.scheduler).NotTo(BeNil())
		Expect(s.engine).NotTo(BeNil())
		Expect(s.ingestor).NotTo(BeNil())
		Expect(s.server).NotTo(BeNil())

		limit, threshold := s.engine.Defaults()
		Expect(limit).To(Equal(5))
		Expect(threshold).To(Equal(0.7))
	})

	It("places the sqlite database in the config directory by default", func() {
		tmpDir := GinkgoT().TempDir()
		origDir, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmpDir)).To(Succeed())
		defer func() { _ = os.Chdir(origDir) }()

		configDir := filepath.Join(tmpDir, "cfg")
		cfg.VectorStore.Provider = "sqlite"

		s, err := newStack(context.Background(), cfg, configDir, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		_ = s.Close()

		_, err = os.Stat(filepath.Join(configDir, "quarry.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("reads a stored API key for providers that need one", func() {
		configDir := GinkgoT().TempDir()
		GinkgoT().Setenv("OPENAI_API_KEY", "")

		preset, err := config.PresetConfig("openai")
		Expect(err).NotTo(HaveOccurred())
		cfg.Embedding = preset.Embedding

		_, err = newStack(context.Background(), cfg, configDir, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("creating embedder")))

		mgr, err := credentials.NewManager(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.Store("openai", credentials.Credential{APIKey: "sk-test"})).To(Succeed())

		s, err := newStack(context.Background(), cfg, configDir, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		_ = s.Close()
	})

	It("rejects unknown providers", func() {
		cfg.VectorStore.Provider = "weaviate"
		_, err := newStack(context.Background(), cfg, "", logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("creating vector store")))

		cfg.VectorStore.Provider = "memory"
		cfg.Embedding.Provider = "bogus"
		_, err = newStack(context.Background(), cfg, "", logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("creating embedder")))
	})
})

var _ = Describe("fileSync", func() {
	It("replaces the previous document when a file changes", func() {
		ctx := context.Background()
		store := inmemory.NewStore()
		client := resilient.New(testutils.NewMockEmbedder(), resilient.Config{
			MaxConcurrent:     1,
			RequestsPerSecond: 1000,
			MaxRetries:        resilient.NoRetries,
			CallTimeout:       time.Minute,
		}, logger.Nop())

		scheduler, err := vectorize.NewScheduler(vectorize.Config{NumWorkers: 1, QueueSize: 8}, client, store, nop.NewPublisher(), logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		defer scheduler.Close()

		ingestor, err := ingest.New(ingest.Config{}, store, scheduler, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		path := filepath.Join(GinkgoT().TempDir(), "notes.md")
		files := newFileSync(ingestor, store, logger.Nop())

		Expect(os.WriteFile(path, []byte("first draft"), 0o644)).To(Succeed())
		Expect(files.handle(ctx, path)).To(Succeed())

		Expect(os.WriteFile(path, []byte("second draft"), 0o644)).To(Succeed())
		Expect(files.handle(ctx, path)).To(Succeed())

		docs, err := store.ListDocuments(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))

		doc, err := store.GetDocument(ctx, docs[0].ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Content).To(Equal("second draft"))
	})
})
