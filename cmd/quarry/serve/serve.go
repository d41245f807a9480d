// Package servecmder provides the serve command that runs the quarry API
// server with its vectorization workers and MCP endpoint.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/logger"
)

type ServeCommander struct {
	// Flag targets. Resolved values are read back through viper.
	listen         string
	sqlitePath     string
	postgresDSN    string
	vectorProvider string
	vectorTarget   string
	embedProvider  string
	embedTarget    string
	embedModel     string
	embedDims      uint
	workers        uint
	eventsProvider string

	watchDir  string
	configDir string
	debug     bool
	jsonLogs  bool
	logFile   string
	service   string

	cfg    *config.Config
	logger *slog.Logger
}

const serveLongDesc string = `Run the quarry API server.

The server exposes the retrieval tools over JSON-RPC, event streams and MCP,
accepts documents for ingestion and runs the vectorization workers that embed
their chunks.

Settings come from flags, QUARRY_ environment variables, .env files and
config.toml, in that order of precedence.

Use --watch to ingest every text file in a directory at startup and again
whenever one changes. Use --log-file to keep a JSON copy of the logs next to
the console output.

Examples:
  quarry serve
  quarry serve --listen :9090 --workers 4
  quarry serve --vector-store-provider qdrant --vector-store-target localhost:6334
  quarry serve --vector-store-provider chroma --vector-store-target http://localhost:8000
  quarry serve --watch ./docs`

const serveShortDesc string = "Run the quarry API server"

// serveFlagKeys are the registry keys bound to viper.
var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagWorkers,
	config.FlagEventsProvider,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)

			cmder.cfg = config.FromViper(v)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.service = cmd.Root().Name()

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagWorkers, &cmder.workers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEventsProvider, &cmder.eventsProvider)

	cmd.Flags().StringVar(&cmder.watchDir, "watch", "", "Directory of text files to ingest and keep in sync")
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Emit structured JSON logs")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := []logger.Option{
		logger.WithDebug(c.debug),
		logger.WithSource(c.debug),
		logger.WithJSON(c.jsonLogs),
		logger.WithPretty(!c.jsonLogs),
		logger.WithService(c.service),
	}
	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		opts = append(opts, logger.WithJSONFile(f))
	}
	c.logger = logger.New(opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := newStack(ctx, c.cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			c.logger.Warn("shutdown", "error", err)
		}
	}()

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := s.server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	if c.watchDir != "" {
		files := newFileSync(s.ingestor, s.store, c.logger)
		w, err := ingest.NewWatcher(c.watchDir, ingest.DefaultDebounce, files.handle, c.logger)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("watcher error: %w", err)
			}
		}()
		c.logger.Info("watching directory", "dir", c.watchDir)
	}

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return nil
	}
}
