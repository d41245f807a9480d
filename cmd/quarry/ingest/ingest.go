// Package ingestcmder provides the ingest command that uploads text files to
// a running quarry API server.
package ingestcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/api/client"
	"github.com/papercomputeco/quarry/pkg/cliui"
	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/dotdir"
	"github.com/papercomputeco/quarry/pkg/ingest"
	"github.com/papercomputeco/quarry/pkg/logger"
)

type ingestCommander struct {
	apiTarget string
	watchDir  string
	force     bool
	quiet     bool

	configDir string
	debug     bool
	out       io.Writer
	logger    *slog.Logger

	client *client.Client
	ddm    *dotdir.Manager

	// mu guards ledger; watch mode hands files over from the watcher
	// goroutine.
	mu     sync.Mutex
	ledger *dotdir.IngestLedger
}

const ingestLongDesc string = `Ingest text files into a running quarry API server.

Each file is stored as a document and queued for vectorization. Directories
are walked for text files (.txt, .md, .markdown, .rst, .csv, .json, ...).

Ingested files are recorded in the .quarry/ingest.json ledger. Files whose
size and modification time have not changed since they were last ingested
are skipped unless --force is given.

Use --watch to keep a directory in sync: existing files are ingested first,
then every created or modified text file is ingested once it settles.

Examples:
  quarry ingest README.md docs/
  quarry ingest notes.txt --api-target http://localhost:9090
  quarry ingest --watch ./docs`

const ingestShortDesc string = "Ingest text files"

func NewIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}

	cmd := &cobra.Command{
		Use:   "ingest [path...]",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetString("watch")
			if len(args) == 0 && watch == "" {
				return errors.New("requires at least one path or --watch")
			}
			return nil
		},
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagAPITarget})
			cmder.apiTarget = config.FromViper(v).Client.APITarget
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context(), args)
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().StringVar(&cmder.watchDir, "watch", "", "Directory to keep in sync")
	cmd.Flags().BoolVarP(&cmder.force, "force", "f", false, "Ingest files even when the ledger says they are unchanged")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Print only document ids")

	return cmd
}

func (c *ingestCommander) run(ctx context.Context, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(os.Stderr))

	var err error
	c.client, err = client.New(c.apiTarget, nil)
	if err != nil {
		return err
	}

	c.ddm = dotdir.NewManager()
	c.ledger, err = c.ddm.LoadIngestLedger(c.configDir)
	if err != nil {
		return err
	}

	files, err := expand(paths)
	if err != nil {
		return err
	}

	var failed int
	for _, path := range files {
		if err := c.ingestFile(ctx, path); err != nil {
			failed++
			fmt.Fprintf(c.out, "  %s %s: %v\n", cliui.FailMark, path, err)
		}
	}

	if c.watchDir != "" {
		w, err := ingest.NewWatcher(c.watchDir, ingest.DefaultDebounce, c.ingestFile, c.logger)
		if err != nil {
			return err
		}
		if !c.quiet {
			fmt.Fprintf(c.out, "  %s %s\n", cliui.RunningMark, cliui.DimStyle.Render("watching "+c.watchDir+" (ctrl+c to stop)"))
		}
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// ingestFile uploads path unless the ledger shows it unchanged.
func (c *ingestCommander) ingestFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	unchanged := c.ledger.Unchanged(abs, info)
	c.mu.Unlock()
	if unchanged && !c.force {
		c.logger.Debug("skipping unchanged file", "path", abs)
		return nil
	}

	doc, err := ingest.ReadFile(abs)
	if err != nil {
		return err
	}

	var res *ingest.Result
	upload := func() error {
		res, err = c.client.IngestDocument(ctx, doc)
		return err
	}
	if c.quiet {
		err = upload()
	} else {
		err = cliui.Step(c.out, "Ingesting "+doc.Filename, upload)
	}
	if err != nil {
		return err
	}

	if c.quiet {
		fmt.Fprintln(c.out, res.DocumentID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger.Record(abs, dotdir.IngestRecord{
		DocumentID: res.DocumentID,
		TaskID:     res.TaskID,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
	})
	return c.ddm.SaveIngestLedger(c.ledger, c.configDir)
}

// expand replaces directories with the text files beneath them.
func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingest.IsText(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
