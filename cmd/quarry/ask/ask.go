// Package askcmder provides the ask command, which streams the passages
// relevant to a question from a running quarry API server.
package askcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/api/client"
	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/cliui"
	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/sse"
	"github.com/papercomputeco/quarry/pkg/utils"
)

var (
	sourceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	scoreStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// ErrStream is returned when the server reports a failure mid-stream.
var ErrStream = errors.New("query failed")

type askCommander struct {
	question  string
	limit     int
	threshold float64
	documents []int64
	markdown  bool
	raw       bool

	apiTarget string
	out       io.Writer

	// names maps document ids to filenames from the documents event.
	names map[int64]string
}

const askLongDesc string = `Ask a question against the ingested documents.

Streams the query from the quarry API: the server reports its progress,
the documents it matched and then each relevant passage as it is produced.

Use --markdown to render passages with glamour, or --raw to print the
server-sent events exactly as received.

Examples:
  quarry ask "how do I rotate the API key?"
  quarry ask "what does the scheduler guarantee" --limit 3 --markdown
  quarry ask "deployment steps" --raw`

const askShortDesc string = "Stream the passages that answer a question"

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagAPITarget})
			cmder.apiTarget = config.FromViper(v).Client.APITarget
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.question = args[0]
			cmder.out = cmd.OutOrStdout()

			params := tools.SearchParams{Query: cmder.question, DocumentIDs: cmder.documents}
			if cmd.Flags().Changed("limit") {
				params.Limit = &cmder.limit
			}
			if cmd.Flags().Changed("threshold") {
				params.Threshold = &cmder.threshold
			}
			return cmder.run(cmd.Context(), params)
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().IntVarP(&cmder.limit, "limit", "k", 0, "Maximum number of passages (server default when unset)")
	cmd.Flags().Float64VarP(&cmder.threshold, "threshold", "t", 0, "Minimum similarity score (server default when unset)")
	cmd.Flags().Int64SliceVarP(&cmder.documents, "document", "D", nil, "Restrict to these document ids (repeatable)")
	cmd.Flags().BoolVarP(&cmder.markdown, "markdown", "m", false, "Render passages as markdown")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print the raw event stream")

	return cmd
}

func (c *askCommander) run(ctx context.Context, params tools.SearchParams) error {
	if ctx == nil {
		ctx = context.Background()
	}
	api, err := client.New(c.apiTarget, nil)
	if err != nil {
		return err
	}

	c.names = make(map[int64]string)
	return api.QueryStream(ctx, params, c.handle)
}

func (c *askCommander) handle(ev *sse.Event) error {
	if c.raw {
		return sse.Encode(c.out, *ev)
	}

	switch ev.Type {
	case tools.EventStatus:
		var p tools.StatusPayload
		if err := sse.Decode(*ev, &p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "  %s %s\n", cliui.RunningMark, cliui.DimStyle.Render(p.Status+"..."))

	case tools.EventDocuments:
		var p tools.DocumentsPayload
		if err := sse.Decode(*ev, &p); err != nil {
			return err
		}
		for _, r := range p.Results {
			c.names[r.DocumentID] = r.DocumentName
		}
		fmt.Fprintf(c.out, "  %s matched %d %s\n\n", cliui.SuccessMark, p.TotalResults, utils.Plural(p.TotalResults, "passage"))

	case tools.EventContent:
		var p tools.ContentPayload
		if err := sse.Decode(*ev, &p); err != nil {
			return err
		}
		c.printPassage(p)

	case tools.EventCompleted:
		var p tools.CompletedPayload
		if err := sse.Decode(*ev, &p); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render(fmt.Sprintf(
			"%d %s, %d tokens in %dms", p.TotalResults, utils.Plural(p.TotalResults, "passage"), p.Tokens, p.TotalTimeMS)))

	case tools.EventError:
		var p tools.ErrorPayload
		if err := sse.Decode(*ev, &p); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrStream, p.Message)
	}
	return nil
}

func (c *askCommander) printPassage(p tools.ContentPayload) {
	name := c.names[p.DocumentID]
	if name == "" {
		name = fmt.Sprintf("document %d", p.DocumentID)
	}
	fmt.Fprintf(c.out, "  %s %s\n",
		sourceStyle.Render(fmt.Sprintf("[%d] %s", p.Index+1, name)),
		scoreStyle.Render(fmt.Sprintf("(%.3f)", p.Score)),
	)

	content := strings.TrimSpace(p.Content)
	if c.markdown {
		// RenderMarkdown returns the input unchanged on error.
		content, _ = cliui.RenderMarkdown(content)
		fmt.Fprintln(c.out, content)
		return
	}
	for line := range strings.SplitSeq(content, "\n") {
		fmt.Fprintf(c.out, "  %s\n", line)
	}
	fmt.Fprintln(c.out)
}
