// Package searchcmder provides the search command for semantic search over
// ingested documents.
package searchcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/quarry/api/client"
	"github.com/papercomputeco/quarry/api/tools"
	"github.com/papercomputeco/quarry/pkg/cliui"
	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/retrieval"
	"github.com/papercomputeco/quarry/pkg/utils"
	"github.com/papercomputeco/quarry/pkg/vector"
)

var (
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const defaultWidth = 80

type searchCommander struct {
	query       string
	limit       int
	threshold   float64
	documentIDs []int64
	quiet       bool
	jsonOut     bool
	full        bool

	apiTarget string
	out       io.Writer
}

const searchLongDesc string = `Search ingested documents via the quarry API.

Embeds the query and returns the chunks most similar to it, best first.
Requires a running quarry API server.

Use --quiet to output only "document_id:chunk_index" pairs, one per line,
or --json for the raw response. Use --full to render each matching chunk
as markdown instead of a one-line preview.

Examples:
  quarry search "how are retries configured"
  quarry search "rate limits" --limit 10 --threshold 0.5
  quarry search "rate limits" --document 3 --document 7
  quarry search "rate limits" --api-target http://localhost:9090 --json`

const searchShortDesc string = "Search ingested documents"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
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
			cmder.query = args[0]
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().IntVarP(&cmder.limit, "limit", "k", 0, "Maximum number of results (server default when unset)")
	cmd.Flags().Float64VarP(&cmder.threshold, "threshold", "t", 0, "Minimum similarity score (server default when unset)")
	cmd.Flags().Int64SliceVarP(&cmder.documentIDs, "document", "D", nil, "Restrict the search to these document ids")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only document_id:chunk_index pairs")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Output the raw JSON response")
	cmd.Flags().BoolVarP(&cmder.full, "full", "F", false, "Render full chunk content as markdown")

	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command) error {
	api, err := client.New(c.apiTarget, nil)
	if err != nil {
		return err
	}

	params := tools.SearchParams{Query: c.query, DocumentIDs: c.documentIDs}
	if cmd.Flags().Changed("limit") {
		params.Limit = &c.limit
	}
	if cmd.Flags().Changed("threshold") {
		params.Threshold = &c.threshold
	}

	res, err := api.Search(cmd.Context(), params)
	if err != nil {
		return err
	}

	switch {
	case c.jsonOut:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case c.quiet:
		for _, r := range res.Results {
			fmt.Fprintf(c.out, "%d:%d\n", r.DocumentID, r.ChunkIndex)
		}
		return nil
	}

	c.print(res, outputWidth(c.out))
	return nil
}

func (c *searchCommander) print(res *retrieval.Response, width int) {
	if res.TotalResults == 0 {
		fmt.Fprintln(c.out, "No results found.")
		return
	}

	fmt.Fprintf(c.out, "\n%s %s %s\n\n",
		headerStyle.Render("Search Results for:"),
		nameStyle.Render(fmt.Sprintf("%q", res.Query)),
		dimStyle.Render(fmt.Sprintf("(%d results, %dms)", res.TotalResults, res.QueryTimeMS)),
	)

	for i, r := range res.Results {
		printResult(c.out, i+1, r, width, c.full)
	}
}

func printResult(w io.Writer, rank int, r vector.SearchResult, width int, full bool) {
	fmt.Fprintf(w, "  %s  %s  %s %s\n",
		rankStyle.Render(fmt.Sprintf("#%d", rank)),
		scoreStyle.Render(fmt.Sprintf("score: %.4f", r.Score)),
		nameStyle.Render(r.DocumentName),
		dimStyle.Render(fmt.Sprintf("[doc %d, chunk %d]", r.DocumentID, r.ChunkIndex)),
	)
	if full {
		rendered, err := cliui.RenderMarkdown(r.Content)
		if err != nil {
			rendered = r.Content + "\n"
		}
		fmt.Fprint(w, rendered)
		return
	}
	fmt.Fprintf(w, "  %s\n\n", previewStyle.Render(Preview(r.Content, width-2)))
}

// Preview flattens content to one line of at most width cells.
func Preview(content string, width int) string {
	return utils.Truncate(utils.OneLine(content), width)
}

// outputWidth is the terminal width of w, or defaultWidth when w is not a
// terminal.
func outputWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
