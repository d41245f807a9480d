// Package quarrycmder
package quarrycmder

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/quarry/cmd/quarry/ask"
	authcmder "github.com/papercomputeco/quarry/cmd/quarry/auth"
	configcmder "github.com/papercomputeco/quarry/cmd/quarry/config"
	ingestcmder "github.com/papercomputeco/quarry/cmd/quarry/ingest"
	initcmder "github.com/papercomputeco/quarry/cmd/quarry/init"
	searchcmder "github.com/papercomputeco/quarry/cmd/quarry/search"
	servecmder "github.com/papercomputeco/quarry/cmd/quarry/serve"
	taskscmder "github.com/papercomputeco/quarry/cmd/quarry/tasks"
	versioncmder "github.com/papercomputeco/quarry/cmd/version"
)

const quarryLongDesc string = `Quarry turns a folder of documents into a searchable vector index.

Run the server and feed it documents:
  quarry init                Create a .quarry/ config directory
  quarry serve               Run the API server (JSON-RPC, REST, SSE and MCP)
  quarry ingest ./docs       Upload documents for chunking and embedding

Then query it:
  quarry search "question"   Print ranked passages
  quarry ask "question"      Stream passages as they are retrieved
  quarry tasks --watch       Follow vectorization progress`

const quarryShortDesc string = "Quarry - Retrieval for your documents"

func NewQuarryCmd() *cobra.Command {
	// Subcommands such as tasks carry their own persistent hooks.
	cobra.EnableTraverseRunHooks = true

	cmd := &cobra.Command{
		Use:           "quarry",
		Short:         quarryShortDesc,
		Long:          quarryLongDesc,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
				lipgloss.SetColorProfile(termenv.Ascii)
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .quarry/ config directory")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	// Add subcommands
	cmd.AddCommand(
		servecmder.NewServeCmd(),
		ingestcmder.NewIngestCmd(),
		searchcmder.NewSearchCmd(),
		askcmder.NewAskCmd(),
		taskscmder.NewTasksCmd(),
		configcmder.NewConfigCmd(),
		initcmder.NewInitCmd(),
		authcmder.NewAuthCmd(),
		versioncmder.NewVersionCmd(),
	)

	return cmd
}
