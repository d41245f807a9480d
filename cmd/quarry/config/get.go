package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/pkg/cliui"
)

const getLongDesc string = `Show the value config.toml holds for a key.

Environment variables and flags are not applied; use 'quarry config list -e'
to see what a command would actually run with. Secret keys print as <hidden>
unless --show-secrets is passed.

Examples:
  quarry config get embedding.provider
  quarry config get embedding.api_key --show-secrets`

func newGetCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show a configuration value",
		Long:  getLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := requireKey(key); err != nil {
				return err
			}

			cfger, err := openConfiger(cmd)
			if err != nil {
				return err
			}
			printTarget(cmd, cfger)

			value, err := cfger.GetConfigValue(key)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n\n", cliui.KeyStyle.Render(key), display(key, value, reveal))
			return nil
		},
		ValidArgsFunction: completeKeys,
	}

	cmd.Flags().BoolVar(&reveal, "show-secrets", false, "Print secret values in full")

	return cmd
}
