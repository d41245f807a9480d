// Package configcmder provides the config command for managing persistent
// quarry configuration stored in the .quarry/ directory.
package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/pkg/cliui"
	"github.com/papercomputeco/quarry/pkg/config"
)

const configLongDesc string = `Manage persistent quarry configuration.

Configuration is stored as config.toml in the .quarry/ directory and provides
default values for command flags. CLI flags and QUARRY_ environment variables
always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path, storage.postgres_dsn,
  api.listen, client.api_target,
  vector_store.provider, vector_store.target, vector_store.collection,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  chunking.max_chunk_size, chunking.overlap,
  vectorize.workers, vectorize.queue_size,
  retrieval.default_limit, retrieval.default_threshold,
  events.provider, events.topic

Subcommands:
  quarry config set <key> <value>    Write a value to config.toml
  quarry config get <key>            Show the value stored in config.toml
  quarry config unset <key>          Restore a key to its default
  quarry config list [-e]            List stored (or effective) values
  quarry config path                 Print the config.toml location

Examples:
  quarry config set embedding.provider openai
  quarry config set chunking.max_chunk_size 800
  quarry config unset vectorize.workers
  QUARRY_EMBEDDING_MODEL=mxbai-embed-large quarry config list -e`

const configShortDesc string = "Manage persistent quarry configuration"

// secretKeys are masked in output unless --show-secrets is passed.
var secretKeys = map[string]bool{
	"embedding.api_key":    true,
	"storage.postgres_dsn": true,
}

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newUnsetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newPathCmd())

	return cmd
}

// openConfiger resolves config.toml from the inherited --config-dir flag.
func openConfiger(cmd *cobra.Command) (*config.Configer, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfger, nil
}

func printTarget(cmd *cobra.Command, cfger *config.Configer) {
	note := ""
	if !cfger.Exists() {
		note = " " + cliui.DimStyle.Render("(not written yet, showing defaults)")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n  %s %s%s\n\n",
		cliui.KeyStyle.Render("Config file:"),
		cliui.DimStyle.Render(cfger.Path()),
		note,
	)
}

func display(key, value string, reveal bool) string {
	if value == "" {
		return cliui.DimStyle.Render("<not set>")
	}
	if secretKeys[key] && !reveal {
		return cliui.DimStyle.Render("<hidden>")
	}
	return cliui.ValueStyle.Render(value)
}

func requireKey(key string) error {
	if config.IsValidConfigKey(key) {
		return nil
	}
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}
