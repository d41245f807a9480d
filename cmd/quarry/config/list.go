package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/pkg/cliui"
	"github.com/papercomputeco/quarry/pkg/config"
)

const listLongDesc string = `List every configuration key.

By default the values stored in config.toml are shown. With --effective the
QUARRY_ environment variables and .env files are applied as well, and each
value is tagged with the layer that supplied it (file, env, default).

Examples:
  quarry config list
  quarry config list --effective`

func newListCmd() *cobra.Command {
	var effective, reveal bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfger, err := openConfiger(cmd)
			if err != nil {
				return err
			}
			printTarget(cmd, cfger)

			lookup := func(key string) (string, string, error) {
				v, err := cfger.GetConfigValue(key)
				return v, "", err
			}
			if effective {
				configDir, _ := cmd.Flags().GetString("config-dir")
				v, err := config.InitViper(configDir)
				if err != nil {
					return err
				}
				lookup = func(key string) (string, string, error) {
					value, src, err := config.Effective(v, key)
					return value, string(src), err
				}
			}

			return printKeys(cmd, lookup, reveal)
		},
	}

	cmd.Flags().BoolVarP(&effective, "effective", "e", false, "Apply environment overrides and show where each value comes from")
	cmd.Flags().BoolVar(&reveal, "show-secrets", false, "Print secret values in full")

	return cmd
}

func printKeys(cmd *cobra.Command, lookup func(string) (string, string, error), reveal bool) error {
	out := cmd.OutOrStdout()
	keys := config.ValidConfigKeys()

	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}

	for _, key := range keys {
		value, src, err := lookup(key)
		if err != nil {
			return err
		}

		line := fmt.Sprintf("  %-*s  %s", width, key, display(key, value, reveal))
		if src != "" {
			line += "  " + cliui.DimStyle.Render("("+src+")")
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	return nil
}

func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the location of config.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfger, err := openConfiger(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfger.Path())
			return nil
		},
	}
}
