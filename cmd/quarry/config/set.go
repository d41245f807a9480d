package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/pkg/cliui"
)

const setLongDesc string = `Write a value to config.toml.

Numeric and duration keys are validated before the file is written. The
file is created with 0600 permissions since it may hold an API key.

Examples:
  quarry config set embedding.provider openai
  quarry config set embedding.timeout 45s
  quarry config set vectorize.workers 4`

const unsetLongDesc string = `Restore a key in config.toml to its default value.

Examples:
  quarry config unset vectorize.workers
  quarry config unset embedding.api_key`

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  setLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := requireKey(key); err != nil {
				return err
			}

			cfger, err := openConfiger(cmd)
			if err != nil {
				return err
			}
			printTarget(cmd, cfger)

			if err := cfger.SetConfigValue(key, value); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "  %s Set %s = %s\n\n",
				cliui.SuccessMark, cliui.KeyStyle.Render(key), display(key, value, false))
			return nil
		},
		ValidArgsFunction: completeKeys,
	}
}

func newUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Restore a configuration value to its default",
		Long:  unsetLongDesc,
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

			if err := cfger.UnsetConfigValue(key); err != nil {
				return err
			}

			value, err := cfger.GetConfigValue(key)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "  %s Reset %s to %s\n\n",
				cliui.SuccessMark, cliui.KeyStyle.Render(key), display(key, value, false))
			return nil
		},
		ValidArgsFunction: completeKeys,
	}
}
