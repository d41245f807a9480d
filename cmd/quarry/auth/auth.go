// Package authcmder provides the auth command for storing embedding
// provider API keys.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/quarry/pkg/cliui"
	"github.com/papercomputeco/quarry/pkg/credentials"
)

const authLongDesc string = `Store API keys for embedding providers.

Keys live in credentials.toml in the .quarry/ directory. quarry serve reads
them when embedding.api_key is not configured. The provider's environment
variable (e.g. OPENAI_API_KEY) replaces a stored key at startup.

--target stores an endpoint alongside the key, for gateways that speak the
provider's API. It replaces embedding.target for that provider.

Supported providers: openai

Examples:
  quarry auth openai                                   Prompt for an OpenAI API key
  quarry auth openai --target https://gw.internal/v1   Store a key for a gateway
  quarry auth --list                                   List stored credentials
  quarry auth --remove openai                          Remove stored OpenAI credentials
  echo $KEY | quarry auth openai                       Pipe the API key from stdin`

const authShortDesc string = "Store API keys for embedding providers"

type authCommander struct {
	list   bool
	remove string
	target string

	configDir string
	in        io.Reader
	out       io.Writer
}

func NewAuthCmd() *cobra.Command {
	c := &authCommander{}

	cmd := &cobra.Command{
		Use:   "auth [provider]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.configDir, _ = cmd.Flags().GetString("config-dir")
			c.in = cmd.InOrStdin()
			c.out = cmd.OutOrStdout()

			mgr, err := credentials.NewManager(c.configDir)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			switch {
			case c.list:
				return c.runList(mgr)
			case c.remove != "":
				return c.runRemove(mgr, normalize(c.remove))
			case len(args) == 0:
				return fmt.Errorf("provider argument required\n\nSupported providers: %s", supported())
			default:
				return c.runStore(mgr, normalize(args[0]))
			}
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return credentials.SupportedProviders(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&c.list, "list", false, "List stored credentials")
	cmd.Flags().StringVar(&c.remove, "remove", "", "Remove stored credentials for a provider")
	cmd.Flags().StringVar(&c.target, "target", "", "Endpoint to use with this key instead of embedding.target")

	return cmd
}

func (c *authCommander) runStore(mgr *credentials.Manager, provider string) error {
	if !credentials.IsSupportedProvider(provider) {
		return fmt.Errorf("unsupported provider: %q\n\nSupported providers: %s", provider, supported())
	}

	key, err := readAPIKey(c.in, c.out, provider)
	if err != nil {
		return err
	}

	cred := credentials.Credential{
		APIKey: strings.TrimSpace(key),
		Target: strings.TrimSpace(c.target),
	}
	if err := mgr.Store(provider, cred); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  %s Stored %s credentials %s\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(provider),
		cliui.DimStyle.Render(credentials.Mask(cred.APIKey)),
	)
	if cred.Target != "" {
		fmt.Fprintf(c.out, "    %s %s\n", cliui.DimStyle.Render("target"), cred.Target)
	}
	if env := credentials.EnvVar(provider); os.Getenv(env) != "" {
		fmt.Fprintf(c.out, "    %s\n", cliui.DimStyle.Render(env+" is set and takes precedence"))
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *authCommander) runList(mgr *credentials.Manager) error {
	providers, err := mgr.Providers()
	if err != nil {
		return err
	}

	if len(providers) == 0 {
		fmt.Fprintf(c.out, "\n  %s No stored credentials.\n", cliui.PendingMark)
		fmt.Fprintf(c.out, "  Use 'quarry auth <provider>' to store credentials.\n")
		fmt.Fprintf(c.out, "  Supported providers: %s\n\n", supported())
		return nil
	}

	fmt.Fprintf(c.out, "\n  %s %s\n\n", cliui.KeyStyle.Render("Stored credentials"), cliui.DimStyle.Render(mgr.Path()))
	for _, p := range providers {
		cred, src, err := mgr.Lookup(p)
		if err != nil {
			return err
		}

		line := fmt.Sprintf("  %s  %-8s %s", cliui.SuccessMark, p, credentials.Mask(cred.APIKey))
		if src == credentials.SourceEnv {
			line += "  " + cliui.DimStyle.Render("← "+credentials.EnvVar(p))
		}
		if cred.Target != "" {
			line += "  " + cliui.DimStyle.Render(cred.Target)
		}
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprintln(c.out)

	return nil
}

func (c *authCommander) runRemove(mgr *credentials.Manager, provider string) error {
	if _, ok, err := mgr.Stored(provider); err != nil {
		return err
	} else if !ok {
		fmt.Fprintf(c.out, "\n  %s No %s credentials stored.\n\n", cliui.PendingMark, provider)
		return nil
	}

	if err := mgr.Remove(provider); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  %s Removed %s credentials.\n\n", cliui.SuccessMark, provider)
	return nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func supported() string {
	return strings.Join(credentials.SupportedProviders(), ", ")
}

// readAPIKey prompts with hidden input when in is a terminal and reads the
// first line otherwise.
func readAPIKey(in io.Reader, out io.Writer, provider string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(out, "Enter API key for %s: ", provider)
		keyBytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return string(keyBytes), nil
	}

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no input received on stdin")
}
