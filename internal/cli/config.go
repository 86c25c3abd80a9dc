package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/revharvest/revharvest/internal/config"
	"github.com/revharvest/revharvest/internal/output"
)

func newConfigCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Read and write revharvest config file values",
		GroupID: "utility",
	}
	cmd.AddCommand(
		newConfigPathCmd(d),
		newConfigShowCmd(d),
		newConfigGetCmd(d),
		newConfigSetCmd(d),
		newConfigEditCmd(d),
	)
	return cmd
}

func newConfigPathCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), d.cfg.ConfigFile)
			return err
		},
	}
}

// configRow holds one key/value pair for display.
type configRow struct {
	key   string
	value string
}

// buildConfigRows returns every config key with its effective value, in the
// declaration order of ValidKeys. Values come from the fully-resolved d.cfg
// (defaults, file, env vars, flag overrides): show/get display effective
// state, not just what is written to the file.
func buildConfigRows(d *deps) []configRow {
	keys := config.ValidKeys()
	rows := make([]configRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, configRow{key: k, value: effectiveValue(d, k)})
	}
	return rows
}

// effectiveValue returns the current effective value for key from d.cfg.
// API keys are never echoed back in clear text.
func effectiveValue(d *deps, key string) string {
	switch config.NormalizeKey(key) {
	case "verbose":
		return fmt.Sprintf("%v", d.cfg.Verbose)
	case "output":
		return d.cfg.Output
	case "concurrency":
		return fmt.Sprintf("%d", d.cfg.Concurrency)
	case "database":
		return d.cfg.Database
	case "provider":
		return d.cfg.Provider
	case "providers.viewdns.api_key":
		return maskAPIKey(d.cfg.Providers.ViewDNS.APIKey)
	case "providers.viewdns.requests_per_second":
		return formatRate(d.cfg.Providers.ViewDNS.RequestsPerSecond)
	case "providers.viewdns.max_pages":
		return fmt.Sprintf("%d", d.cfg.Providers.ViewDNS.MaxPages)
	case "providers.securitytrails.api_key":
		return maskAPIKey(d.cfg.Providers.SecurityTrails.APIKey)
	case "providers.securitytrails.requests_per_second":
		return formatRate(d.cfg.Providers.SecurityTrails.RequestsPerSecond)
	case "providers.securitytrails.max_pages":
		return fmt.Sprintf("%d", d.cfg.Providers.SecurityTrails.MaxPages)
	case "harvest.page_timeout":
		return d.cfg.Harvest.PageTimeout.String()
	case "harvest.max_retries":
		return fmt.Sprintf("%d", d.cfg.Harvest.MaxRetries)
	case "export.batch_size":
		return fmt.Sprintf("%d", d.cfg.Export.BatchSize)
	case "export.chunk_rows":
		return fmt.Sprintf("%d", d.cfg.Export.ChunkRows)
	default:
		return ""
	}
}

func maskAPIKey(v string) string {
	if v == "" {
		return ""
	}
	return "****"
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func newConfigShowCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:     "show",
		Aliases: []string{"cat"},
		Short:   "Display all effective config settings",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			rows := buildConfigRows(d)
			switch d.format {
			case output.FormatJSON:
				m := make(map[string]string, len(rows))
				for _, r := range rows {
					m[r.key] = r.value
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			case output.FormatPlain:
				for _, r := range rows {
					if _, err := fmt.Fprintf(w, "%s=%s\n", r.key, r.value); err != nil {
						return err
					}
				}
				return nil
			default: // table
				table := output.NewWrappingTable(w, 20, 6)
				table.Header([]string{"KEY", "VALUE"})
				tableRows := make([][]string, len(rows))
				for i, r := range rows {
					tableRows[i] = []string{r.key, r.value}
				}
				if err := table.Bulk(tableRows); err != nil {
					return err
				}
				return table.Render()
			}
		},
	}
}

func newConfigGetCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a config key",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			key := config.NormalizeKey(args[0])
			if err := config.ValidateKey(key); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), effectiveValue(d, key))
			return err
		},
	}
}

func newConfigSetCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value and persist it to the config file",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			switch len(args) {
			case 0:
				return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
			case 1:
				return config.KeyCompletions(config.NormalizeKey(args[0])), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			key := config.NormalizeKey(args[0])
			if err := config.ValidateKey(key); err != nil {
				return err
			}
			typedValue, err := config.ParseValue(key, args[1])
			if err != nil {
				return err
			}

			// Read only what is already explicitly in the file, never from
			// d.cfg (which is fully populated with defaults and env values):
			// a fresh-file set writes only the one requested key.
			raw := map[string]any{}
			data, err := os.ReadFile(d.cfg.ConfigFile)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("reading config file: %w", err)
			}
			if len(data) > 0 {
				if err := yaml.Unmarshal(data, &raw); err != nil {
					return fmt.Errorf("parsing config file: %w", err)
				}
			}

			setNestedKey(raw, strings.Split(key, "."), typedValue)

			out, err := yaml.Marshal(raw)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			if err := os.WriteFile(d.cfg.ConfigFile, out, 0o600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}
			return nil
		},
	}
}

// setNestedKey writes value at the dotted path into the YAML map, creating
// intermediate maps as needed. A scalar in the way of the path is replaced.
func setNestedKey(m map[string]any, path []string, value any) {
	for len(path) > 1 {
		child, _ := m[path[0]].(map[string]any)
		if child == nil {
			child = map[string]any{}
			m[path[0]] = child
		}
		m = child
		path = path[1:]
	}
	m[path[0]] = value
}

func newConfigEditCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open the config file in $EDITOR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = os.Getenv("VISUAL")
			}
			if editor == "" {
				editor = "vi"
			}
			c := exec.CommandContext(cmd.Context(), editor, d.cfg.ConfigFile) //nolint:gosec // editor is sourced from user's $EDITOR/$VISUAL env var
			c.Stdin = cmd.InOrStdin()
			c.Stdout = cmd.OutOrStdout()
			c.Stderr = cmd.ErrOrStderr()
			return c.Run()
		},
	}
}
