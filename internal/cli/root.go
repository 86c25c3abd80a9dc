// Package cli provides the Cobra command tree and output wiring for revharvest.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/revharvest/revharvest/internal/config"
	"github.com/revharvest/revharvest/internal/validate"
	"github.com/revharvest/revharvest/internal/version"
	"github.com/revharvest/revharvest/internal/worker"
)

// newRootCmd builds the top-level Cobra command for revharvest.
// Callers must set stdout/stderr via cmd.SetOut / cmd.SetErr before Execute.
func newRootCmd() *cobra.Command {
	// d is populated by PersistentPreRunE before any subcommand's RunE runs.
	// INVARIANT: Cobra only executes the innermost PersistentPreRunE in the
	// command chain. If a future subcommand defines its own PersistentPreRunE,
	// the root hook will NOT run and d will be zero-valued. Do not add
	// PersistentPreRunE to any subcommand without also re-calling buildDeps.
	var d deps

	cmd := &cobra.Command{
		Use:   "revharvest",
		Short: "Incremental reverse-DNS harvester with a local dedup cache",
		Long: `Revharvest collects the domains behind a mail or name server through
reverse MX / reverse NS lookups, pages through provider APIs at their rate
limits, deduplicates everything into a local SQLite cache, and exports the
results as CSV, XLSX or chunked ZIP archives.

Harvests are resumable: every page advances a persisted cursor, so Ctrl-C,
crashes and rate-limit stalls never lose progress. Providers: viewdns
(unlimited pagination), securitytrails (page-capped scroll API).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := buildDeps(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			d = *resolved
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return d.close()
		},
	}

	config.RegisterFlags(cmd.PersistentFlags())
	_ = cmd.RegisterFlagCompletionFunc("output", config.CompleteOutputFormat)
	_ = cmd.RegisterFlagCompletionFunc("provider", config.CompleteProvider)

	cmd.Version = version.Version
	cmd.SetVersionTemplate("revharvest version {{.Version}}\n")

	cmd.AddGroup(
		&cobra.Group{ID: "harvest", Title: "Harvesting Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "utility", Title: "Utility Commands:"},
	)

	cmd.AddCommand(
		newHarvestCmd(&d),
		newResumeCmd(&d),
		newCancelCmd(&d),
		newSessionsCmd(&d),
		newExportCmd(&d),
		newStatsCmd(&d),
		newVerifyCmd(&d),
		newPurgeCmd(&d),
		newConfigCmd(&d),
		newAliasCmd(&d),
		newCompletionCmd(),
		newVersionCmd(&d),
	)

	return cmd
}

// Execute builds the root command and runs it with the given arguments
// (excluding the program name). Aliases from the config file are expanded
// before parsing.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	args = expandAliases(args, loadAliases(args))

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

// loadAliases reads the alias map for expansion before Cobra parses anything.
// Failures are ignored here: buildDeps reports config problems with full
// context once a real command runs.
func loadAliases(args []string) map[string]string {
	path := configPathFromArgs(args)
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil
		}
	}
	aliases, err := config.LoadAliases(path)
	if err != nil {
		return nil
	}
	return aliases
}

// configPathFromArgs extracts the --config value without parsing the full
// flag set.
func configPathFromArgs(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
	}
	return ""
}

// rootValueFlags are the persistent flags that consume the following argument,
// so alias expansion can tell flag values apart from the command token.
var rootValueFlags = map[string]bool{
	"--config":      true,
	"--output":      true,
	"-o":            true,
	"--concurrency": true,
	"--database":    true,
	"--provider":    true,
	"-p":            true,
}

// expandAliases replaces the first command token with its configured
// expansion, whitespace-split. Expansion happens once; aliases cannot
// reference other aliases.
func expandAliases(args []string, aliases map[string]string) []string {
	if len(aliases) == 0 {
		return args
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			if rootValueFlags[a] {
				i++
			}
			continue
		}
		expansion, ok := aliases[a]
		if !ok {
			return args
		}
		expanded := make([]string, 0, len(args)+2)
		expanded = append(expanded, args[:i]...)
		expanded = append(expanded, strings.Fields(expansion)...)
		expanded = append(expanded, args[i+1:]...)
		return expanded
	}
	return args
}

// resolveInputs returns positional args, or reads non-empty lines from stdin when
// no args are provided. Returns an error if stdin is an interactive terminal with
// no args (i.e. the user forgot to pass an argument or pipe input).
func resolveInputs(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	r := cmd.InOrStdin()
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // uintptr→int is safe for file descriptors; they fit in int on all supported platforms
		return nil, fmt.Errorf("no input: pass an argument or pipe stdin")
	}
	return worker.ReadInputs(r)
}

// normalizeKeys lowercases and trims every key and drops duplicates while
// preserving first-seen order. Invalid keys are kept: each one surfaces as a
// per-key error instead of silently vanishing from a bulk run.
func normalizeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		n := validate.NormalizeDomain(k)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
