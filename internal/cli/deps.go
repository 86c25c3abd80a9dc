package cli

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/appdir"
	"github.com/revharvest/revharvest/internal/config"
	"github.com/revharvest/revharvest/internal/export"
	"github.com/revharvest/revharvest/internal/governor"
	"github.com/revharvest/revharvest/internal/harvest"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/provider"
	"github.com/revharvest/revharvest/internal/store"
)

// deps holds fully-resolved runtime dependencies for a subcommand.
type deps struct {
	logger   *slog.Logger
	cfg      *config.Config
	format   output.Format
	store    *store.Store
	manager  *harvest.Manager
	exporter *export.Exporter
}

// buildDeps resolves config, logger, output format, database, providers and the
// harvest manager. Interrupted sessions from a previous process are parked as
// paused here, before any subcommand runs.
func buildDeps(cmd *cobra.Command, stderr io.Writer) (*deps, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("%w: --concurrency must be at least 1, got %d", apperr.ErrInvalidInput, cfg.Concurrency)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}

	dbPath, err := resolveDatabasePath(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	d := &deps{
		logger: logger,
		cfg:    cfg,
		format: format,
		store:  st,
	}

	gov := governor.New(logger)
	d.manager = harvest.NewManager(st, gov, logger, harvest.Options{
		PageTimeout: cfg.Harvest.PageTimeout,
		MaxRetries:  cfg.Harvest.MaxRetries,
	})
	for _, name := range provider.Available() {
		client, err := d.newProviderClient(name, 0)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		d.manager.RegisterClient(client)
	}

	recovered, err := d.manager.Recover(cmd.Context())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("recovering interrupted sessions: %w", err)
	}
	if recovered > 0 {
		logger.Info("parked interrupted sessions as paused", "count", recovered)
	}

	d.exporter = export.New(st, logger, export.Options{
		BatchSize: cfg.Export.BatchSize,
		ChunkRows: cfg.Export.ChunkRows,
	})

	return d, nil
}

// close releases the resources buildDeps acquired.
func (d *deps) close() error {
	if d.store == nil {
		return nil
	}
	if err := d.store.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// resolveDatabasePath returns the configured database path, or the OS data dir
// default, creating the parent directory either way.
func resolveDatabasePath(cfg *config.Config) (string, error) {
	path := cfg.Database
	if path == "" {
		dir, err := appdir.DataDir()
		if err != nil {
			return "", fmt.Errorf("resolving data dir: %w", err)
		}
		path = filepath.Join(dir, "harvest.db")
	}
	if err := appdir.EnsureDir(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("creating database dir: %w", err)
	}
	return path, nil
}

// providerConfig returns the config block for a provider name.
func (d *deps) providerConfig(name string) (config.ProviderConfig, error) {
	switch name {
	case provider.NameViewDNS:
		return d.cfg.Providers.ViewDNS, nil
	case provider.NameSecurityTrails:
		return d.cfg.Providers.SecurityTrails, nil
	default:
		return config.ProviderConfig{}, fmt.Errorf("%w: unknown provider %q (want viewdns or securitytrails)", apperr.ErrInvalidInput, name)
	}
}

// newProviderClient builds a provider client from config. maxPages > 0
// overrides the configured page cap for this invocation; a capped provider's
// own cap still wins.
func (d *deps) newProviderClient(name string, maxPages int) (provider.Client, error) {
	pc, err := d.providerConfig(name)
	if err != nil {
		return nil, err
	}
	opts := provider.Options{
		APIKey:            pc.APIKey,
		RequestsPerSecond: pc.RequestsPerSecond,
		MaxPages:          pc.MaxPages,
	}
	if maxPages > 0 {
		opts.MaxPages = maxPages
	}
	httpClient := provider.NewHTTPClient(d.cfg.Harvest.PageTimeout, d.logger, d.cfg.Verbose)
	return provider.New(name, httpClient, opts, d.logger)
}

// requireAPIKey fails fast when the named provider has no key configured, so a
// harvest does not burn a session on a guaranteed 401.
func (d *deps) requireAPIKey(name string) error {
	pc, err := d.providerConfig(name)
	if err != nil {
		return err
	}
	if pc.APIKey != "" {
		return nil
	}
	env := "VIEWDNS_API_KEY"
	if name == provider.NameSecurityTrails {
		env = "SECURITYTRAILS_API_KEY"
	}
	return fmt.Errorf("%w: no API key configured for provider %q (set providers.%s.api_key or %s)",
		apperr.ErrInvalidInput, name, name, env)
}

// writeResult formats and writes a command result to stdout.
func writeResult(stdout io.Writer, d *deps, result any) error {
	if err := output.Write(stdout, d.format, result); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
