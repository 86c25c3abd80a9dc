package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/config"
)

// newTestFlags registers all config flags on a fresh FlagSet, then parses extra args.
func newTestFlags(t *testing.T, cfgFile string, extra ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	args := append([]string{"--config=" + cfgFile}, extra...)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_DefaultsWithTempDir(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")

	cfg, err := config.Load(newTestFlags(t, cfgFile))
	require.NoError(t, err)
	assert.Equal(t, cfgFile, cfg.ConfigFile)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "table", cfg.Output)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "viewdns", cfg.Provider)
	assert.Equal(t, 30*time.Second, cfg.Harvest.PageTimeout)
	assert.Equal(t, 3, cfg.Harvest.MaxRetries)
	assert.Equal(t, 10000, cfg.Export.BatchSize)
	assert.Equal(t, 50000, cfg.Export.ChunkRows)

	// Config file should now exist with 0600 permissions.
	info, err := os.Stat(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_ExistingConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")

	// Pre-create the file; Load must not fail if it already exists.
	require.NoError(t, os.WriteFile(cfgFile, []byte{}, 0o600))

	cfg, err := config.Load(newTestFlags(t, cfgFile, "--verbose", "--output=json"))
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := `output: plain
concurrency: 4
provider: securitytrails
providers:
  viewdns:
    api_key: file-key-vd
  securitytrails:
    api_key: file-key-st
    requests_per_second: 2.5
    max_pages: 25
harvest:
  page_timeout: 10s
  max_retries: 5
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o600))

	// No CLI flags for these keys; viper should read them from the file.
	cfg, err := config.Load(newTestFlags(t, cfgFile))
	require.NoError(t, err)
	assert.Equal(t, "plain", cfg.Output)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "securitytrails", cfg.Provider)
	assert.Equal(t, "file-key-vd", cfg.Providers.ViewDNS.APIKey)
	assert.Equal(t, "file-key-st", cfg.Providers.SecurityTrails.APIKey)
	assert.Equal(t, 2.5, cfg.Providers.SecurityTrails.RequestsPerSecond)
	assert.Equal(t, 25, cfg.Providers.SecurityTrails.MaxPages)
	assert.Equal(t, 10*time.Second, cfg.Harvest.PageTimeout)
	assert.Equal(t, 5, cfg.Harvest.MaxRetries)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("output: plain\nconcurrency: 8\n"), 0o600))

	cfg, err := config.Load(newTestFlags(t, cfgFile, "--output=json", "--concurrency=3"))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, 3, cfg.Concurrency)
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	t.Setenv("VIEWDNS_API_KEY", "env-key-vd")
	t.Setenv("SECURITYTRAILS_API_KEY", "env-key-st")

	cfg, err := config.Load(newTestFlags(t, cfgFile))
	require.NoError(t, err)
	assert.Equal(t, "env-key-vd", cfg.Providers.ViewDNS.APIKey)
	assert.Equal(t, "env-key-st", cfg.Providers.SecurityTrails.APIKey)
}

func TestLoad_FileKeyBeatsEnv(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile,
		[]byte("providers:\n  viewdns:\n    api_key: file-key\n"), 0o600))
	t.Setenv("VIEWDNS_API_KEY", "env-key")

	// viper gives env precedence over file values.
	cfg, err := config.Load(newTestFlags(t, cfgFile))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Providers.ViewDNS.APIKey)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("output: [unclosed\n"), 0o600))

	_, err := config.Load(newTestFlags(t, cfgFile))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := config.DefaultConfigPath()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.True(t, filepath.IsAbs(path), "expected absolute path, got %q", path)
	assert.Equal(t, "config.yaml", filepath.Base(path))
	assert.Equal(t, "revharvest", filepath.Base(filepath.Dir(path)))
}

func TestValidateKey(t *testing.T) {
	t.Run("valid_underscore", func(t *testing.T) {
		require.NoError(t, config.ValidateKey("harvest.page_timeout"))
	})
	t.Run("valid_hyphen", func(t *testing.T) {
		require.NoError(t, config.ValidateKey("harvest.page-timeout"))
	})
	t.Run("all_keys", func(t *testing.T) {
		for _, k := range config.ValidKeys() {
			require.NoError(t, config.ValidateKey(k), "key %q should be valid", k)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		err := config.ValidateKey("does_not_exist")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	})
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		raw     string
		want    any
		wantErr bool
	}{
		{"bool", "verbose", "true", true, false},
		{"bool invalid", "verbose", "yep", nil, true},
		{"int", "concurrency", "4", 4, false},
		{"int invalid", "export.batch_size", "many", nil, true},
		{"float", "providers.viewdns.requests_per_second", "0.5", 0.5, false},
		{"duration", "harvest.page_timeout", "45s", "45s", false},
		{"duration invalid", "harvest.page_timeout", "soon", nil, true},
		{"output enum", "output", "json", "json", false},
		{"output invalid", "output", "xml", nil, true},
		{"provider enum", "provider", "securitytrails", "securitytrails", false},
		{"provider invalid", "provider", "whois", nil, true},
		{"free-form string", "providers.viewdns.api_key", "abc123", "abc123", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := config.ParseValue(tc.key, tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadAliases_FileNotFound(t *testing.T) {
	aliases, err := config.LoadAliases("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.NotNil(t, aliases)
	assert.Empty(t, aliases)
}

func TestLoadAliases_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte{}, 0o600))

	aliases, err := config.LoadAliases(cfgFile)
	require.NoError(t, err)
	assert.NotNil(t, aliases)
	assert.Empty(t, aliases)
}

func TestLoadAliases_NoAliasesKey(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("output: json\nverbose: true\n"), 0o600))

	aliases, err := config.LoadAliases(cfgFile)
	require.NoError(t, err)
	assert.NotNil(t, aliases)
	assert.Empty(t, aliases)
}

func TestLoadAliases_WithAliases(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("alias:\n  hx: harvest --kind mx\n  st: harvest -p securitytrails\n"), 0o600))

	aliases, err := config.LoadAliases(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"hx": "harvest --kind mx",
		"st": "harvest -p securitytrails",
	}, aliases)
}
