package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/revharvest/revharvest/internal/appdir"
)

// flagBindings maps persistent CLI flag names to config keys. Flags bound here
// override both the config file and environment variables.
var flagBindings = map[string]string{
	"verbose":     "verbose",
	"output":      "output",
	"concurrency": "concurrency",
	"database":    "database",
	"provider":    "provider",
}

// RegisterFlags registers the persistent flags that feed into Load on the
// given flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (default: OS config dir)")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.StringP("output", "o", "table", "output format: table, json, plain")
	flags.Int("concurrency", 2, "concurrent sessions for bulk harvesting")
	flags.String("database", "", "path to the harvest database (default: OS data dir)")
	flags.StringP("provider", "p", "viewdns", "provider for new harvests: viewdns, securitytrails")
}

// DefaultConfigPath returns the OS-appropriate default config file path.
func DefaultConfigPath() (string, error) {
	dir, err := appdir.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load resolves the configuration from defaults, the config file, environment
// variables and the given flags, in that order of precedence. The config file
// is created (0600) if missing so the first run leaves an editable file behind.
func Load(flags *pflag.FlagSet) (*Config, error) {
	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("reading --config flag: %w", err)
	}
	if configPath == "" {
		configPath, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	if err := appdir.EnsureFile(configPath); err != nil {
		return nil, fmt.Errorf("ensuring config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)
	bindEnv(v)

	for flagName, key := range flagBindings {
		f := flags.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("binding flag --%s: %w", flagName, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.ConfigFile = configPath

	return &cfg, nil
}

// setDefaults configures viper default values matching NewDefaultConfig.
func setDefaults(v *viper.Viper) {
	def := NewDefaultConfig()
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("output", def.Output)
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("database", def.Database)
	v.SetDefault("provider", def.Provider)
	v.SetDefault("providers.viewdns.api_key", "")
	v.SetDefault("providers.viewdns.requests_per_second", 0.0)
	v.SetDefault("providers.viewdns.max_pages", 0)
	v.SetDefault("providers.securitytrails.api_key", "")
	v.SetDefault("providers.securitytrails.requests_per_second", 0.0)
	v.SetDefault("providers.securitytrails.max_pages", 0)
	v.SetDefault("harvest.page_timeout", def.Harvest.PageTimeout)
	v.SetDefault("harvest.max_retries", def.Harvest.MaxRetries)
	v.SetDefault("export.batch_size", def.Export.BatchSize)
	v.SetDefault("export.chunk_rows", def.Export.ChunkRows)
}

// bindEnv wires environment variables. REVHARVEST_* covers every key; API keys
// are additionally honoured under their conventional unprefixed names.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("REVHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("providers.viewdns.api_key",
		"REVHARVEST_PROVIDERS_VIEWDNS_API_KEY", "VIEWDNS_API_KEY")
	_ = v.BindEnv("providers.securitytrails.api_key",
		"REVHARVEST_PROVIDERS_SECURITYTRAILS_API_KEY", "SECURITYTRAILS_API_KEY")
}

// LoadAliases reads only the alias map from the config file. A missing file or
// a file without an alias key yields an empty map, not an error.
func LoadAliases(configPath string) (map[string]string, error) {
	aliases := map[string]string{}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return aliases, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(data) == 0 {
		return aliases, nil
	}

	var raw struct {
		Alias map[string]string `yaml:"alias"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if raw.Alias != nil {
		aliases = raw.Alias
	}
	return aliases, nil
}
