package config

import "time"

// Config is the fully resolved runtime configuration. Values are merged in
// ascending precedence: built-in defaults, the YAML config file, environment
// variables, command-line flags.
type Config struct {
	// ConfigFile is the path the config was loaded from. Not a config key.
	ConfigFile string `yaml:"-" mapstructure:"-"`

	// Enable debug logging
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`

	// Output format: table, json, plain
	Output string `yaml:"output" mapstructure:"output"`

	// Number of concurrent sessions for bulk harvesting
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`

	// Path to the harvest database. Empty means the OS data dir.
	Database string `yaml:"database" mapstructure:"database"`

	// Default provider for new harvests: viewdns, securitytrails
	Provider string `yaml:"provider" mapstructure:"provider"`

	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Harvest   HarvestConfig   `yaml:"harvest" mapstructure:"harvest"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`

	// Command aliases: name -> expansion
	Aliases map[string]string `yaml:"alias" mapstructure:"alias"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	ViewDNS        ProviderConfig `yaml:"viewdns" mapstructure:"viewdns"`
	SecurityTrails ProviderConfig `yaml:"securitytrails" mapstructure:"securitytrails"`
}

// ProviderConfig holds the settings for one provider. Zero values mean the
// provider's built-in defaults.
type ProviderConfig struct {
	// API key. Also read from VIEWDNS_API_KEY / SECURITYTRAILS_API_KEY.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Request rate override. A capped provider's cap cannot be raised.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// Page count override. A capped provider's cap cannot be raised.
	MaxPages int `yaml:"max_pages" mapstructure:"max_pages"`
}

// HarvestConfig holds settings applied to every harvest session.
type HarvestConfig struct {
	// Hard ceiling for a single page fetch
	PageTimeout time.Duration `yaml:"page_timeout" mapstructure:"page_timeout"`

	// Transient failures tolerated per page before the session fails
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// ExportConfig holds export pipeline settings.
type ExportConfig struct {
	// Rows fetched from the store per batch while streaming
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`

	// Rows per CSV chunk inside ZIP archives
	ChunkRows int `yaml:"chunk_rows" mapstructure:"chunk_rows"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Verbose:     false,
		Output:      "table",
		Concurrency: 2,
		Database:    "",
		Provider:    "viewdns",
		Harvest: HarvestConfig{
			PageTimeout: 30 * time.Second,
			MaxRetries:  3,
		},
		Export: ExportConfig{
			BatchSize: 10000,
			ChunkRows: 50000,
		},
	}
}
