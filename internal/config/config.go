package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Headless  HeadlessConfig  `yaml:"headless" mapstructure:"headless"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for structure discovery.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FirecrawlConfig holds rendering gateway API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	WaitMS  int    `yaml:"wait_ms" mapstructure:"wait_ms"`
}

// HeadlessConfig configures the local browser tier.
type HeadlessConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	ExecPath string `yaml:"exec_path" mapstructure:"exec_path"`
}

// FetchConfig configures tier escalation and per-host pacing.
type FetchConfig struct {
	DirectTimeoutSecs   int     `yaml:"direct_timeout_secs" mapstructure:"direct_timeout_secs"`
	GatewayTimeoutSecs  int     `yaml:"gateway_timeout_secs" mapstructure:"gateway_timeout_secs"`
	HeadlessTimeoutSecs int     `yaml:"headless_timeout_secs" mapstructure:"headless_timeout_secs"`
	HostDelaySecs       int     `yaml:"host_delay_secs" mapstructure:"host_delay_secs"`
	HostMaxDelaySecs    int     `yaml:"host_max_delay_secs" mapstructure:"host_max_delay_secs"`
	BackoffFactor       float64 `yaml:"backoff_factor" mapstructure:"backoff_factor"`
}

// DiscoveryConfig configures structure discovery and config expiry.
type DiscoveryConfig struct {
	ExpiryDays      int `yaml:"expiry_days" mapstructure:"expiry_days"`
	MaxFilterProbes int `yaml:"max_filter_probes" mapstructure:"max_filter_probes"`
}

// GeocodeConfig configures the Nominatim client.
type GeocodeConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// PipelineConfig configures run orchestration.
type PipelineConfig struct {
	MaxConcurrentSources int `yaml:"max_concurrent_sources" mapstructure:"max_concurrent_sources"`
	SourceTimeoutSecs    int `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "harvester.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("firecrawl.wait_ms", 3000)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("fetch.direct_timeout_secs", 15)
	v.SetDefault("fetch.gateway_timeout_secs", 60)
	v.SetDefault("fetch.headless_timeout_secs", 120)
	v.SetDefault("fetch.host_delay_secs", 2)
	v.SetDefault("fetch.host_max_delay_secs", 300)
	v.SetDefault("fetch.backoff_factor", 2.0)
	v.SetDefault("discovery.expiry_days", 30)
	v.SetDefault("discovery.max_filter_probes", 8)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "leilaodata-harvester/1.0")
	v.SetDefault("pipeline.max_concurrent_sources", 4)
	v.SetDefault("pipeline.source_timeout_secs", 900)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
