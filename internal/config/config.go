package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pricewatch/internal/similarity"
)

// Config holds the full application configuration. It is loaded once at
// startup and passed into components as an immutable value.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	Violation ViolationConfig `yaml:"violation" mapstructure:"violation"`
	Alert     AlertConfig     `yaml:"alert" mapstructure:"alert"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScrapeConfig configures the competitor scraper.
type ScrapeConfig struct {
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPages           int    `yaml:"max_pages" mapstructure:"max_pages"`
	PageSize           int    `yaml:"page_size" mapstructure:"page_size"`
	MaxConcurrent      int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	DefaultRateLimitMS int    `yaml:"default_rate_limit_ms" mapstructure:"default_rate_limit_ms"`
}

// MatchConfig configures the incremental matcher.
type MatchConfig struct {
	MinConfidence string             `yaml:"min_confidence" mapstructure:"min_confidence"`
	BatchSize     int                `yaml:"batch_size" mapstructure:"batch_size"`
	Weights       similarity.Weights `yaml:"weights" mapstructure:"weights"`
}

// ViolationConfig configures MAP violation detection.
type ViolationConfig struct {
	SevereThreshold   float64 `yaml:"severe_threshold" mapstructure:"severe_threshold"`
	ModerateThreshold float64 `yaml:"moderate_threshold" mapstructure:"moderate_threshold"`
	MinorThreshold    float64 `yaml:"minor_threshold" mapstructure:"minor_threshold"`
}

// AlertConfig configures violation alert delivery.
type AlertConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig configures network retry behavior.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
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
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.max_pages", 50)
	v.SetDefault("scrape.page_size", 250)
	v.SetDefault("scrape.max_concurrent", 4)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("scrape.default_rate_limit_ms", 2000)
	v.SetDefault("match.min_confidence", "medium")
	v.SetDefault("match.batch_size", 20)
	w := similarity.DefaultWeights()
	v.SetDefault("match.weights.embedding", w.Embedding)
	v.SetDefault("match.weights.vendor", w.Vendor)
	v.SetDefault("match.weights.title", w.Title)
	v.SetDefault("match.weights.type", w.Type)
	v.SetDefault("match.weights.price", w.Price)
	v.SetDefault("match.weights.sku", w.SKU)
	v.SetDefault("violation.severe_threshold", 0.20)
	v.SetDefault("violation.moderate_threshold", 0.10)
	v.SetDefault("violation.minor_threshold", 0.01)
	v.SetDefault("alert.timeout_secs", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that required settings are present for the given command.
func (c *Config) Validate() error {
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	return nil
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
