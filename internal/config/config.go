package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/cyber-rating/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Rating RatingConfig `yaml:"rating" mapstructure:"rating"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the quote database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PoolConfig returns the pgx pool sizing for this store.
func (s StoreConfig) PoolConfig() *db.PoolConfig {
	return &db.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns}
}

// RatingConfig selects the rate table source and naming defaults.
type RatingConfig struct {
	// Source is "file" (YAML, embedded defaults when TablesPath is empty)
	// or "postgres" (rating.* tables).
	Source           string `yaml:"source" mapstructure:"source"`
	TablesPath       string `yaml:"tables_path" mapstructure:"tables_path"`
	AnchorCarrier    string `yaml:"anchor_carrier" mapstructure:"anchor_carrier"`
	DefaultRetention int64  `yaml:"default_retention" mapstructure:"default_retention"`
}

// BatchConfig configures batch rating.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP rating service.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RetryConfig configures retries around persistence writes.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
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
	v.SetEnvPrefix("RATING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("rating.source", "file")
	v.SetDefault("rating.tables_path", "")
	v.SetDefault("rating.anchor_carrier", "CMAI")
	v.SetDefault("rating.default_retention", 25000)
	v.SetDefault("batch.max_concurrent", 8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
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

// Validate checks the settings a command needs. mode is one of "rate",
// "store", "seed" or "serve". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	checkRating := func() {
		switch c.Rating.Source {
		case "file":
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required when rating.source is postgres")
			}
		default:
			errs = append(errs, "rating.source must be file or postgres")
		}
		if c.Rating.DefaultRetention < 0 {
			errs = append(errs, "rating.default_retention must be >= 0")
		}
	}
	checkStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
			errs = append(errs, "store.min_conns must be between 0 and store.max_conns")
		}
	}

	switch mode {
	case "rate":
		checkRating()
		if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 64 {
			errs = append(errs, "batch.max_concurrent must be between 1 and 64")
		}
	case "store":
		checkRating()
		checkStore()
	case "seed":
		checkStore()
		if c.Store.Driver == "sqlite" {
			errs = append(errs, "rate tables can only be seeded into postgres")
		}
	case "serve":
		checkRating()
		checkStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server.rate_limit_rps must be >= 0")
		}
		if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
			errs = append(errs, "server.rate_limit_burst must be >= 1 when rate limiting is enabled")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
