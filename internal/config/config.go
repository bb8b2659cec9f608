// Package config loads application configuration from config.yaml and
// MARKETINTEL_* environment variables, and owns global logger setup.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" for single-process use or "postgres" when several
	// instances must share one lock store.
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LockConfig configures the job lock manager.
type LockConfig struct {
	TTLSecs           int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	RetentionHours    int `yaml:"retention_hours" mapstructure:"retention_hours"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// TTL returns the lock TTL as a duration.
func (c LockConfig) TTL() time.Duration { return time.Duration(c.TTLSecs) * time.Second }

// Retention returns how long terminal locks are kept before sweeping.
func (c LockConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// ResolveConfig configures the resolution cascade surface.
type ResolveConfig struct {
	// SeedFile optionally overrides the embedded knowledge-base seed.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
	// AuditLookbackHours bounds the status command's stats window.
	AuditLookbackHours int `yaml:"audit_lookback_hours" mapstructure:"audit_lookback_hours"`
}

// ProvidersConfig configures the market-data source fan-out.
type ProvidersConfig struct {
	// Reliability overrides the built-in source trust table per source.
	Reliability map[string]int `yaml:"reliability" mapstructure:"reliability"`
	// RatePerSec throttles each source; 0 disables limiting.
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
	// RetryAttempts counts the first try.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	// BreakerThreshold opens a source's circuit after this many
	// consecutive failures.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MARKETINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "market-intel.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("lock.ttl_secs", 300)
	v.SetDefault("lock.retention_hours", 24)
	v.SetDefault("lock.sweep_interval_secs", 600)
	v.SetDefault("resolve.audit_lookback_hours", 24)
	v.SetDefault("providers.rate_per_sec", 5.0)
	v.SetDefault("providers.burst", 5)
	v.SetDefault("providers.retry_attempts", 3)
	v.SetDefault("providers.breaker_threshold", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
