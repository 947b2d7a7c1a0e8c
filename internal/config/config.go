// Package config loads dealer-sync settings from config.yaml and DEALERSYNC_*
// environment variables, and initializes the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp" mapstructure:"whatsapp"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ImportConfig configures the batch persistence of uploads.
type ImportConfig struct {
	ChunkSize             int `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkPauseMs          int `yaml:"chunk_pause_ms" mapstructure:"chunk_pause_ms"`
	StoreFailureThreshold int `yaml:"store_failure_threshold" mapstructure:"store_failure_threshold"`
}

// ChunkPause returns ChunkPauseMs as a duration.
func (c ImportConfig) ChunkPause() time.Duration {
	return time.Duration(c.ChunkPauseMs) * time.Millisecond
}

// WhatsAppConfig holds the capability-check API settings.
type WhatsAppConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Key         string  `yaml:"key" mapstructure:"key"`
	Instance    string  `yaml:"instance" mapstructure:"instance"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns TimeoutSecs as a duration.
func (c WhatsAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// VerifyConfig configures verification batching.
type VerifyConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMs int `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
}

// BatchDelay returns BatchDelayMs as a duration.
func (c VerifyConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// RetryConfig configures retries of external calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	UnknownBacklogThreshold int     `yaml:"unknown_backlog_threshold" mapstructure:"unknown_backlog_threshold"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("import.chunk_size", 50)
	v.SetDefault("import.chunk_pause_ms", 200)
	v.SetDefault("import.store_failure_threshold", 5)
	v.SetDefault("whatsapp.base_url", "http://localhost:8081")
	v.SetDefault("whatsapp.key", "")
	v.SetDefault("whatsapp.instance", "")
	v.SetDefault("whatsapp.timeout_secs", 30)
	v.SetDefault("whatsapp.rate_per_sec", 5)
	v.SetDefault("verify.batch_size", 50)
	v.SetDefault("verify.batch_delay_ms", 3000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.unknown_backlog_threshold", 1000)

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

// Validate checks the settings a command mode depends on. Modes: "import",
// "verify", "serve", "store". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				add("store.database_url is required for the postgres driver")
			}
		case "sqlite":
		default:
			add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
		}
	}
	checkImport := func() {
		if c.Import.ChunkSize < 1 || c.Import.ChunkSize > 500 {
			add("import.chunk_size must be between 1 and 500")
		}
		if c.Import.ChunkPauseMs < 0 {
			add("import.chunk_pause_ms must be >= 0")
		}
		if c.Import.StoreFailureThreshold < 1 {
			add("import.store_failure_threshold must be >= 1")
		}
	}
	checkVerify := func() {
		if c.WhatsApp.BaseURL == "" {
			add("whatsapp.base_url is required")
		}
		if c.Verify.BatchSize < 1 {
			add("verify.batch_size must be >= 1")
		}
		if c.Verify.BatchDelayMs < 0 {
			add("verify.batch_delay_ms must be >= 0")
		}
	}

	switch mode {
	case "store":
		checkStore()
	case "import":
		checkStore()
		checkImport()
	case "verify":
		checkStore()
		checkVerify()
	case "serve":
		checkStore()
		checkImport()
		checkVerify()
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
			add("monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
