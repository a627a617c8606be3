package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"shopwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	API      APIConfig      `mapstructure:"api"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and tunes the persistent store.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// BrowserConfig covers page automation.
type BrowserConfig struct {
	Mode             string        `mapstructure:"mode"`
	RemoteURL        string        `mapstructure:"remote_url"`
	Headless         bool          `mapstructure:"headless"`
	Stealth          bool          `mapstructure:"stealth"`
	ResourceBlocking bool          `mapstructure:"resource_blocking"`
	UserAgent        string        `mapstructure:"user_agent"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
}

// BatchConfig governs the sequential collection run.
type BatchConfig struct {
	PerItemDelay   time.Duration `mapstructure:"per_item_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	TargetPatterns []string      `mapstructure:"target_patterns"`
}

// MonitorConfig governs recurring product checks.
type MonitorConfig struct {
	HistoryLimit    int           `mapstructure:"history_limit"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	CheckTimeout    time.Duration `mapstructure:"check_timeout"`
	DefaultInterval int           `mapstructure:"default_interval_minutes"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	DispatchTimeout time.Duration  `mapstructure:"dispatch_timeout"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "shopwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/shopwatch.db")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 2)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.advisory_lock_key", int64(0x73686f70))

	v.SetDefault("browser.mode", "rod")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.resource_blocking", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("browser.request_timeout", "30s")
	v.SetDefault("browser.max_body_bytes", int64(4<<20))

	v.SetDefault("batch.per_item_delay", "3s")
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.settle_delay", "2s")
	v.SetDefault("batch.load_timeout", "30s")
	v.SetDefault("batch.retry_backoff", "2s")

	v.SetDefault("monitor.history_limit", 100)
	v.SetDefault("monitor.settle_delay", "2s")
	v.SetDefault("monitor.check_timeout", "2m")
	v.SetDefault("monitor.default_interval_minutes", 60)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.dispatch_timeout", "15s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres, memory")
	}
	switch strings.ToLower(c.Browser.Mode) {
	case "rod", "http":
	default:
		return fmt.Errorf("browser.mode must be rod or http")
	}
	if c.Batch.MaxRetries <= 0 {
		return fmt.Errorf("batch.max_retries must be greater than zero")
	}
	if c.Batch.PerItemDelay < 0 || c.Batch.SettleDelay < 0 || c.Batch.RetryBackoff < 0 {
		return fmt.Errorf("batch delays cannot be negative")
	}
	if c.Monitor.HistoryLimit <= 0 {
		return fmt.Errorf("monitor.history_limit must be greater than zero")
	}
	if c.Monitor.DefaultInterval <= 0 {
		return fmt.Errorf("monitor.default_interval_minutes must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == 0 {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
