package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"btcgold-correlation/internal/logging"
)

// EnvPrefix namespaces environment overrides, e.g. BTCGOLD_CRYPTO_API_KEY.
const EnvPrefix = "BTCGOLD"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Logging   logging.Config  `mapstructure:"logging" yaml:"logging"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Crypto    CryptoConfig    `mapstructure:"crypto" yaml:"crypto"`
	Commodity CommodityConfig `mapstructure:"commodity" yaml:"commodity"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Chart     ChartConfig     `mapstructure:"chart" yaml:"chart"`
	Alerting  AlertingConfig  `mapstructure:"alerting" yaml:"alerting"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	EnvFile     string `mapstructure:"env_file" yaml:"env_file"`
}

// PipelineConfig carries the static run metadata.
type PipelineConfig struct {
	Owner      string        `mapstructure:"owner" yaml:"owner"`
	Retries    int           `mapstructure:"retries" yaml:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Location   string        `mapstructure:"location" yaml:"location"`
}

// SchedulerConfig governs the run cadence.
type SchedulerConfig struct {
	Cron       string `mapstructure:"cron" yaml:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start" yaml:"run_on_start"`
}

// CryptoConfig covers the CoinMarketCap quote feed.
type CryptoConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Symbol         string        `mapstructure:"symbol" yaml:"symbol"`
	Convert        string        `mapstructure:"convert" yaml:"convert"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// CommodityConfig covers the gold quote feed.
type CommodityConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Currency       string        `mapstructure:"currency" yaml:"currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// StorageConfig selects and parameterises the history/results backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	HistoryPath     string        `mapstructure:"history_path" yaml:"history_path"`
	ResultsPath     string        `mapstructure:"results_path" yaml:"results_path"`
	SQLitePath      string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key" yaml:"advisory_lock_key"`
}

// ChartConfig sets the rendered artifact.
type ChartConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Width  int    `mapstructure:"width" yaml:"width"`
	Height int    `mapstructure:"height" yaml:"height"`
}

// AlertingConfig defines run notifications.
type AlertingConfig struct {
	NotifyOnSuccess bool           `mapstructure:"notify_on_success" yaml:"notify_on_success"`
	Telegram        TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	BotToken string        `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   string        `mapstructure:"chat_id" yaml:"chat_id"`
	APIBase  string        `mapstructure:"api_base" yaml:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig controls the read-only status API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Storage drivers.
const (
	DriverCSV      = "csv"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load builds configuration from file, .env, environment, and defaults.
func Load(path string) (*Config, error) {
	v := newViper()

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

	if err := loadEnvFile(v.GetString("app.env_file")); err != nil {
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

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := newViper()
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		panic("decode default config: " + err.Error())
	}
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// loadEnvFile exports variables from an env file without overriding ones already set.
// AutomaticEnv resolves lazily, so values loaded here are still picked up by Unmarshal.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "btcgold")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.env_file", ".env")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.caller", false)
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.dir", "logs")

	v.SetDefault("pipeline.owner", "btcgold")
	v.SetDefault("pipeline.retries", 1)
	v.SetDefault("pipeline.retry_delay", "5m")
	v.SetDefault("pipeline.location", "UTC")

	v.SetDefault("scheduler.cron", "0 10 * * *")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("crypto.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("crypto.api_key", "")
	v.SetDefault("crypto.symbol", "BTC")
	v.SetDefault("crypto.convert", "USD")
	v.SetDefault("crypto.request_timeout", "15s")
	v.SetDefault("crypto.user_agent", "btcgold/1.0")

	v.SetDefault("commodity.base_url", "https://data-asg.goldprice.org")
	v.SetDefault("commodity.currency", "USD")
	v.SetDefault("commodity.request_timeout", "15s")
	v.SetDefault("commodity.user_agent", "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0")

	v.SetDefault("storage.driver", DriverCSV)
	v.SetDefault("storage.history_path", "data/crypto_gold_data.csv")
	v.SetDefault("storage.results_path", "data/correlation_results.txt")
	v.SetDefault("storage.sqlite_path", "data/btcgold.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 1)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.advisory_lock_key", int64(0x62746367))

	v.SetDefault("chart.path", "data/btc_gold_correlation_over_time.png")
	v.SetDefault("chart.width", 1200)
	v.SetDefault("chart.height", 600)

	v.SetDefault("alerting.notify_on_success", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", "127.0.0.1:8088")
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
	if c.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline.retries cannot be negative")
	}
	if c.Pipeline.RetryDelay < 0 {
		return fmt.Errorf("pipeline.retry_delay cannot be negative")
	}
	if _, err := time.LoadLocation(c.Pipeline.Location); err != nil {
		return fmt.Errorf("pipeline.location: %w", err)
	}
	if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("scheduler.cron: %w", err)
	}
	if c.Crypto.BaseURL == "" || c.Commodity.BaseURL == "" {
		return fmt.Errorf("crypto.base_url and commodity.base_url must be set")
	}
	if c.Chart.Path == "" {
		return fmt.Errorf("chart.path must be set")
	}
	if c.Chart.Width <= 0 || c.Chart.Height <= 0 {
		return fmt.Errorf("chart.width and chart.height must be greater than zero")
	}

	switch c.Storage.Driver {
	case DriverCSV:
		if c.Storage.HistoryPath == "" || c.Storage.ResultsPath == "" {
			return fmt.Errorf("storage.history_path and storage.results_path are required for the csv driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of csv, sqlite, postgres", c.Storage.Driver)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when server.enabled")
	}
	return nil
}

// RequireCryptoKey fails when the provider credential is missing. Commands that
// contact the live crypto feed call it; offline commands do not need the key.
func (c *Config) RequireCryptoKey() error {
	if strings.TrimSpace(c.Crypto.APIKey) == "" {
		return fmt.Errorf("crypto.api_key is not set; export %s_CRYPTO_API_KEY or add it to %s", EnvPrefix, c.App.EnvFile)
	}
	return nil
}

// TimeLocation resolves pipeline.location; Validate guarantees it parses.
func (c *Config) TimeLocation() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WithoutSecrets returns a copy with credentials blanked, for writing templates.
func (c Config) WithoutSecrets() Config {
	c.Crypto.APIKey = ""
	c.Alerting.Telegram.BotToken = ""
	c.Storage.DSN = ""
	return c
}
