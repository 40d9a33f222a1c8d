package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

type Config struct {
	Environment       string                       `mapstructure:"environment"`
	LogLevel          string                       `mapstructure:"log_level"`
	Server            ServerConfig                 `mapstructure:"server"`
	Redis             RedisConfig                  `mapstructure:"redis"`
	Telegram          TelegramConfig               `mapstructure:"telegram"`
	Telemetry         TelemetryConfig              `mapstructure:"telemetry"`
	Scanner           ScannerConfig                `mapstructure:"scanner"`
	Providers         ProvidersConfig              `mapstructure:"providers"`
	Retry             RetryConfig                  `mapstructure:"retry"`
	CircuitBreaker    CircuitBreakerConfig         `mapstructure:"circuit_breaker"`
	Cache             CacheConfig                  `mapstructure:"cache"`
	Cooldowns         CooldownConfig               `mapstructure:"cooldowns"`
	Maintenance       MaintenanceConfig            `mapstructure:"maintenance"`
	Detection         DetectionConfig              `mapstructure:"detection"`
	TimeframeSettings map[string]TimeframeSettings `mapstructure:"timeframe_settings"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// RedisConfig configures the optional Redis backend used for provider
// catalogs and notified-signal dedup.
type RedisConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Password          string `mapstructure:"password"`
	DB                int    `mapstructure:"db"`
	CatalogTTLMinutes int    `mapstructure:"catalog_ttl_minutes"`
}

type TelegramConfig struct {
	BotToken       string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID         string `mapstructure:"chat_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Enabled reports whether both the token and the chat are configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	Insecure       bool    `mapstructure:"insecure"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	LogsEnabled    bool    `mapstructure:"logs_enabled"`
}

type ScannerConfig struct {
	Symbols             []string `mapstructure:"symbols"`
	Timeframes          []string `mapstructure:"timeframes"`
	PollIntervalSeconds int      `mapstructure:"poll_interval_seconds"`
	FetchLimit          int      `mapstructure:"fetch_limit"`
	Workers             int      `mapstructure:"workers"`
	TaskTimeoutSeconds  int      `mapstructure:"task_timeout_seconds"`
	AlignToInterval     bool     `mapstructure:"align_to_interval"`
	ErrorBackoffSeconds int      `mapstructure:"error_backoff_seconds"`
	StatsEvery          int      `mapstructure:"stats_every"`
}

func (s ScannerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s ScannerConfig) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutSeconds) * time.Second
}

func (s ScannerConfig) ErrorBackoff() time.Duration {
	return time.Duration(s.ErrorBackoffSeconds) * time.Second
}

// ParsedTimeframes returns the configured timeframes as typed values.
func (s ScannerConfig) ParsedTimeframes() ([]models.Timeframe, error) {
	out := make([]models.Timeframe, 0, len(s.Timeframes))
	for _, raw := range s.Timeframes {
		tf, err := models.ParseTimeframe(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

type ProvidersConfig struct {
	Priority []string       `mapstructure:"priority"`
	Binance  ProviderConfig `mapstructure:"binance"`
	Bybit    ProviderConfig `mapstructure:"bybit"`
	CCXT     ProviderConfig `mapstructure:"ccxt"`
}

type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	APIKey         string `mapstructure:"api_key" json:"-" yaml:"-"`
	APISecret      string `mapstructure:"api_secret" json:"-" yaml:"-"`
	// ExchangeID is the exchange the ccxt sidecar proxies to.
	ExchangeID string `mapstructure:"exchange_id"`
}

func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Provider returns the settings block for a provider id.
func (p ProvidersConfig) Provider(id string) (ProviderConfig, bool) {
	switch strings.ToLower(id) {
	case "binance":
		return p.Binance, true
	case "bybit":
		return p.Bybit, true
	case "ccxt":
		return p.CCXT, true
	}
	return ProviderConfig{}, false
}

type RetryConfig struct {
	MaxRetries int     `mapstructure:"max_retries"`
	DelayBase  float64 `mapstructure:"delay_base"`
}

type CircuitBreakerConfig struct {
	Failures       int `mapstructure:"failures"`
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

type CacheConfig struct {
	VerifyTolerance float64 `mapstructure:"verify_tolerance"`
	MinCandles      int     `mapstructure:"min_candles"`
}

type CooldownConfig struct {
	AccumulationMinutes int `mapstructure:"accumulation_minutes"`
	BreakoutMinutes     int `mapstructure:"breakout_minutes"`
	ZoneExpireHours     int `mapstructure:"zone_expire_hours"`
}

func (c CooldownConfig) Accumulation() time.Duration {
	return time.Duration(c.AccumulationMinutes) * time.Minute
}

func (c CooldownConfig) Breakout() time.Duration {
	return time.Duration(c.BreakoutMinutes) * time.Minute
}

func (c CooldownConfig) ZoneExpire() time.Duration {
	return time.Duration(c.ZoneExpireHours) * time.Hour
}

type MaintenanceConfig struct {
	HealthCheckIntervalMinutes   int `mapstructure:"health_check_interval_minutes"`
	ZoneCleanupIntervalHours     int `mapstructure:"zone_cleanup_interval_hours"`
	CacheEvictionIntervalMinutes int `mapstructure:"cache_eviction_interval_minutes"`
	MaxMemoryMB                  int `mapstructure:"max_memory_mb"`
	JobTimeoutSeconds            int `mapstructure:"job_timeout_seconds"`
}

type DetectionConfig struct {
	ExcellentRangeFraction float64 `mapstructure:"excellent_range_fraction"`
	GoodRangeFraction      float64 `mapstructure:"good_range_fraction"`
	BodyRatioMin           float64 `mapstructure:"body_ratio_min"`
	// SymbolRangeMultipliers scales the range thresholds per symbol. Keys are
	// matched case-insensitively.
	SymbolRangeMultipliers map[string]float64 `mapstructure:"symbol_range_multipliers"`
}

// RangeMultiplier returns the configured multiplier for symbol, or 1.
func (d DetectionConfig) RangeMultiplier(symbol string) float64 {
	if m, ok := d.SymbolRangeMultipliers[strings.ToLower(symbol)]; ok && m > 0 {
		return m
	}
	return 1
}

// Load reads .env, the optional config file and the environment, in that
// order of increasing precedence.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults(viper.GetViper())

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Flat variables kept for compatibility with existing deployments
	for key, env := range legacyEnv {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Defaults returns the built-in configuration without reading a file or the
// environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	config.normalize()
	return &config
}

var legacyEnv = map[string]string{
	"scanner.symbols":                           "SYMBOLS",
	"scanner.timeframes":                        "TIMEFRAMES",
	"scanner.poll_interval_seconds":             "POLL_INTERVAL",
	"scanner.fetch_limit":                       "FETCH_LIMIT",
	"providers.priority":                        "EXCHANGES",
	"telegram.bot_token":                        "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":                          "TELEGRAM_CHAT_ID",
	"log_level":                                 "LOG_LEVEL",
	"cooldowns.accumulation_minutes":            "ACCUMULATION_COOLDOWN_MIN",
	"cooldowns.breakout_minutes":                "BREAKOUT_COOLDOWN_MIN",
	"cooldowns.zone_expire_hours":               "ZONE_EXPIRE_HOURS",
	"circuit_breaker.failures":                  "CIRCUIT_BREAKER_FAILURES",
	"circuit_breaker.timeout_minutes":           "CIRCUIT_BREAKER_TIMEOUT_MIN",
	"retry.max_retries":                         "MAX_RETRIES",
	"retry.delay_base":                          "RETRY_DELAY_BASE",
	"cache.verify_tolerance":                    "CACHE_VERIFY_TOLERANCE",
	"maintenance.health_check_interval_minutes": "HEALTH_CHECK_INTERVAL",
	"maintenance.max_memory_mb":                 "MAX_MEMORY_MB",
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(c.Environment)
	c.LogLevel = strings.ToLower(c.LogLevel)

	c.Scanner.Symbols = cleanList(c.Scanner.Symbols, strings.ToUpper)
	c.Scanner.Timeframes = cleanList(c.Scanner.Timeframes, strings.ToLower)
	c.Providers.Priority = cleanList(c.Providers.Priority, strings.ToLower)

	multipliers := make(map[string]float64, len(c.Detection.SymbolRangeMultipliers))
	for k, v := range c.Detection.SymbolRangeMultipliers {
		multipliers[strings.ToLower(k)] = v
	}
	c.Detection.SymbolRangeMultipliers = multipliers
}

// cleanList trims entries, drops empties and splits comma-joined values that
// arrive from a single environment variable.
func cleanList(in []string, transform func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, transform(part))
		}
	}
	return out
}

// Validate checks the loaded configuration and returns the first problem as
// a ValidationError.
func (c *Config) Validate() error {
	if len(c.Scanner.Symbols) == 0 {
		return utils.NewValidationError("scanner.symbols must not be empty")
	}
	if len(c.Scanner.Timeframes) == 0 {
		return utils.NewValidationError("scanner.timeframes must not be empty")
	}
	for _, raw := range c.Scanner.Timeframes {
		tf, err := models.ParseTimeframe(raw)
		if err != nil {
			return utils.NewValidationErrorf("scanner.timeframes: %v", err)
		}
		if _, ok := c.TimeframeSettings[tf.String()]; !ok {
			if _, ok := c.TimeframeSettings[models.Timeframe15m.String()]; !ok {
				return utils.NewValidationErrorf("timeframe_settings has no entry for %s and no 15m fallback", tf)
			}
		}
	}
	if len(c.Providers.Priority) == 0 {
		return utils.NewValidationError("providers.priority must name at least one provider")
	}
	for _, id := range c.Providers.Priority {
		p, ok := c.Providers.Provider(id)
		if !ok {
			return utils.NewValidationErrorf("unknown provider %q", id)
		}
		if p.MaxConcurrency < 1 {
			return utils.NewValidationErrorf("providers.%s.max_concurrency must be positive, got %d", id, p.MaxConcurrency)
		}
	}
	if c.Scanner.PollIntervalSeconds <= 0 {
		return utils.NewValidationErrorf("scanner.poll_interval_seconds must be positive, got %d", c.Scanner.PollIntervalSeconds)
	}
	if c.Scanner.Workers < 1 {
		return utils.NewValidationErrorf("scanner.workers must be positive, got %d", c.Scanner.Workers)
	}
	if c.Scanner.TaskTimeoutSeconds <= 0 {
		return utils.NewValidationErrorf("scanner.task_timeout_seconds must be positive, got %d", c.Scanner.TaskTimeoutSeconds)
	}
	if c.Cache.MinCandles < 2 {
		return utils.NewValidationErrorf("cache.min_candles must be at least 2, got %d", c.Cache.MinCandles)
	}
	if c.Scanner.FetchLimit < c.Cache.MinCandles {
		return utils.NewValidationErrorf("scanner.fetch_limit %d is below cache.min_candles %d", c.Scanner.FetchLimit, c.Cache.MinCandles)
	}
	if c.Retry.MaxRetries < 1 {
		return utils.NewValidationErrorf("retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}
	if c.CircuitBreaker.Failures < 1 {
		return utils.NewValidationErrorf("circuit_breaker.failures must be at least 1, got %d", c.CircuitBreaker.Failures)
	}
	d := c.Detection
	if d.ExcellentRangeFraction <= 0 || d.ExcellentRangeFraction > d.GoodRangeFraction || d.GoodRangeFraction > 1 {
		return utils.NewValidationErrorf("detection range fractions must satisfy 0 < excellent <= good <= 1, got %.2f/%.2f",
			d.ExcellentRangeFraction, d.GoodRangeFraction)
	}
	for name, ts := range c.TimeframeSettings {
		if err := ts.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Health server
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.catalog_ttl_minutes", 360)

	// Telegram
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.timeout_seconds", 10)

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "accumulation-radar")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.logs_enabled", false)

	// Scanner
	v.SetDefault("scanner.symbols", []string{"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT", "HYPE/USDT"})
	v.SetDefault("scanner.timeframes", []string{"5m", "15m", "30m", "1h"})
	v.SetDefault("scanner.poll_interval_seconds", 60)
	v.SetDefault("scanner.fetch_limit", 50)
	v.SetDefault("scanner.workers", 5)
	v.SetDefault("scanner.task_timeout_seconds", 30)
	v.SetDefault("scanner.align_to_interval", false)
	v.SetDefault("scanner.error_backoff_seconds", 60)
	v.SetDefault("scanner.stats_every", 10)

	// Providers
	v.SetDefault("providers.priority", []string{"binance", "bybit"})
	v.SetDefault("providers.binance.base_url", "https://fapi.binance.com")
	v.SetDefault("providers.binance.timeout_seconds", 10)
	v.SetDefault("providers.binance.max_concurrency", 5)
	v.SetDefault("providers.bybit.base_url", "https://api.bybit.com")
	v.SetDefault("providers.bybit.timeout_seconds", 10)
	v.SetDefault("providers.bybit.max_concurrency", 3)
	v.SetDefault("providers.ccxt.base_url", "http://localhost:3001")
	v.SetDefault("providers.ccxt.timeout_seconds", 30)
	v.SetDefault("providers.ccxt.max_concurrency", 2)
	v.SetDefault("providers.ccxt.exchange_id", "okx")

	// Retry and circuit breaker
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.delay_base", 2.0)
	v.SetDefault("circuit_breaker.failures", 3)
	v.SetDefault("circuit_breaker.timeout_minutes", 15)

	// Candle cache
	v.SetDefault("cache.verify_tolerance", 0.001)
	v.SetDefault("cache.min_candles", 10)

	// Cooldowns
	v.SetDefault("cooldowns.accumulation_minutes", 60)
	v.SetDefault("cooldowns.breakout_minutes", 60)
	v.SetDefault("cooldowns.zone_expire_hours", 12)

	// Maintenance
	v.SetDefault("maintenance.health_check_interval_minutes", 30)
	v.SetDefault("maintenance.zone_cleanup_interval_hours", 6)
	v.SetDefault("maintenance.cache_eviction_interval_minutes", 15)
	v.SetDefault("maintenance.max_memory_mb", 512)
	v.SetDefault("maintenance.job_timeout_seconds", 60)

	// Detection
	v.SetDefault("detection.excellent_range_fraction", 0.7)
	v.SetDefault("detection.good_range_fraction", 0.85)
	v.SetDefault("detection.body_ratio_min", 0.5)
	v.SetDefault("detection.symbol_range_multipliers", map[string]float64{})

	// Per-timeframe table
	for tf, ts := range DefaultTimeframeSettings() {
		v.SetDefault("timeframe_settings."+tf, ts.asMap())
	}
}
