package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"gold-rate-alerts/internal/logging"
	"gold-rate-alerts/internal/storage"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig          `mapstructure:"app"`
	Logging    logging.Config     `mapstructure:"logging"`
	Database   storage.PoolConfig `mapstructure:"database"`
	Rates      RatesConfig        `mapstructure:"rates"`
	Sources    SourcesConfig      `mapstructure:"sources"`
	Scheduler  SchedulerConfig    `mapstructure:"scheduler"`
	Dispatch   DispatchConfig     `mapstructure:"dispatch"`
	Status     StatusConfig       `mapstructure:"status"`
	Export     ExportConfig       `mapstructure:"export"`
	Recipients []RecipientConfig  `mapstructure:"recipients"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RatesConfig governs the cache and ingestion validation.
type RatesConfig struct {
	Cities     []string      `mapstructure:"cities"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	MaxJumpPct float64       `mapstructure:"max_jump_pct"`
}

// SourcesConfig describes the ranked quote providers. Order lists provider
// names highest priority first.
type SourcesConfig struct {
	Order   []string      `mapstructure:"order"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retail  RetailConfig  `mapstructure:"retail"`
	Spot    SpotConfig    `mapstructure:"spot"`
}

// RetailConfig covers the city rate board feed.
type RetailConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// SpotConfig covers the international spot and forex APIs.
type SpotConfig struct {
	BaseURL    string  `mapstructure:"base_url"`
	ForexURL   string  `mapstructure:"forex_url"`
	PremiumPct float64 `mapstructure:"premium_pct"`
}

// SchedulerConfig declares job cadences. Specs accept cron expressions or
// "@every" descriptors, interpreted in Timezone.
type SchedulerConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	IngestSpec      string        `mapstructure:"ingest_spec"`
	EvaluateSpec    string        `mapstructure:"evaluate_spec"`
	BriefSpec       string        `mapstructure:"brief_spec"`
	DependencyWait  time.Duration `mapstructure:"dependency_wait"`
	JobDeadline     time.Duration `mapstructure:"job_deadline"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// DispatchConfig tunes delivery behaviour and the messaging gateway.
type DispatchConfig struct {
	MaxInFlight int            `mapstructure:"max_in_flight"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	RetryBase   time.Duration  `mapstructure:"retry_base"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram gateway.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StatusConfig controls the diagnostic HTTP surface.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RecipientConfig describes one message recipient. For Telegram delivery
// the id is the chat id.
type RecipientConfig struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	PreferredCity string `mapstructure:"preferred_city"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOLDWATCH")
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
	v.SetDefault("app.name", "goldwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("rates.cities", []string{"Mumbai", "Delhi", "Chennai"})
	v.SetDefault("rates.stale_after", "1h")
	v.SetDefault("rates.max_jump_pct", 20.0)

	v.SetDefault("sources.order", []string{"retail", "spot"})
	v.SetDefault("sources.timeout", "10s")
	v.SetDefault("sources.retail.user_agent", "goldwatch/1.0")
	v.SetDefault("sources.spot.base_url", "https://api.gold-api.com")
	v.SetDefault("sources.spot.forex_url", "https://api.exchangerate-api.com/v4")
	v.SetDefault("sources.spot.premium_pct", 0.0)

	v.SetDefault("scheduler.timezone", "Asia/Kolkata")
	v.SetDefault("scheduler.ingest_spec", "*/15 9-21 * * *")
	v.SetDefault("scheduler.evaluate_spec", "*/15 9-21 * * *")
	v.SetDefault("scheduler.brief_spec", "0 9 * * *")
	v.SetDefault("scheduler.dependency_wait", "30s")
	v.SetDefault("scheduler.job_deadline", "2m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x676f6c64))

	v.SetDefault("dispatch.max_in_flight", 4)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.retry_base", "1s")
	v.SetDefault("dispatch.telegram.enabled", false)
	v.SetDefault("dispatch.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("dispatch.telegram.timeout", "10s")

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", ":8090")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if len(c.Rates.Cities) == 0 {
		return fmt.Errorf("rates.cities must list at least one city")
	}
	if c.Rates.StaleAfter <= 0 {
		return fmt.Errorf("rates.stale_after must be greater than zero")
	}
	if c.Rates.MaxJumpPct < 0 {
		return fmt.Errorf("rates.max_jump_pct cannot be negative")
	}
	if len(c.Sources.Order) == 0 {
		return fmt.Errorf("sources.order must rank at least one provider")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone invalid: %w", err)
	}
	if c.Dispatch.MaxInFlight <= 0 {
		return fmt.Errorf("dispatch.max_in_flight must be greater than zero")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Dispatch.Telegram.Enabled && c.Dispatch.Telegram.BotToken == "" {
		return fmt.Errorf("dispatch.telegram.bot_token must be configured")
	}
	return nil
}

// Location resolves the scheduler timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
