package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"riskmonitor/internal/logging"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and configures the metric store backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig covers the embedded store.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" validate:"gte=0"`
}

// PostgresConfig encapsulates PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay" validate:"gte=0"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout" validate:"gte=0"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketConfig names the monitored pair.
type MarketConfig struct {
	Base        string `mapstructure:"base" validate:"required"`
	Quote       string `mapstructure:"quote" validate:"required"`
	CoinGeckoID string `mapstructure:"coingecko_id"`
}

// Symbol renders the pair as BASE/QUOTE.
func (m MarketConfig) Symbol() string {
	return strings.ToUpper(m.Base) + "/" + strings.ToUpper(m.Quote)
}

// SourcesConfig captures order book provider connectivity.
type SourcesConfig struct {
	Order          []string       `mapstructure:"order" validate:"min=1,dive,oneof=kucoin gateio mexc"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout" validate:"gt=0"`
	MaxAttempts    int            `mapstructure:"max_attempts" validate:"gte=1"`
	BackoffStep    time.Duration  `mapstructure:"backoff_step" validate:"gte=0"`
	DepthLimit     int            `mapstructure:"depth_limit" validate:"gt=0"`
	UserAgent      string         `mapstructure:"user_agent"`
	KuCoin         EndpointConfig `mapstructure:"kucoin"`
	GateIO         EndpointConfig `mapstructure:"gateio"`
	MEXC           EndpointConfig `mapstructure:"mexc"`
	Ticker         TickerConfig   `mapstructure:"ticker"`
}

// EndpointConfig overrides a venue base URL.
type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// TickerConfig controls the 24h volume/change enrichment.
type TickerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// AnalysisConfig bounds the depth computation.
type AnalysisConfig struct {
	BandPct   float64 `mapstructure:"band_pct" validate:"gt=0,lt=1"`
	MaxLevels int     `mapstructure:"max_levels" validate:"gt=0"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	DepthStdThreshold float64        `mapstructure:"depth_std_threshold" validate:"gte=0"`
	VRPMinThreshold   float64        `mapstructure:"vrp_min_threshold"`
	MaxSpreadBps      float64        `mapstructure:"max_spread_bps" validate:"gt=0"`
	Cooldown          time.Duration  `mapstructure:"cooldown" validate:"gte=0"`
	WindowDays        int            `mapstructure:"window_days" validate:"gt=0"`
	MinDepthSamples   int            `mapstructure:"min_depth_samples" validate:"gte=2"`
	MinPricePoints    int            `mapstructure:"min_price_points" validate:"gte=3"`
	Telegram          TelegramConfig `mapstructure:"telegram"`
	Email             EmailConfig    `mapstructure:"email"`
}

// Window returns the rolling window as a duration.
func (a AlertingConfig) Window() time.Duration {
	return time.Duration(a.WindowDays) * 24 * time.Hour
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	ChatID   string `mapstructure:"chat_id" validate:"required_if=Enabled true"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig describes SMTP delivery.
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	SMTPHost   string   `mapstructure:"smtp_host" validate:"required_if=Enabled true"`
	SMTPPort   int      `mapstructure:"smtp_port" validate:"gte=0,lte=65535"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from" validate:"required_if=Enabled true"`
	Recipients []string `mapstructure:"recipients"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points" validate:"gt=0"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RISKMONITOR")
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

// Default returns the configuration produced with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		panic("decode default config: " + err.Error())
	}
	return &cfg
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "riskmonitor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite.path", "data/risk.db")
	v.SetDefault("storage.sqlite.busy_timeout", "5s")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.postgres.max_idle_conns", 2)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.cycle_timeout", "2m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x534f4c52))

	v.SetDefault("market.base", "SOL")
	v.SetDefault("market.quote", "USDT")
	v.SetDefault("market.coingecko_id", "solana")

	v.SetDefault("sources.order", []string{"kucoin", "gateio", "mexc"})
	v.SetDefault("sources.request_timeout", "10s")
	v.SetDefault("sources.max_attempts", 3)
	v.SetDefault("sources.backoff_step", "2s")
	v.SetDefault("sources.depth_limit", 100)
	v.SetDefault("sources.user_agent", "riskmonitor/1.0")
	v.SetDefault("sources.kucoin.base_url", "https://api.kucoin.com")
	v.SetDefault("sources.gateio.base_url", "https://api.gateio.ws")
	v.SetDefault("sources.mexc.base_url", "https://api.mexc.com")
	v.SetDefault("sources.ticker.enabled", true)
	v.SetDefault("sources.ticker.base_url", "https://api.coingecko.com/api/v3")

	v.SetDefault("analysis.band_pct", 0.01)
	v.SetDefault("analysis.max_levels", 50)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.depth_std_threshold", 1.0)
	v.SetDefault("alerting.vrp_min_threshold", 0.01)
	v.SetDefault("alerting.max_spread_bps", 20.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.window_days", 30)
	v.SetDefault("alerting.min_depth_samples", 10)
	v.SetDefault("alerting.min_price_points", 3)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.smtp_host", "smtp.gmail.com")
	v.SetDefault("alerting.email.smtp_port", 587)
	v.SetDefault("alerting.email.username", "")
	v.SetDefault("alerting.email.password", "")
	v.SetDefault("alerting.email.from", "")
	v.SetDefault("alerting.email.recipients", []string{})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9108")
	v.SetDefault("metrics.path", "/metrics")

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

var validate = validator.New()

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres driver")
		}
	}

	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s")
	}
	if c.Sources.Ticker.Enabled && c.Market.CoinGeckoID == "" {
		return fmt.Errorf("market.coingecko_id is required when sources.ticker is enabled")
	}
	if c.Alerting.Email.Enabled && len(c.Alerting.Email.Recipients) == 0 {
		return fmt.Errorf("alerting.email.recipients must list at least one address")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen must be set when metrics are enabled")
	}

	seen := make(map[string]struct{}, len(c.Sources.Order))
	for _, name := range c.Sources.Order {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("sources.order lists %q twice", name)
		}
		seen[name] = struct{}{}
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
