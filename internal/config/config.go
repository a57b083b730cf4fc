package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mortality-alerts/internal/logging"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "MORTALITYWATCH"

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Warehouse  WarehouseConfig  `mapstructure:"warehouse"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the PostgreSQL historical store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WarehouseConfig points at the raw discharge facts.
type WarehouseConfig struct {
	Driver            string        `mapstructure:"driver"`
	DSN               string        `mapstructure:"dsn"`
	FactTable         string        `mapstructure:"fact_table"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
	ExpectedBatchSize int           `mapstructure:"expected_batch_size"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
}

// SchedulerConfig governs the recurring jobs of the run command.
type SchedulerConfig struct {
	AdvisoryLockKey int64          `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration  `mapstructure:"startup_delay"`
	DailySync       JobConfig      `mapstructure:"daily_sync"`
	WeeklyAlert     AlertJobConfig `mapstructure:"weekly_alert"`
}

// JobConfig describes an aligned recurring job. Offset shifts the tick away
// from the interval boundary, e.g. interval 24h offset 2h runs at 02:00 UTC.
type JobConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Offset   time.Duration `mapstructure:"offset"`
}

// AlertJobConfig is a JobConfig that also names the model to send.
type AlertJobConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Offset   time.Duration `mapstructure:"offset"`
	Model    int           `mapstructure:"model"`
}

// AlertingConfig defines digest routing.
type AlertingConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	GoogleChat GoogleChatConfig `mapstructure:"google_chat"`
}

// GoogleChatConfig describes the incoming-webhook target.
type GoogleChatConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// EvaluationConfig tunes model evaluation runs.
type EvaluationConfig struct {
	DefaultModel    int           `mapstructure:"default_model"`
	PrefetchTimeout time.Duration `mapstructure:"prefetch_timeout"`
}

// MetricsConfig controls the Prometheus textfile written after each run.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TextfilePath string `mapstructure:"textfile_path"`
}

// HTTPConfig configures the dashboard API.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AnalysisConfig configures month-over-month change analysis.
type AnalysisConfig struct {
	Strategy              string  `mapstructure:"strategy"`
	DeathThreshold        int     `mapstructure:"death_threshold"`
	WindowMonths          int     `mapstructure:"window_months"`
	TopN                  int     `mapstructure:"top_n"`
	RequireCompleteWindow bool    `mapstructure:"require_complete_window"`
	DenylistPath          string  `mapstructure:"denylist_path"`
	MinRateChange         float64 `mapstructure:"min_rate_change"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("alerting.google_chat.webhook_url", EnvPrefix+"_ALERTING_GOOGLE_CHAT_WEBHOOK_URL", "GOOGLE_CHAT_WEBHOOK_URL")

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
	v.SetDefault("app.name", "mortalitywatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.ping_timeout", "5s")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("warehouse.driver", "postgres")
	v.SetDefault("warehouse.fact_table", "discharged_patients_fact")
	v.SetDefault("warehouse.query_timeout", "60s")
	v.SetDefault("warehouse.expected_batch_size", 5000)
	v.SetDefault("warehouse.max_open_conns", 4)

	v.SetDefault("scheduler.advisory_lock_key", int64(0x4d4f5254))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.daily_sync.enabled", true)
	v.SetDefault("scheduler.daily_sync.interval", "24h")
	v.SetDefault("scheduler.daily_sync.offset", "2h")
	v.SetDefault("scheduler.weekly_alert.enabled", true)
	v.SetDefault("scheduler.weekly_alert.interval", "168h")
	v.SetDefault("scheduler.weekly_alert.offset", "9h")
	v.SetDefault("scheduler.weekly_alert.model", 10)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.google_chat.enabled", false)

	v.SetDefault("evaluation.default_model", 10)
	v.SetDefault("evaluation.prefetch_timeout", "60s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile_path", "metrics/mortalitywatch.prom")

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("analysis.strategy", "death_delta")
	v.SetDefault("analysis.death_threshold", 2)
	v.SetDefault("analysis.window_months", 2)
	v.SetDefault("analysis.top_n", 5)
	v.SetDefault("analysis.require_complete_window", false)
	v.SetDefault("analysis.min_rate_change", 0.0)

	v.SetDefault("export.max_rows", 100000)
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
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	switch c.Warehouse.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("warehouse.driver must be postgres or pgx, got %q", c.Warehouse.Driver)
	}
	if c.Warehouse.ExpectedBatchSize <= 0 {
		return fmt.Errorf("warehouse.expected_batch_size must be greater than zero")
	}
	if c.Warehouse.FactTable == "" {
		return fmt.Errorf("warehouse.fact_table is required")
	}
	if err := validateJob("scheduler.daily_sync", c.Scheduler.DailySync.Enabled, c.Scheduler.DailySync.Interval, c.Scheduler.DailySync.Offset); err != nil {
		return err
	}
	weekly := c.Scheduler.WeeklyAlert
	if err := validateJob("scheduler.weekly_alert", weekly.Enabled, weekly.Interval, weekly.Offset); err != nil {
		return err
	}
	if weekly.Enabled && (weekly.Model < 1 || weekly.Model > 13) {
		return fmt.Errorf("scheduler.weekly_alert.model must be within 1-13")
	}
	if c.Evaluation.DefaultModel < 1 || c.Evaluation.DefaultModel > 13 {
		return fmt.Errorf("evaluation.default_model must be within 1-13")
	}
	if c.Alerting.GoogleChat.Enabled && c.Alerting.GoogleChat.WebhookURL == "" {
		return fmt.Errorf("alerting.google_chat.webhook_url must be set when google_chat is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.TextfilePath == "" {
		return fmt.Errorf("metrics.textfile_path must be set when metrics are enabled")
	}
	switch c.Analysis.Strategy {
	case "death_delta", "rate_extremum":
	default:
		return fmt.Errorf("analysis.strategy must be death_delta or rate_extremum, got %q", c.Analysis.Strategy)
	}
	if c.Analysis.WindowMonths < 2 {
		return fmt.Errorf("analysis.window_months must be at least 2")
	}
	switch c.HTTP.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("http.mode must be debug, release or test, got %q", c.HTTP.Mode)
	}
	if c.Analysis.DeathThreshold < 0 {
		return fmt.Errorf("analysis.death_threshold cannot be negative")
	}
	return nil
}

func validateJob(name string, enabled bool, interval, offset time.Duration) error {
	if !enabled {
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("%s.interval must be greater than zero", name)
	}
	if offset < 0 || offset >= interval {
		return fmt.Errorf("%s.offset must be within [0, interval)", name)
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}

// ResolveModel returns the CLI override or the configured default model.
func (c *Config) ResolveModel(override int) int {
	if override > 0 {
		return override
	}
	return c.Evaluation.DefaultModel
}
