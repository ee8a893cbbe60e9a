// Package config loads and validates worker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported backends.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	BrokerMemory = "memory"
	BrokerPubSub = "pubsub"

	ProviderDataForSEO = "dataforseo"
	ProviderGNews      = "gnews"

	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Tasks        TasksConfig        `mapstructure:"tasks"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Search       SearchConfig       `mapstructure:"search"`
	Analysis     AnalysisConfig     `mapstructure:"analysis"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Index        IndexConfig        `mapstructure:"index"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards the mutating ops endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// TasksConfig configures the task runtime.
type TasksConfig struct {
	Broker        string        `mapstructure:"broker"`
	Concurrency   int           `mapstructure:"concurrency"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	HardTimeLimit time.Duration `mapstructure:"hard_time_limit"`
	SoftTimeLimit time.Duration `mapstructure:"soft_time_limit"`
}

// SchedulerConfig configures periodic enqueueing.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
	SkipInFlight bool          `mapstructure:"skip_in_flight"`
}

// OrchestratorConfig tunes a scrape run.
type OrchestratorConfig struct {
	LookbackDays        int           `mapstructure:"lookback_days"`
	MaxResults          int           `mapstructure:"max_results"`
	AnalysisInterval    time.Duration `mapstructure:"analysis_interval"`
	AnalysisConcurrency int           `mapstructure:"analysis_concurrency"`
	ScheduleInterval    time.Duration `mapstructure:"schedule_interval"`
}

// SearchConfig selects the search provider.
type SearchConfig struct {
	Provider   string           `mapstructure:"provider"`
	DataForSEO DataForSEOConfig `mapstructure:"dataforseo"`
	GNews      GNewsConfig      `mapstructure:"gnews"`
}

// DataForSEOConfig holds DataForSEO credentials.
type DataForSEOConfig struct {
	Login       string  `mapstructure:"login"`
	Password    string  `mapstructure:"password"`
	BaseURL     string  `mapstructure:"base_url"`
	CostPerCall float64 `mapstructure:"cost_per_call"`
}

// GNewsConfig configures the Google News RSS provider.
type GNewsConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// AnalysisConfig configures the analysis provider.
type AnalysisConfig struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// SMTPConfig holds notification transport settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// AlertsConfig controls alert rendering.
type AlertsConfig struct {
	AppURL   string `mapstructure:"app_url"`
	Timezone string `mapstructure:"timezone"`
}

// StorageConfig selects where raw search payloads are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds Pub/Sub topics for tasks and job events.
type PubSubConfig struct {
	ProjectID        string        `mapstructure:"project_id"`
	EventsTopic      string        `mapstructure:"events_topic"`
	TaskTopic        string        `mapstructure:"task_topic"`
	TaskSubscription string        `mapstructure:"task_subscription"`
	MaxOutstanding   int           `mapstructure:"max_outstanding"`
	MaxExtension     time.Duration `mapstructure:"max_extension"`
}

// IndexConfig configures the Elasticsearch mirror.
type IndexConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Name      string   `mapstructure:"name"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// legacyEnv maps config keys onto the unprefixed variable names used by
// existing deployments. MONITOR_* names still take precedence.
var legacyEnv = map[string]string{
	"database.url":               "DATABASE_URL",
	"search.dataforseo.login":    "DATAFORSEO_LOGIN",
	"search.dataforseo.password": "DATAFORSEO_PASSWORD",
	"analysis.gemini.api_key":    "GEMINI_API_KEY",
	"smtp.host":                  "SMTP_HOST",
	"smtp.port":                  "SMTP_PORT",
	"smtp.username":              "SMTP_USER",
	"smtp.password":              "SMTP_PASS",
	"alerts.app_url":             "APP_URL",
	"pubsub.project_id":          "GOOGLE_CLOUD_PROJECT",
	"storage.gcs_bucket":         "GCS_BUCKET",
	"index.password":             "ELASTIC_PASSWORD",
}

// Load builds a Config from an optional .env file, a config file and the
// environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "MONITOR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads ENV_PATH (default .env) when it exists. Variables already
// set in the environment win.
func loadDotEnv() error {
	path := os.Getenv("ENV_PATH")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", false)
	v.SetDefault("tasks.broker", BrokerMemory)
	v.SetDefault("tasks.concurrency", 2)
	v.SetDefault("tasks.queue_capacity", 256)
	v.SetDefault("tasks.max_retries", 3)
	v.SetDefault("tasks.retry_delay", "5m")
	v.SetDefault("tasks.hard_time_limit", "3600s")
	v.SetDefault("tasks.soft_time_limit", "3000s")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.skip_in_flight", false)
	v.SetDefault("orchestrator.lookback_days", 7)
	v.SetDefault("orchestrator.max_results", 100)
	v.SetDefault("orchestrator.analysis_interval", "500ms")
	v.SetDefault("orchestrator.analysis_concurrency", 1)
	v.SetDefault("orchestrator.schedule_interval", "6h")
	v.SetDefault("search.provider", ProviderDataForSEO)
	v.SetDefault("search.dataforseo.login", "")
	v.SetDefault("search.dataforseo.password", "")
	v.SetDefault("search.dataforseo.base_url", "https://api.dataforseo.com/v3")
	v.SetDefault("search.dataforseo.cost_per_call", 0.10)
	v.SetDefault("search.gnews.base_url", "https://news.google.com/rss/search")
	v.SetDefault("analysis.gemini.api_key", "")
	v.SetDefault("analysis.gemini.model", "gemini-2.0-flash")
	v.SetDefault("analysis.gemini.base_url", "")
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("alerts.app_url", "http://localhost:8501")
	v.SetDefault("alerts.timezone", "Europe/Rome")
	v.SetDefault("storage.backend", ArchiveNone)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "data/archive")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.events_topic", "")
	v.SetDefault("pubsub.task_topic", "")
	v.SetDefault("pubsub.task_subscription", "")
	v.SetDefault("pubsub.max_outstanding", 4)
	v.SetDefault("pubsub.max_extension", "70m")
	v.SetDefault("index.enabled", false)
	v.SetDefault("index.name", "articles")
	v.SetDefault("index.addresses", []string{})
	v.SetDefault("index.username", "")
	v.SetDefault("index.password", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "web-monitor")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(!c.Auth.Enabled || c.Auth.APIKey != "", "auth.api_key must be set when auth is enabled")

	switch c.Database.Driver {
	case DriverPostgres:
		check(c.Database.URL != "", "database.url is required for the postgres driver")
	case DriverMemory:
	default:
		check(false, "database.driver %q is not supported", c.Database.Driver)
	}

	switch c.Tasks.Broker {
	case BrokerMemory:
		check(c.Tasks.QueueCapacity > 0, "tasks.queue_capacity must be > 0")
	case BrokerPubSub:
		check(c.PubSub.ProjectID != "", "pubsub.project_id is required for the pubsub broker")
		check(c.PubSub.TaskTopic != "", "pubsub.task_topic is required for the pubsub broker")
		check(c.PubSub.TaskSubscription != "", "pubsub.task_subscription is required for the pubsub broker")
	default:
		check(false, "tasks.broker %q is not supported", c.Tasks.Broker)
	}
	check(c.Tasks.Concurrency > 0, "tasks.concurrency must be > 0")
	check(c.Tasks.MaxRetries >= 0, "tasks.max_retries must be >= 0")
	check(c.Tasks.RetryDelay >= 0, "tasks.retry_delay must be >= 0")
	check(c.Tasks.HardTimeLimit > 0, "tasks.hard_time_limit must be > 0")
	check(c.Tasks.SoftTimeLimit < c.Tasks.HardTimeLimit, "tasks.soft_time_limit must be below tasks.hard_time_limit")

	check(!c.Scheduler.Enabled || c.Scheduler.Interval > 0, "scheduler.interval must be > 0")

	check(c.Orchestrator.LookbackDays > 0, "orchestrator.lookback_days must be > 0")
	check(c.Orchestrator.MaxResults > 0, "orchestrator.max_results must be > 0")
	check(c.Orchestrator.AnalysisConcurrency > 0, "orchestrator.analysis_concurrency must be > 0")

	switch c.Search.Provider {
	case ProviderDataForSEO:
		check(c.Search.DataForSEO.Login != "" && c.Search.DataForSEO.Password != "",
			"search.dataforseo.login and search.dataforseo.password are required")
	case ProviderGNews:
	default:
		check(false, "search.provider %q is not supported", c.Search.Provider)
	}
	check(c.Analysis.Gemini.APIKey != "", "analysis.gemini.api_key is required")

	if c.Alerts.Timezone != "" {
		_, err := time.LoadLocation(c.Alerts.Timezone)
		check(err == nil, "alerts.timezone %q is not a known location", c.Alerts.Timezone)
	}

	switch c.Storage.Backend {
	case ArchiveNone, ArchiveMemory, "":
	case ArchiveLocal:
		check(c.Storage.LocalDir != "", "storage.local_dir is required for the local backend")
	case ArchiveGCS:
		check(c.Storage.GCSBucket != "", "storage.gcs_bucket is required for the gcs backend")
	default:
		check(false, "storage.backend %q is not supported", c.Storage.Backend)
	}

	check(!c.Index.Enabled || len(c.Index.Addresses) > 0, "index.addresses is required when the index is enabled")
	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1, "tracing.sample_ratio must be within [0, 1]")

	return errors.Join(errs...)
}

// Location resolves the alert timezone, defaulting to UTC.
func (c AlertsConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NeedsPubSub reports whether any component talks to Pub/Sub.
func (c Config) NeedsPubSub() bool {
	return c.Tasks.Broker == BrokerPubSub || c.PubSub.EventsTopic != ""
}
