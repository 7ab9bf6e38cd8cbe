package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/engage/pkg/analytics"
	"github.com/platinummonkey/engage/pkg/cache"
	"github.com/platinummonkey/engage/pkg/observability"
	"github.com/platinummonkey/engage/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Cache         CacheConfig         `yaml:"cache"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the ops server (metrics and health probes) settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PostgresConfig holds the data store connection settings
type PostgresConfig struct {
	URL                 string        `yaml:"url"`
	ReplicaURLs         []string      `yaml:"replica_urls"`
	MaxConns            int           `yaml:"max_conns"`
	MinConns            int           `yaml:"min_conns"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	MaxIdleTime         time.Duration `yaml:"max_idle_time"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// CacheConfig holds report cache settings
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RedisURL        string        `yaml:"redis_url"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	RedisMaxRetries int           `yaml:"redis_max_retries"`
	RedisPoolSize   int           `yaml:"redis_pool_size"`
	L1MaxEntries    int           `yaml:"l1_max_entries"`
	L1TTL           time.Duration `yaml:"l1_ttl"`
	SeriesTTL       time.Duration `yaml:"series_ttl"`
	AnalysisTTL     time.Duration `yaml:"analysis_ttl"`
	SummaryTTL      time.Duration `yaml:"summary_ttl"`
}

// AnalyticsConfig holds the defaults applied to requests that omit them
type AnalyticsConfig struct {
	DefaultMonths      int     `yaml:"default_months"`
	DefaultSensitivity float64 `yaml:"default_sensitivity"`
}

// SchedulerConfig holds the cache warm schedule
type SchedulerConfig struct {
	WarmEnabled  bool   `yaml:"warm_enabled"`
	WarmSchedule string `yaml:"warm_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the built-in configuration
func Default() *Config {
	ttls := analytics.DefaultTTLs()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxConns:            25,
			MinConns:            5,
			Timeout:             5 * time.Second,
			MaxLifetime:         30 * time.Minute,
			MaxIdleTime:         5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      true,
			L1MaxEntries: 1024,
			L1TTL:        5 * time.Minute,
			SeriesTTL:    ttls.Series,
			AnalysisTTL:  ttls.Analysis,
			SummaryTTL:   ttls.Summary,
		},
		Analytics: AnalyticsConfig{
			DefaultMonths:      analytics.DefaultMonths,
			DefaultSensitivity: analytics.DefaultSensitivity,
		},
		Scheduler: SchedulerConfig{
			WarmEnabled:  true,
			WarmSchedule: "*/15 * * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.LogFormatJSON,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "engage-analytics",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from the file named by ENGAGE_CONFIG_FILE
// (if any) and the environment
func LoadConfig() (*Config, error) {
	return Load(getEnv("ENGAGE_CONFIG_FILE", ""))
}

// Load layers the YAML file at path (optional) and then environment
// variables over the defaults, and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides every field whose ENGAGE_* variable is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("ENGAGE_HOST", s.Host)
	s.Port = getEnv("ENGAGE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("ENGAGE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("ENGAGE_WRITE_TIMEOUT", s.WriteTimeout)
	s.ShutdownTimeout = getEnvDuration("ENGAGE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	p := &c.Postgres
	p.URL = getEnv("ENGAGE_POSTGRES_URL", p.URL)
	if replicas := getEnv("ENGAGE_POSTGRES_REPLICA_URLS", ""); replicas != "" {
		p.ReplicaURLs = postgres.ParseReplicaURLs(replicas)
	}
	p.MaxConns = getEnvInt("ENGAGE_POSTGRES_MAX_CONNS", p.MaxConns)
	p.MinConns = getEnvInt("ENGAGE_POSTGRES_MIN_CONNS", p.MinConns)
	p.Timeout = getEnvDuration("ENGAGE_POSTGRES_TIMEOUT", p.Timeout)
	p.MaxLifetime = getEnvDuration("ENGAGE_POSTGRES_MAX_LIFETIME", p.MaxLifetime)
	p.MaxIdleTime = getEnvDuration("ENGAGE_POSTGRES_MAX_IDLE_TIME", p.MaxIdleTime)
	p.HealthCheckInterval = getEnvDuration("ENGAGE_POSTGRES_HEALTH_CHECK_INTERVAL", p.HealthCheckInterval)

	ca := &c.Cache
	ca.Enabled = getEnvBool("ENGAGE_CACHE_ENABLED", ca.Enabled)
	ca.RedisURL = getEnv("ENGAGE_REDIS_URL", ca.RedisURL)
	ca.RedisPassword = getEnv("ENGAGE_REDIS_PASSWORD", ca.RedisPassword)
	ca.RedisDB = getEnvInt("ENGAGE_REDIS_DB", ca.RedisDB)
	ca.RedisMaxRetries = getEnvInt("ENGAGE_REDIS_MAX_RETRIES", ca.RedisMaxRetries)
	ca.RedisPoolSize = getEnvInt("ENGAGE_REDIS_POOL_SIZE", ca.RedisPoolSize)
	ca.L1MaxEntries = getEnvInt("ENGAGE_L1_CACHE_SIZE", ca.L1MaxEntries)
	ca.L1TTL = getEnvDuration("ENGAGE_L1_CACHE_TTL", ca.L1TTL)
	ca.SeriesTTL = getEnvDuration("ENGAGE_CACHE_SERIES_TTL", ca.SeriesTTL)
	ca.AnalysisTTL = getEnvDuration("ENGAGE_CACHE_ANALYSIS_TTL", ca.AnalysisTTL)
	ca.SummaryTTL = getEnvDuration("ENGAGE_CACHE_SUMMARY_TTL", ca.SummaryTTL)

	a := &c.Analytics
	a.DefaultMonths = getEnvInt("ENGAGE_DEFAULT_MONTHS", a.DefaultMonths)
	a.DefaultSensitivity = getEnvFloat("ENGAGE_DEFAULT_SENSITIVITY", a.DefaultSensitivity)

	sc := &c.Scheduler
	sc.WarmEnabled = getEnvBool("ENGAGE_WARM_ENABLED", sc.WarmEnabled)
	sc.WarmSchedule = getEnv("ENGAGE_WARM_SCHEDULE", sc.WarmSchedule)

	o := &c.Observability
	o.LogLevel = getEnv("ENGAGE_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("ENGAGE_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("ENGAGE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("ENGAGE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("ENGAGE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("ENGAGE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("ENGAGE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("ENGAGE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("ENGAGE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("postgres max conns must be positive")
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}

	if c.Cache.Enabled && c.Cache.RedisURL == "" && c.Cache.L1MaxEntries <= 0 {
		return fmt.Errorf("cache is enabled but neither redis URL nor L1 cache size is set")
	}
	if c.Cache.SeriesTTL <= 0 || c.Cache.AnalysisTTL <= 0 || c.Cache.SummaryTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	if c.Analytics.DefaultMonths <= 0 {
		return fmt.Errorf("default months must be positive, got %d", c.Analytics.DefaultMonths)
	}
	if c.Analytics.DefaultSensitivity <= 0 {
		return fmt.Errorf("default sensitivity must be positive, got %g", c.Analytics.DefaultSensitivity)
	}

	if c.Scheduler.WarmEnabled {
		if _, err := cron.ParseStandard(c.Scheduler.WarmSchedule); err != nil {
			return fmt.Errorf("invalid warm schedule %q: %w", c.Scheduler.WarmSchedule, err)
		}
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Observability.LogLevel)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case observability.LogFormatJSON, observability.LogFormatText:
	default:
		return fmt.Errorf("invalid log format %q (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Address returns the ops server listen address
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Connection returns the connection manager settings
func (p PostgresConfig) Connection() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  p.URL,
		ReplicaURLs: p.ReplicaURLs,
		MaxConns:    p.MaxConns,
		MinConns:    p.MinConns,
		Timeout:     p.Timeout,
		MaxLifetime: p.MaxLifetime,
		MaxIdleTime: p.MaxIdleTime,
	}
}

// Backend returns the cache backend settings
func (c CacheConfig) Backend() cache.Config {
	return cache.Config{
		RedisURL:        c.RedisURL,
		RedisPassword:   c.RedisPassword,
		RedisDB:         c.RedisDB,
		RedisMaxRetries: c.RedisMaxRetries,
		RedisPoolSize:   c.RedisPoolSize,
		L1MaxEntries:    c.L1MaxEntries,
		L1TTL:           c.L1TTL,
	}
}

// TTLs returns the per-report cache lifetimes
func (c CacheConfig) TTLs() analytics.TTLs {
	return analytics.TTLs{
		Series:   c.SeriesTTL,
		Analysis: c.AnalysisTTL,
		Summary:  c.SummaryTTL,
	}
}

// Defaults returns the engine defaults
func (a AnalyticsConfig) Defaults() analytics.Defaults {
	return analytics.Defaults{
		Months:      a.DefaultMonths,
		Sensitivity: a.DefaultSensitivity,
	}
}

// OTel returns the tracing settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
