// Package config loads service configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, Search, Settings, Admin, etc.).
//
// Daemon connection settings (server, port, index, timeout) are not part of
// this file-based configuration: they are edited at runtime through the admin
// endpoint and live in the settings store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Search    SearchConfig    `yaml:"search"`
	Settings  SettingsConfig  `yaml:"settings"`
	Admin     AdminConfig     `yaml:"admin"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	SearchTopic string   `yaml:"searchTopic"`
}

// SearchConfig selects the daemon driver and describes how the daemon's
// index maps onto host records.
type SearchConfig struct {
	// Engine is one of sphinx, elastic, meili or none.
	Engine         string `yaml:"engine"`
	DefaultPerPage int    `yaml:"defaultPerPage"`
	// IDAttribute names the match attribute holding the record ID. Empty
	// means the daemon's own document ID is the record ID.
	IDAttribute    string `yaml:"idAttribute"`
	DateAttribute  string `yaml:"dateAttribute"`
	TitleAttribute string `yaml:"titleAttribute"`
	// FallbackReserve is the part of the request deadline a daemon query
	// may not use, so the native search can still run after it times out.
	FallbackReserve time.Duration `yaml:"fallbackReserve"`
	Elastic         ElasticConfig `yaml:"elastic"`
	Meili           MeiliConfig   `yaml:"meili"`
}

// ElasticConfig holds the Elasticsearch driver options.
type ElasticConfig struct {
	Scheme   string   `yaml:"scheme"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Fields   []string `yaml:"fields"`
}

// MeiliConfig holds the Meilisearch driver options.
type MeiliConfig struct {
	Scheme       string `yaml:"scheme"`
	APIKey       string `yaml:"apiKey"`
	DefaultIndex string `yaml:"defaultIndex"`
}

// SettingsConfig selects where daemon connection settings are persisted.
type SettingsConfig struct {
	// Backend is one of redis, postgres or memory.
	Backend    string `yaml:"backend"`
	OptionName string `yaml:"optionName"`
}

// AdminConfig controls the admin settings endpoint.
type AdminConfig struct {
	NonceSecret   string        `yaml:"nonceSecret"`
	NonceLifetime time.Duration `yaml:"nonceLifetime"`
	SubmitLimit   int           `yaml:"submitLimit"`
	SubmitWindow  time.Duration `yaml:"submitWindow"`
}

// AnalyticsConfig controls publishing of search events to Kafka.
type AnalyticsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"bufferSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for the search pipeline.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Search.Engine {
	case "sphinx", "elastic", "meili", "none":
	default:
		return fmt.Errorf("search.engine must be one of sphinx, elastic, meili, none; got %q", c.Search.Engine)
	}
	switch c.Settings.Backend {
	case "redis", "postgres", "memory":
	default:
		return fmt.Errorf("settings.backend must be one of redis, postgres, memory; got %q", c.Settings.Backend)
	}
	if c.Search.DefaultPerPage < 1 {
		return fmt.Errorf("search.defaultPerPage must be positive, got %d", c.Search.DefaultPerPage)
	}
	if c.Search.FallbackReserve < 0 || (c.Server.WriteTimeout > 0 && c.Search.FallbackReserve >= c.Server.WriteTimeout) {
		return fmt.Errorf("search.fallbackReserve must be below server.writeTimeout, got %v", c.Search.FallbackReserve)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "content",
			User:            "content",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			SearchTopic: "search-events",
		},
		Search: SearchConfig{
			Engine:          "sphinx",
			DefaultPerPage:  10,
			IDAttribute:     "post_id",
			DateAttribute:   "date_added",
			TitleAttribute:  "title",
			FallbackReserve: 2 * time.Second,
			Elastic: ElasticConfig{
				Scheme: "http",
				Fields: []string{"title", "content"},
			},
			Meili: MeiliConfig{
				Scheme:       "http",
				DefaultIndex: "posts",
			},
		},
		Settings: SettingsConfig{
			Backend:    "redis",
			OptionName: "sphinx_options",
		},
		Admin: AdminConfig{
			NonceLifetime: 24 * time.Hour,
			SubmitLimit:   10,
			SubmitWindow:  time.Minute,
		},
		Analytics: AnalyticsConfig{
			BufferSize: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SB_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SB_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SB_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SB_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SB_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SB_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SB_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SB_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SB_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SB_SEARCH_ENGINE"); v != "" {
		cfg.Search.Engine = v
	}
	if v := os.Getenv("SB_SEARCH_DEFAULT_PER_PAGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultPerPage = n
		}
	}
	if v := os.Getenv("SB_SEARCH_MEILI_API_KEY"); v != "" {
		cfg.Search.Meili.APIKey = v
	}
	if v := os.Getenv("SB_SEARCH_ELASTIC_PASSWORD"); v != "" {
		cfg.Search.Elastic.Password = v
	}
	if v := os.Getenv("SB_SETTINGS_BACKEND"); v != "" {
		cfg.Settings.Backend = v
	}
	if v := os.Getenv("SB_ADMIN_NONCE_SECRET"); v != "" {
		cfg.Admin.NonceSecret = v
	}
	if v := os.Getenv("SB_ANALYTICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Analytics.Enabled = b
		}
	}
	if v := os.Getenv("SB_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SB_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
