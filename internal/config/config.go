// Package config provides configuration management for the bibliometric pipeline.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
)

// EnvPrefix is the prefix for every environment variable read by Load.
const EnvPrefix = "BIBLIO"

// Config holds all configuration for the bibliometric pipeline binaries.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings for run history.
	Database DatabaseConfig `mapstructure:"database"`
	// SQLite contains the local run history store used by the CLI.
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains LLM client settings for article classification.
	LLM LLMConfig `mapstructure:"llm"`
	// PaperSources contains paper source API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Firebase contains identity and Firestore settings.
	Firebase FirebaseConfig `mapstructure:"firebase"`
	// Kafka contains run event and run request topic settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Pipeline contains defaults applied to every pipeline run.
	Pipeline PipelineDefaults `mapstructure:"pipeline"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Enabled controls whether run history is kept in PostgreSQL.
	// When false the server keeps run history in memory only.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from BIBLIO_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// SQLiteConfig holds the CLI's local history database settings.
type SQLiteConfig struct {
	// Path is the database file. An empty path disables history.
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the LLM provider (lmstudio, openai, anthropic).
	Provider string `mapstructure:"provider"`
	// Timeout is the initial timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of attempts for a classification.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries; it doubles per attempt.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Temperature is the LLM temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens caps the completion length.
	MaxTokens int `mapstructure:"max_tokens"`
	// LMStudio contains settings for a local OpenAI-compatible server.
	LMStudio OpenAIConfig `mapstructure:"lmstudio"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OpenAIConfig holds settings for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	// APIKey is the API key (loaded from BIBLIO_LLM_OPENAI_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (loaded from BIBLIO_LLM_ANTHROPIC_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the Anthropic model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the Anthropic API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// PaperSourcesConfig holds configuration for all paper source APIs.
type PaperSourcesConfig struct {
	// OpenAlex contains OpenAlex API settings.
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
	// Scopus contains Elsevier Scopus API settings.
	Scopus PaperSourceConfig `mapstructure:"scopus"`
}

// PaperSourceConfig holds configuration for a single paper source API.
type PaperSourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment, e.g. BIBLIO_PAPER_SOURCES_SCOPUS_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the page size used when querying the source.
	MaxResults int `mapstructure:"max_results"`
}

// FirebaseConfig holds identity toolkit and Firestore settings.
type FirebaseConfig struct {
	// Enabled switches user storage to Firestore; otherwise an in-memory store is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the Firebase web API key (loaded from BIBLIO_FIREBASE_API_KEY).
	APIKey string `mapstructure:"-"`
	// ProjectID is the Google Cloud project holding the Firestore database.
	ProjectID string `mapstructure:"project_id"`
	// CredentialsFile is a service account JSON file (loaded from BIBLIO_FIREBASE_CREDENTIALS_FILE).
	CredentialsFile string `mapstructure:"-"`
	// IdentityURL is the Identity Toolkit base URL.
	IdentityURL string `mapstructure:"identity_url"`
	// TokenURL is the Secure Token base URL.
	TokenURL string `mapstructure:"token_url"`
	// Timeout is the timeout for identity API calls.
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaConfig holds Kafka settings for run events and queued run requests.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventsTopic receives run lifecycle events.
	EventsTopic string `mapstructure:"events_topic"`
	// RequestsTopic carries queued run requests consumed by the worker.
	RequestsTopic string `mapstructure:"requests_topic"`
	// GroupID is the worker's consumer group ID.
	GroupID string `mapstructure:"group_id"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// PipelineDefaults holds settings applied to every pipeline run.
type PipelineDefaults struct {
	// LogsDir receives the run journal and the execution summary.
	LogsDir string `mapstructure:"logs_dir"`
	// WorkDir is the root under which server-submitted runs get their own directory.
	WorkDir string `mapstructure:"work_dir"`
	// PandocPath is the pandoc binary used for PDF reports.
	PandocPath string `mapstructure:"pandoc_path"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith loads configuration into the given viper instance. Callers such as
// the CLI bind their flags to v before calling it.
func LoadWith(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bibliometric-pipeline")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets use mapstructure:"-" so they never come from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")

	cfg.LLM.OpenAI.APIKey = os.Getenv(EnvPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.LMStudio.APIKey = os.Getenv(EnvPrefix + "_LLM_LMSTUDIO_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(EnvPrefix + "_LLM_ANTHROPIC_API_KEY")

	cfg.PaperSources.OpenAlex.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_OPENALEX_API_KEY")
	cfg.PaperSources.Scopus.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_SCOPUS_API_KEY")

	cfg.Firebase.APIKey = os.Getenv(EnvPrefix + "_FIREBASE_API_KEY")
	cfg.Firebase.CredentialsFile = os.Getenv(EnvPrefix + "_FIREBASE_CREDENTIALS_FILE")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "biblio")
	v.SetDefault("database.name", "bibliometric_pipeline")
	// Use BIBLIO_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// SQLite defaults
	v.SetDefault("sqlite.path", "logs/history.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "bibliometric")

	// LLM defaults
	v.SetDefault("llm.provider", "lmstudio")
	v.SetDefault("llm.timeout", "180s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 50)
	v.SetDefault("llm.lmstudio.model", "local-model")
	v.SetDefault("llm.lmstudio.base_url", "http://localhost:1234/v1")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")

	// Paper sources defaults - OpenAlex
	v.SetDefault("paper_sources.openalex.enabled", true)
	v.SetDefault("paper_sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("paper_sources.openalex.timeout", "30s")
	v.SetDefault("paper_sources.openalex.rate_limit", 10.0)
	v.SetDefault("paper_sources.openalex.max_results", 200)

	// Paper sources defaults - Scopus (disabled unless a key is supplied)
	v.SetDefault("paper_sources.scopus.enabled", false)
	v.SetDefault("paper_sources.scopus.base_url", "https://api.elsevier.com/content")
	v.SetDefault("paper_sources.scopus.timeout", "30s")
	v.SetDefault("paper_sources.scopus.rate_limit", 5.0)
	v.SetDefault("paper_sources.scopus.max_results", 25)

	// Firebase defaults
	v.SetDefault("firebase.enabled", false)
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.identity_url", "https://identitytoolkit.googleapis.com/v1")
	v.SetDefault("firebase.token_url", "https://securetoken.googleapis.com/v1")
	v.SetDefault("firebase.timeout", "15s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "bibliometric.run.events")
	v.SetDefault("kafka.requests_topic", "bibliometric.run.requests")
	v.SetDefault("kafka.group_id", "bibliometric-worker")
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Pipeline defaults
	v.SetDefault("pipeline.logs_dir", "logs")
	v.SetDefault("pipeline.work_dir", "runs")
	v.SetDefault("pipeline.pandoc_path", "pandoc")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "lmstudio":
		// Local servers accept any key.
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_OPENAI_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	case "anthropic":
		// The key may also come from the run's anthropic_api_path file or the
		// stored api_keys entry.
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries <= 0 {
		return fmt.Errorf("LLM max_retries must be positive")
	}

	if c.Firebase.Enabled && c.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase project_id is required when firebase is enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	if c.Pipeline.LogsDir == "" {
		return fmt.Errorf("pipeline logs_dir is required")
	}

	return nil
}
