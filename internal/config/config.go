// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or ~/.taxpilot/config.yaml)
//  3. .env file in the working directory (loaded via godotenv)
//  4. Default values
//
// Main configuration categories:
//   - AI: model selection, temperature, max tokens, embedder
//   - Storage: MongoDB document store, PostgreSQL vector store, Redis cache (see storage.go)
//   - Pipeline: step pacing and retry behavior
//   - Server: HTTP listen address, CORS, rate limiting
//
// Security: sensitive data (passwords, connection URLs with credentials) is never
// logged; the config directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidRetrievalTopK indicates the retrieval top-k value is out of range.
	ErrInvalidRetrievalTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidMongoURI indicates the MongoDB connection URI is invalid.
	ErrInvalidMongoURI = errors.New("invalid MongoDB URI")

	// ErrInvalidMongoDatabase indicates the MongoDB database name is invalid.
	ErrInvalidMongoDatabase = errors.New("invalid MongoDB database name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRedisURL indicates the Redis connection URL is invalid.
	ErrInvalidRedisURL = errors.New("invalid Redis URL")

	// ErrInvalidStepInterval indicates the pipeline step interval is out of range.
	ErrInvalidStepInterval = errors.New("invalid pipeline step interval")

	// ErrInvalidReportDir indicates the report output directory is invalid.
	ErrInvalidReportDir = errors.New("invalid report directory")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality. Our pgvector schema uses
	// 768 dimensions; see rag.VectorDimension.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultRetrievalTopK is the default number of regulation chunks retrieved
	// per compliance or RAG query.
	DefaultRetrievalTopK = 5

	// MaxRetrievalTopK is the absolute maximum to keep prompts bounded.
	MaxRetrievalTopK = 20
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, URIs with credentials),
// update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Retrieval configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	RetrievalTopK int    `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// MongoDB document store configuration (see storage.go)
	MongoURI      string `mapstructure:"mongo_uri" json:"mongo_uri"` // SENSITIVE: masked in MarshalJSON
	MongoDatabase string `mapstructure:"mongo_database" json:"mongo_database"`

	// PostgreSQL vector store configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Redis answer cache configuration (optional; empty URL disables the cache)
	RedisURL      string `mapstructure:"redis_url" json:"redis_url"` // SENSITIVE: masked in MarshalJSON
	CacheTTLHours int    `mapstructure:"cache_ttl_hours" json:"cache_ttl_hours"`

	// Pipeline configuration
	StepIntervalSeconds int    `mapstructure:"step_interval_seconds" json:"step_interval_seconds"`
	ReportDir           string `mapstructure:"report_dir" json:"report_dir"`

	// Regulation source scraper configuration
	Scraper ScraperConfig `mapstructure:"scraper" json:"scraper"`

	// Server configuration (serve mode only)
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Observability configuration (see observability.go)
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// ScraperConfig controls the regulation source scraper.
type ScraperConfig struct {
	// Parallelism limits concurrent fetches per domain.
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`

	// DelayMs is the per-domain politeness delay between requests.
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`

	// TimeoutMs is the per-request timeout.
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > .env file > default values.
func Load() (*Config, error) {
	// .env is optional; missing file is not an error
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	// Configuration directory: ~/.taxpilot/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".taxpilot")

	// Ensure directory exists (0750 permission)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("max_tokens", 4096)

	// Retrieval defaults
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("retrieval_top_k", DefaultRetrievalTopK)

	// MongoDB defaults (matching docker-compose.yml)
	viper.SetDefault("mongo_uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo_database", "taxpilot")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "taxpilot")
	viper.SetDefault("postgres_password", "taxpilot_dev_password")
	viper.SetDefault("postgres_db_name", "taxpilot")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Redis cache defaults (empty URL disables the cache)
	viper.SetDefault("redis_url", "")
	viper.SetDefault("cache_ttl_hours", 24)

	// Pipeline defaults
	viper.SetDefault("step_interval_seconds", 5)
	viper.SetDefault("report_dir", "reports")

	// Scraper defaults
	viper.SetDefault("scraper.parallelism", 2)
	viper.SetDefault("scraper.delay_ms", 1000)
	viper.SetDefault("scraper.timeout_ms", 30000)

	// CORS defaults (local dashboard dev server)
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})

	// Proxy trust (default false, safe for direct exposure)
	viper.SetDefault("trust_proxy", false)

	// Telemetry defaults
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.environment", "dev")
	viper.SetDefault("telemetry.service_name", "taxpilot")
}

// bindEnvVariables binds environment variables explicitly.
//
// GEMINI_API_KEY is read directly by Genkit, not via Viper; its presence is
// checked in cfg.Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Storage connection overrides
	mustBind("mongo_uri", "MONGODB_URL")
	mustBind("mongo_database", "MONGODB_DATABASE")
	mustBind("redis_url", "REDIS_URL")

	// AI provider and model overrides
	mustBind("provider", "TAXPILOT_PROVIDER")
	mustBind("model_name", "TAXPILOT_MODEL_NAME")
	mustBind("embedder_model", "TAXPILOT_EMBEDDER_MODEL")

	// Pipeline overrides
	mustBind("step_interval_seconds", "TAXPILOT_STEP_INTERVAL")
	mustBind("report_dir", "TAXPILOT_REPORT_DIR")

	// Server overrides
	mustBind("cors_origins", "TAXPILOT_CORS_ORIGINS")
	mustBind("trust_proxy", "TAXPILOT_TRUST_PROXY")

	// Telemetry
	mustBind("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("telemetry.environment", "TAXPILOT_ENVIRONMENT")
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full block U+2588) to avoid substring matching against
// real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure; if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - MongoURI (may embed credentials)
//   - PostgresPassword
//   - RedisURL (may embed credentials)
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.MongoURI = maskSecret(a.MongoURI)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.RedisURL = maskSecret(a.RedisURL)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
