package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. API key validation (required for all AI operations)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxTokens range: 1 to 2097152 (Gemini 2.5 max context window)
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 3. Retrieval configuration validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > MaxRetrievalTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidRetrievalTopK, MaxRetrievalTopK, c.RetrievalTopK)
	}

	// 4. MongoDB configuration validation
	if !strings.HasPrefix(c.MongoURI, "mongodb://") && !strings.HasPrefix(c.MongoURI, "mongodb+srv://") {
		return fmt.Errorf("%w: must start with mongodb:// or mongodb+srv://", ErrInvalidMongoURI)
	}

	if c.MongoDatabase == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidMongoDatabase)
	}

	// 5. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block, user might be in dev)
	if c.PostgresPassword == "taxpilot_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 6. Redis cache validation (optional, empty URL disables the cache)
	if c.RedisURL != "" &&
		!strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("%w: must start with redis:// or rediss://", ErrInvalidRedisURL)
	}

	// 7. Pipeline validation
	if c.StepIntervalSeconds < 0 || c.StepIntervalSeconds > 300 {
		return fmt.Errorf("%w: must be between 0 and 300 seconds, got %d",
			ErrInvalidStepInterval, c.StepIntervalSeconds)
	}

	if c.ReportDir == "" {
		return fmt.Errorf("%w: report_dir cannot be empty", ErrInvalidReportDir)
	}

	return nil
}

// NormalizeTopK clamps a caller-supplied top-k value into the valid range.
// Zero or negative values fall back to the configured default.
func (c *Config) NormalizeTopK(k int) int {
	if k <= 0 {
		return c.RetrievalTopK
	}
	if k > MaxRetrievalTopK {
		return MaxRetrievalTopK
	}
	return k
}
