package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
//
// Missing LLM credentials are not an error: the service starts degraded
// (detection and remediation proposals work, investigations are disabled)
// and c.LLM.Configured records the outcome.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.GRPCHealthPort < 0 || c.Server.GRPCHealthPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_health_port",
			Message: fmt.Sprintf("grpc_health_port must be between 0 and 65535, got %d", c.Server.GRPCHealthPort),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Server.RateLimitRPS <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_rps",
			Message: fmt.Sprintf("rate_limit_rps must be positive, got %g", c.Server.RateLimitRPS),
		})
	}

	// Validate platform configuration
	if c.Platform.EndpointID < 1 {
		errs = append(errs, &ValidationError{
			Field:   "platform.endpoint_id",
			Message: fmt.Sprintf("endpoint_id must be at least 1, got %d", c.Platform.EndpointID),
		})
	}

	if c.Platform.RequestTimeout < 1 {
		errs = append(errs, &ValidationError{
			Field:   "platform.request_timeout",
			Message: fmt.Sprintf("request_timeout must be at least 1 second, got %d", c.Platform.RequestTimeout),
		})
	}

	// Validate LLM configuration
	validProviders := map[string]bool{
		"anthropic": true,
		"ollama":    true,
	}
	if !validProviders[c.LLM.Provider] {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: anthropic, ollama", c.LLM.Provider),
		})
	}

	switch c.LLM.Provider {
	case "anthropic":
		hasKey := false
		if apiKey, ok := c.LLM.Anthropic["api_key"].(string); ok && apiKey != "" {
			hasKey = true
		} else if os.Getenv("ANTHROPIC_API_KEY") != "" {
			hasKey = true
		}
		c.LLM.Configured = hasKey

		if hasKey {
			if model, ok := c.LLM.Anthropic["model"].(string); !ok || model == "" {
				errs = append(errs, &ValidationError{
					Field:   "llm.anthropic.model",
					Message: "Anthropic model is required",
				})
			}
		}

	case "ollama":
		// No credentials needed; a reachable base URL is the whole config.
		c.LLM.Configured = true

		if baseURL, ok := c.LLM.Ollama["base_url"].(string); !ok || baseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.ollama.base_url",
				Message: "Ollama base URL is required",
			})
		}
		if model, ok := c.LLM.Ollama["model"].(string); !ok || model == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.ollama.model",
				Message: "Ollama model is required",
			})
		}
	}

	if c.LLM.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "llm.timeout_seconds",
			Message: fmt.Sprintf("timeout_seconds must be at least 1, got %d", c.LLM.TimeoutSeconds),
		})
	}

	// Validate database configuration
	validDatabaseTypes := map[string]bool{
		"sqlite":   true,
		"postgres": true,
	}
	if !validDatabaseTypes[c.Database.Type] {
		errs = append(errs, &ValidationError{
			Field:   "database.type",
			Message: fmt.Sprintf("invalid database type '%s', must be one of: sqlite, postgres", c.Database.Type),
		})
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.sqlite_path",
				Message: "sqlite_path is required when database type is sqlite",
			})
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.postgres_url",
				Message: "postgres_url is required when database type is postgres",
			})
		}
	}

	// Validate archive configuration
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, &ValidationError{
				Field:   "archive.endpoint",
				Message: "endpoint is required when archive is enabled",
			})
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, &ValidationError{
				Field:   "archive.bucket",
				Message: "bucket is required when archive is enabled",
			})
		}
	}

	// Validate monitoring configuration
	if c.Monitoring.IntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "monitoring.interval_seconds",
			Message: fmt.Sprintf("interval_seconds must be at least 1, got %d", c.Monitoring.IntervalSeconds),
		})
	}

	if c.Monitoring.CooldownMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "monitoring.cooldown_minutes",
			Message: fmt.Sprintf("cooldown_minutes must be at least 1, got %d", c.Monitoring.CooldownMinutes),
		})
	}

	if c.Monitoring.MinSamples < 2 {
		errs = append(errs, &ValidationError{
			Field:   "monitoring.min_samples",
			Message: fmt.Sprintf("min_samples must be at least 2, got %d", c.Monitoring.MinSamples),
		})
	}

	if c.Monitoring.ZScoreThreshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "monitoring.zscore_threshold",
			Message: fmt.Sprintf("zscore_threshold must be positive, got %g", c.Monitoring.ZScoreThreshold),
		})
	}

	if c.Monitoring.BollingerK <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "monitoring.bollinger_k",
			Message: fmt.Sprintf("bollinger_k must be positive, got %g", c.Monitoring.BollingerK),
		})
	}

	if c.Monitoring.BollingerWindow < 2 {
		errs = append(errs, &ValidationError{
			Field:   "monitoring.bollinger_window",
			Message: fmt.Sprintf("bollinger_window must be at least 2, got %d", c.Monitoring.BollingerWindow),
		})
	}

	if c.Monitoring.Forest.Enabled {
		if c.Monitoring.Forest.Trees < 1 {
			errs = append(errs, &ValidationError{
				Field:   "monitoring.forest.trees",
				Message: fmt.Sprintf("trees must be at least 1, got %d", c.Monitoring.Forest.Trees),
			})
		}
		if c.Monitoring.Forest.SubsampleSize < 2 {
			errs = append(errs, &ValidationError{
				Field:   "monitoring.forest.subsample_size",
				Message: fmt.Sprintf("subsample_size must be at least 2, got %d", c.Monitoring.Forest.SubsampleSize),
			})
		}
		if c.Monitoring.Forest.ScoreThreshold <= 0 || c.Monitoring.Forest.ScoreThreshold >= 1 {
			errs = append(errs, &ValidationError{
				Field:   "monitoring.forest.score_threshold",
				Message: fmt.Sprintf("score_threshold must be in (0,1), got %g", c.Monitoring.Forest.ScoreThreshold),
			})
		}
	}

	// Validate correlation configuration
	if c.Correlation.LookbackMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "correlation.lookback_minutes",
			Message: fmt.Sprintf("lookback_minutes must be at least 1, got %d", c.Correlation.LookbackMinutes),
		})
	}

	if c.Correlation.SimilarityThreshold < 0 || c.Correlation.SimilarityThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "correlation.similarity_threshold",
			Message: fmt.Sprintf("similarity_threshold must be in [0,1], got %g", c.Correlation.SimilarityThreshold),
		})
	}

	// Validate investigations configuration
	if c.Investigations.MaxConcurrent < 1 {
		errs = append(errs, &ValidationError{
			Field:   "investigations.max_concurrent",
			Message: fmt.Sprintf("max_concurrent must be at least 1, got %d", c.Investigations.MaxConcurrent),
		})
	}

	if c.Investigations.LogTailLines < 1 {
		errs = append(errs, &ValidationError{
			Field:   "investigations.log_tail_lines",
			Message: fmt.Sprintf("log_tail_lines must be at least 1, got %d", c.Investigations.LogTailLines),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	// Validate audit configuration
	if c.Audit.Enabled {
		if c.Audit.Path == "" {
			errs = append(errs, &ValidationError{
				Field:   "audit.path",
				Message: "path is required when audit is enabled",
			})
		}
		if c.Audit.BufferSize < 1 {
			errs = append(errs, &ValidationError{
				Field:   "audit.buffer_size",
				Message: fmt.Sprintf("buffer_size must be at least 1, got %d", c.Audit.BufferSize),
			})
		}
	}

	return errs
}
