package config

import "context"

// Package config provides configuration management for stackwatch-ai.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration hot reload for tunable settings
//   - Manage sensitive data (API keys, credentials)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (STACKWATCH_* prefix)
//   2. YAML config file (default: /etc/stackwatch/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: HTTP listen port (default 8081)
//      - grpc_health_port: gRPC health listener, 0 disables
//      - allowed_origins: origins permitted on the events WebSocket
//
//   2. Platform
//      - endpoint_id: fleet endpoint this instance watches
//      - docker_host: Docker Engine address (empty = environment)
//      - request_timeout: per-call deadline in seconds
//
//   3. LLM Provider
//      - provider: "anthropic" | "ollama"
//      - timeout_seconds, requests_per_minute
//
//   4. Database
//      - type: "sqlite" | "postgres"
//
//   5. Redis (optional shared cooldown store; empty addr = in-memory)
//
//   6. Archive (optional MinIO evidence archive)
//
//   7. Monitoring (cycle interval, cooldown window, detector tuning)
//
//   8. Correlation (lookback, similarity threshold, staleness)
//
//   9. Investigations (concurrency cap, resource cooldown, evidence bounds)
//
//  10. Remediation / Logging / Audit
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port           int
		GRPCHealthPort int
		TLSEnabled     bool
		TLSCertPath    string
		TLSKeyPath     string
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections and to call the REST API cross-origin.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
		// Requests per second and burst for the API rate limiter.
		RateLimitRPS   float64
		RateLimitBurst int
	}

	// Platform (container engine) configuration
	Platform struct {
		EndpointID     int
		DockerHost     string // empty means resolve from environment
		RequestTimeout int    // seconds
	}

	// LLM provider configuration
	LLM struct {
		Provider          string
		Anthropic         map[string]interface{}
		Ollama            map[string]interface{}
		TimeoutSeconds    int
		RequestsPerMinute int
		// Configured is derived during validation: true when the selected
		// provider has the credentials it needs. When false the service
		// runs degraded (investigations disabled, detection still on).
		Configured bool
	}

	// Database configuration
	Database struct {
		Type        string
		SQLitePath  string
		PostgresURL string
	}

	// Redis configuration (optional shared cooldown store)
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// Archive configuration (optional evidence archive)
	Archive struct {
		Enabled   bool
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		UseSSL    bool
	}

	// Monitoring configuration
	Monitoring struct {
		Enabled            bool
		IntervalSeconds    int
		CooldownMinutes    int
		MinSamples         int
		MetricWindow       int
		ZScoreThreshold    float64
		BollingerK         float64
		BollingerWindow    int
		AdaptiveDispersion float64
		Forest             struct {
			Enabled        bool
			Trees          int
			SubsampleSize  int
			ScoreThreshold float64
		}
	}

	// Correlation configuration
	Correlation struct {
		Enabled             bool
		LookbackMinutes     int
		SimilarityThreshold float64
		StalenessMinutes    int
	}

	// Investigations configuration
	Investigations struct {
		Enabled                 bool
		MaxConcurrent           int
		ResourceCooldownMinutes int
		LogTailLines            int
		EvidenceTimeoutSeconds  int
		AnalysisTimeoutSeconds  int
	}

	// Remediation configuration
	Remediation struct {
		Enabled bool
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		File       string // empty = stdout only
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	// Audit configuration
	Audit struct {
		Enabled              bool
		Path                 string
		BufferSize           int
		FlushIntervalSeconds int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/stackwatch/config.yaml")
}
