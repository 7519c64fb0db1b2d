package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	// Initialize viper
	m.viper = viper.New()

	// Set config file path
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix("STACKWATCH")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	m.setDefaults()

	// Try to read config file (optional)
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper - OK, use defaults
		} else if os.IsNotExist(err) {
			// File not found via os - OK, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides for sensitive data
	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_health_port", defaults.Server.GRPCHealthPort)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_rps", defaults.Server.RateLimitRPS)
	m.viper.SetDefault("server.rate_limit_burst", defaults.Server.RateLimitBurst)

	// Platform defaults
	m.viper.SetDefault("platform.endpoint_id", defaults.Platform.EndpointID)
	m.viper.SetDefault("platform.docker_host", defaults.Platform.DockerHost)
	m.viper.SetDefault("platform.request_timeout", defaults.Platform.RequestTimeout)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.anthropic", defaults.LLM.Anthropic)
	m.viper.SetDefault("llm.ollama", defaults.LLM.Ollama)
	m.viper.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)
	m.viper.SetDefault("llm.requests_per_minute", defaults.LLM.RequestsPerMinute)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.postgres_url", defaults.Database.PostgresURL)

	// Redis defaults
	m.viper.SetDefault("redis.addr", defaults.Redis.Addr)
	m.viper.SetDefault("redis.password", defaults.Redis.Password)
	m.viper.SetDefault("redis.db", defaults.Redis.DB)

	// Archive defaults
	m.viper.SetDefault("archive.enabled", defaults.Archive.Enabled)
	m.viper.SetDefault("archive.endpoint", defaults.Archive.Endpoint)
	m.viper.SetDefault("archive.access_key", defaults.Archive.AccessKey)
	m.viper.SetDefault("archive.secret_key", defaults.Archive.SecretKey)
	m.viper.SetDefault("archive.bucket", defaults.Archive.Bucket)
	m.viper.SetDefault("archive.use_ssl", defaults.Archive.UseSSL)

	// Monitoring defaults
	m.viper.SetDefault("monitoring.enabled", defaults.Monitoring.Enabled)
	m.viper.SetDefault("monitoring.interval_seconds", defaults.Monitoring.IntervalSeconds)
	m.viper.SetDefault("monitoring.cooldown_minutes", defaults.Monitoring.CooldownMinutes)
	m.viper.SetDefault("monitoring.min_samples", defaults.Monitoring.MinSamples)
	m.viper.SetDefault("monitoring.metric_window", defaults.Monitoring.MetricWindow)
	m.viper.SetDefault("monitoring.zscore_threshold", defaults.Monitoring.ZScoreThreshold)
	m.viper.SetDefault("monitoring.bollinger_k", defaults.Monitoring.BollingerK)
	m.viper.SetDefault("monitoring.bollinger_window", defaults.Monitoring.BollingerWindow)
	m.viper.SetDefault("monitoring.adaptive_dispersion", defaults.Monitoring.AdaptiveDispersion)
	m.viper.SetDefault("monitoring.forest.enabled", defaults.Monitoring.Forest.Enabled)
	m.viper.SetDefault("monitoring.forest.trees", defaults.Monitoring.Forest.Trees)
	m.viper.SetDefault("monitoring.forest.subsample_size", defaults.Monitoring.Forest.SubsampleSize)
	m.viper.SetDefault("monitoring.forest.score_threshold", defaults.Monitoring.Forest.ScoreThreshold)

	// Correlation defaults
	m.viper.SetDefault("correlation.enabled", defaults.Correlation.Enabled)
	m.viper.SetDefault("correlation.lookback_minutes", defaults.Correlation.LookbackMinutes)
	m.viper.SetDefault("correlation.similarity_threshold", defaults.Correlation.SimilarityThreshold)
	m.viper.SetDefault("correlation.staleness_minutes", defaults.Correlation.StalenessMinutes)

	// Investigations defaults
	m.viper.SetDefault("investigations.enabled", defaults.Investigations.Enabled)
	m.viper.SetDefault("investigations.max_concurrent", defaults.Investigations.MaxConcurrent)
	m.viper.SetDefault("investigations.resource_cooldown_minutes", defaults.Investigations.ResourceCooldownMinutes)
	m.viper.SetDefault("investigations.log_tail_lines", defaults.Investigations.LogTailLines)
	m.viper.SetDefault("investigations.evidence_timeout_seconds", defaults.Investigations.EvidenceTimeoutSeconds)
	m.viper.SetDefault("investigations.analysis_timeout_seconds", defaults.Investigations.AnalysisTimeoutSeconds)

	// Remediation defaults
	m.viper.SetDefault("remediation.enabled", defaults.Remediation.Enabled)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	m.viper.SetDefault("audit.path", defaults.Audit.Path)
	m.viper.SetDefault("audit.buffer_size", defaults.Audit.BufferSize)
	m.viper.SetDefault("audit.flush_interval_seconds", defaults.Audit.FlushIntervalSeconds)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCHealthPort = m.viper.GetInt("server.grpc_health_port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitRPS = m.viper.GetFloat64("server.rate_limit_rps")
	cfg.Server.RateLimitBurst = m.viper.GetInt("server.rate_limit_burst")

	// Platform
	cfg.Platform.EndpointID = m.viper.GetInt("platform.endpoint_id")
	cfg.Platform.DockerHost = m.viper.GetString("platform.docker_host")
	cfg.Platform.RequestTimeout = m.viper.GetInt("platform.request_timeout")

	// LLM
	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.Anthropic = m.viper.GetStringMap("llm.anthropic")
	cfg.LLM.Ollama = m.viper.GetStringMap("llm.ollama")
	cfg.LLM.TimeoutSeconds = m.viper.GetInt("llm.timeout_seconds")
	cfg.LLM.RequestsPerMinute = m.viper.GetInt("llm.requests_per_minute")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = m.viper.GetString("database.postgres_url")

	// Redis
	cfg.Redis.Addr = m.viper.GetString("redis.addr")
	cfg.Redis.Password = m.viper.GetString("redis.password")
	cfg.Redis.DB = m.viper.GetInt("redis.db")

	// Archive
	cfg.Archive.Enabled = m.viper.GetBool("archive.enabled")
	cfg.Archive.Endpoint = m.viper.GetString("archive.endpoint")
	cfg.Archive.AccessKey = m.viper.GetString("archive.access_key")
	cfg.Archive.SecretKey = m.viper.GetString("archive.secret_key")
	cfg.Archive.Bucket = m.viper.GetString("archive.bucket")
	cfg.Archive.UseSSL = m.viper.GetBool("archive.use_ssl")

	// Monitoring
	cfg.Monitoring.Enabled = m.viper.GetBool("monitoring.enabled")
	cfg.Monitoring.IntervalSeconds = m.viper.GetInt("monitoring.interval_seconds")
	cfg.Monitoring.CooldownMinutes = m.viper.GetInt("monitoring.cooldown_minutes")
	cfg.Monitoring.MinSamples = m.viper.GetInt("monitoring.min_samples")
	cfg.Monitoring.MetricWindow = m.viper.GetInt("monitoring.metric_window")
	cfg.Monitoring.ZScoreThreshold = m.viper.GetFloat64("monitoring.zscore_threshold")
	cfg.Monitoring.BollingerK = m.viper.GetFloat64("monitoring.bollinger_k")
	cfg.Monitoring.BollingerWindow = m.viper.GetInt("monitoring.bollinger_window")
	cfg.Monitoring.AdaptiveDispersion = m.viper.GetFloat64("monitoring.adaptive_dispersion")
	cfg.Monitoring.Forest.Enabled = m.viper.GetBool("monitoring.forest.enabled")
	cfg.Monitoring.Forest.Trees = m.viper.GetInt("monitoring.forest.trees")
	cfg.Monitoring.Forest.SubsampleSize = m.viper.GetInt("monitoring.forest.subsample_size")
	cfg.Monitoring.Forest.ScoreThreshold = m.viper.GetFloat64("monitoring.forest.score_threshold")

	// Correlation
	cfg.Correlation.Enabled = m.viper.GetBool("correlation.enabled")
	cfg.Correlation.LookbackMinutes = m.viper.GetInt("correlation.lookback_minutes")
	cfg.Correlation.SimilarityThreshold = m.viper.GetFloat64("correlation.similarity_threshold")
	cfg.Correlation.StalenessMinutes = m.viper.GetInt("correlation.staleness_minutes")

	// Investigations
	cfg.Investigations.Enabled = m.viper.GetBool("investigations.enabled")
	cfg.Investigations.MaxConcurrent = m.viper.GetInt("investigations.max_concurrent")
	cfg.Investigations.ResourceCooldownMinutes = m.viper.GetInt("investigations.resource_cooldown_minutes")
	cfg.Investigations.LogTailLines = m.viper.GetInt("investigations.log_tail_lines")
	cfg.Investigations.EvidenceTimeoutSeconds = m.viper.GetInt("investigations.evidence_timeout_seconds")
	cfg.Investigations.AnalysisTimeoutSeconds = m.viper.GetInt("investigations.analysis_timeout_seconds")

	// Remediation
	cfg.Remediation.Enabled = m.viper.GetBool("remediation.enabled")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.Path = m.viper.GetString("audit.path")
	cfg.Audit.BufferSize = m.viper.GetInt("audit.buffer_size")
	cfg.Audit.FlushIntervalSeconds = m.viper.GetInt("audit.flush_interval_seconds")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperConfigManager) applyEnvOverrides() {
	// Anthropic API key from environment
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		if m.config.LLM.Anthropic == nil {
			m.config.LLM.Anthropic = make(map[string]interface{})
		}
		m.config.LLM.Anthropic["api_key"] = apiKey
	}

	// Ollama base URL from environment
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if m.config.LLM.Ollama == nil {
			m.config.LLM.Ollama = make(map[string]interface{})
		}
		m.config.LLM.Ollama["base_url"] = baseURL
	}

	// Docker host from environment
	if host := os.Getenv("STACKWATCH_DOCKER_HOST"); host != "" {
		m.config.Platform.DockerHost = host
	}

	// Redis address from environment
	if addr := os.Getenv("STACKWATCH_REDIS_ADDR"); addr != "" {
		m.config.Redis.Addr = addr
	}

	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv("STACKWATCH_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}
}
