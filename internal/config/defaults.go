package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.GRPCHealthPort = 50052
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitRPS = 20
	cfg.Server.RateLimitBurst = 40

	// Platform defaults
	cfg.Platform.EndpointID = 1
	cfg.Platform.DockerHost = "" // client.FromEnv
	cfg.Platform.RequestTimeout = 15

	// LLM defaults
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Anthropic = map[string]interface{}{
		"model":      "claude-3-5-sonnet-20241022",
		"max_tokens": 2048,
	}
	cfg.LLM.Ollama = map[string]interface{}{
		"base_url": "http://localhost:11434",
		"model":    "llama3",
	}
	cfg.LLM.TimeoutSeconds = 120
	cfg.LLM.RequestsPerMinute = 20

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/stackwatch/stackwatch-ai.db"
	cfg.Database.PostgresURL = ""

	// Redis defaults (disabled unless addr is set)
	cfg.Redis.Addr = ""
	cfg.Redis.Password = ""
	cfg.Redis.DB = 0

	// Archive defaults (disabled)
	cfg.Archive.Enabled = false
	cfg.Archive.Endpoint = ""
	cfg.Archive.AccessKey = ""
	cfg.Archive.SecretKey = ""
	cfg.Archive.Bucket = "stackwatch-evidence"
	cfg.Archive.UseSSL = false

	// Monitoring defaults
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.IntervalSeconds = 60
	cfg.Monitoring.CooldownMinutes = 30
	cfg.Monitoring.MinSamples = 10
	cfg.Monitoring.MetricWindow = 30
	cfg.Monitoring.ZScoreThreshold = 2.5
	cfg.Monitoring.BollingerK = 2.0
	cfg.Monitoring.BollingerWindow = 30
	cfg.Monitoring.AdaptiveDispersion = 0.5
	cfg.Monitoring.Forest.Enabled = true
	cfg.Monitoring.Forest.Trees = 100
	cfg.Monitoring.Forest.SubsampleSize = 256
	cfg.Monitoring.Forest.ScoreThreshold = 0.7

	// Correlation defaults
	cfg.Correlation.Enabled = true
	cfg.Correlation.LookbackMinutes = 30
	cfg.Correlation.SimilarityThreshold = 0.4
	cfg.Correlation.StalenessMinutes = 120

	// Investigations defaults
	cfg.Investigations.Enabled = true
	cfg.Investigations.MaxConcurrent = 2
	cfg.Investigations.ResourceCooldownMinutes = 30
	cfg.Investigations.LogTailLines = 100
	cfg.Investigations.EvidenceTimeoutSeconds = 30
	cfg.Investigations.AnalysisTimeoutSeconds = 120

	// Remediation defaults
	cfg.Remediation.Enabled = true

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	// Audit defaults
	cfg.Audit.Enabled = true
	cfg.Audit.Path = "/var/lib/stackwatch/audit.log"
	cfg.Audit.BufferSize = 100
	cfg.Audit.FlushIntervalSeconds = 1

	return cfg
}
