package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.False(t, cfg.Server.TLSEnabled)

	// Test platform defaults
	assert.Equal(t, 1, cfg.Platform.EndpointID)
	assert.Equal(t, 15, cfg.Platform.RequestTimeout)

	// Test LLM defaults
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.NotNil(t, cfg.LLM.Anthropic)
	assert.NotNil(t, cfg.LLM.Ollama)

	// Test database defaults
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.SQLitePath)

	// Test monitoring defaults
	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 60, cfg.Monitoring.IntervalSeconds)
	assert.Equal(t, 30, cfg.Monitoring.CooldownMinutes)
	assert.Equal(t, 10, cfg.Monitoring.MinSamples)
	assert.Equal(t, 2.5, cfg.Monitoring.ZScoreThreshold)
	assert.Equal(t, 30, cfg.Monitoring.BollingerWindow)
	assert.Equal(t, 256, cfg.Monitoring.Forest.SubsampleSize)

	// Test correlation defaults
	assert.Equal(t, 30, cfg.Correlation.LookbackMinutes)
	assert.Equal(t, 0.4, cfg.Correlation.SimilarityThreshold)

	// Test investigations defaults
	assert.True(t, cfg.Investigations.Enabled)
	assert.Equal(t, 2, cfg.Investigations.MaxConcurrent)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name: "valid default config",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: false,
		},
		{
			name: "invalid port - too low",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 0
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid port - too high",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 70000
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid endpoint id",
			modifyFn: func(cfg *Config) {
				cfg.Platform.EndpointID = 0
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "endpoint_id must be at least 1",
		},
		{
			name: "invalid LLM provider",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Provider = "invalid"
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "invalid provider",
		},
		{
			name: "missing anthropic api key is degraded mode, not an error",
			modifyFn: func(cfg *Config) {
				delete(cfg.LLM.Anthropic, "api_key")
			},
			wantError: false,
		},
		{
			name: "missing Anthropic model when configured",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Anthropic["api_key"] = "test-key"
				delete(cfg.LLM.Anthropic, "model")
			},
			wantError: true,
			errorMsg:  "Anthropic model is required",
		},
		{
			name: "invalid database type",
			modifyFn: func(cfg *Config) {
				cfg.Database.Type = "invalid"
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "invalid database type",
		},
		{
			name: "missing sqlite path",
			modifyFn: func(cfg *Config) {
				cfg.Database.Type = "sqlite"
				cfg.Database.SQLitePath = ""
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name: "missing postgres url",
			modifyFn: func(cfg *Config) {
				cfg.Database.Type = "postgres"
				cfg.Database.PostgresURL = ""
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "postgres_url is required",
		},
		{
			name: "archive enabled without endpoint",
			modifyFn: func(cfg *Config) {
				cfg.Archive.Enabled = true
				cfg.Archive.Endpoint = ""
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "endpoint is required when archive is enabled",
		},
		{
			name: "zero monitoring interval",
			modifyFn: func(cfg *Config) {
				cfg.Monitoring.IntervalSeconds = 0
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "interval_seconds must be at least 1",
		},
		{
			name: "negative z-score threshold",
			modifyFn: func(cfg *Config) {
				cfg.Monitoring.ZScoreThreshold = -1
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "zscore_threshold must be positive",
		},
		{
			name: "forest score threshold out of range",
			modifyFn: func(cfg *Config) {
				cfg.Monitoring.Forest.ScoreThreshold = 1.5
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "score_threshold must be in (0,1)",
		},
		{
			name: "similarity threshold out of range",
			modifyFn: func(cfg *Config) {
				cfg.Correlation.SimilarityThreshold = 1.2
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "similarity_threshold must be in [0,1]",
		},
		{
			name: "zero max concurrent investigations",
			modifyFn: func(cfg *Config) {
				cfg.Investigations.MaxConcurrent = 0
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "max_concurrent must be at least 1",
		},
		{
			name: "invalid log level",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Level = "invalid"
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name: "invalid log format",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Format = "invalid"
				cfg.LLM.Anthropic["api_key"] = "test-key"
			},
			wantError: true,
			errorMsg:  "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if tt.wantError {
				assert.NotEmpty(t, errs, "expected validation errors but got none")
				if len(errs) > 0 && tt.errorMsg != "" {
					found := false
					for _, err := range errs {
						if contains(err.Error(), tt.errorMsg) {
							found = true
							break
						}
					}
					assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
				}
			} else {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
			}
		})
	}
}

func TestValidateSetsConfiguredFlag(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.LLM.Anthropic, "api_key")
	os.Unsetenv("ANTHROPIC_API_KEY")

	errs := cfg.Validate()
	assert.Empty(t, errs)
	assert.False(t, cfg.LLM.Configured, "missing api key should leave LLM unconfigured")

	cfg.LLM.Anthropic["api_key"] = "test-key"
	errs = cfg.Validate()
	assert.Empty(t, errs)
	assert.True(t, cfg.LLM.Configured)
}

func TestConfigManagerLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090

platform:
  endpoint_id: 7
  request_timeout: 20

llm:
  provider: "anthropic"
  anthropic:
    api_key: "test-anthropic-key"
    model: "claude-3-5-sonnet-20241022"

monitoring:
  interval_seconds: 30
  cooldown_minutes: 10

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Platform.EndpointID)
	assert.Equal(t, 20, cfg.Platform.RequestTimeout)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 30, cfg.Monitoring.IntervalSeconds)
	assert.Equal(t, 10, cfg.Monitoring.CooldownMinutes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Values not in the file keep their defaults
	assert.Equal(t, 2, cfg.Investigations.MaxConcurrent)
	assert.Equal(t, 2.5, cfg.Monitoring.ZScoreThreshold)

	assert.NotNil(t, cfg.LLM.Anthropic)
	assert.Equal(t, "test-anthropic-key", cfg.LLM.Anthropic["api_key"])
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.LLM.Anthropic["model"])
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	os.Setenv("STACKWATCH_PORT", "7070")
	os.Setenv("STACKWATCH_DOCKER_HOST", "tcp://docker:2375")
	os.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")
	defer func() {
		os.Unsetenv("STACKWATCH_PORT")
		os.Unsetenv("STACKWATCH_DOCKER_HOST")
		os.Unsetenv("ANTHROPIC_API_KEY")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8081

llm:
  provider: "anthropic"
  anthropic:
    model: "claude-3-5-sonnet-20241022"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	cfg := mgr.Get(ctx)

	assert.Equal(t, 7070, cfg.Server.Port, "PORT should be overridden by environment variable")
	assert.Equal(t, "tcp://docker:2375", cfg.Platform.DockerHost, "docker host should be overridden by environment variable")
	assert.Equal(t, "env-anthropic-key", cfg.LLM.Anthropic["api_key"], "API key should come from environment variable")
}

func TestConfigManagerMissingFile(t *testing.T) {
	configPath := "/tmp/nonexistent-config.yaml"

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	// Should not error - should use defaults
	require.NoError(t, err)

	cfg := mgr.Get(ctx)
	assert.NotNil(t, cfg)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestConfigManagerValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 99999

llm:
  provider: "invalid-provider"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	err = mgr.Validate(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

// Helper function
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 || findSubstring(s, substr))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
