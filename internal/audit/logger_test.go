package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testConfig(tmpDir string) *Config {
	return &Config{
		AuditLogPath:  filepath.Join(tmpDir, "audit.log"),
		AppLogPath:    filepath.Join(tmpDir, "audit-errors.log"),
		MaxSize:       10,
		MaxBackups:    3,
		MaxAge:        7,
		Compress:      false,
		BufferSize:    100,
		FlushInterval: 1 * time.Second,
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(testConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}

	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}

	if config.MaxBackups != 10 {
		t.Errorf("Expected max backups 10, got %d", config.MaxBackups)
	}

	if config.BufferSize != 100 {
		t.Errorf("Expected buffer size 100, got %d", config.BufferSize)
	}
}

func TestLogEvent(t *testing.T) {
	config := testConfig(t.TempDir())

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	event := NewEvent(EventInsightEmitted).
		WithCorrelationID("test-123").
		WithUser("test-user").
		WithResource("web-frontend", "container").
		WithResult(ResultSuccess)

	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if _, err := os.Stat(config.AuditLogPath); os.IsNotExist(err) {
		t.Fatal("Audit log file was not created")
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "test-123") {
		t.Error("Log does not contain correlation ID")
	}

	if !strings.Contains(logContent, "insight.emitted") {
		t.Error("Log does not contain event type")
	}

	if !strings.Contains(logContent, "test-user") {
		t.Error("Log does not contain user")
	}
}

func TestLogInvestigationLifecycle(t *testing.T) {
	config := testConfig(t.TempDir())

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	investigationID := "inv-456"

	if err := logger.LogInvestigationStarted(ctx, investigationID); err != nil {
		t.Fatalf("LogInvestigationStarted failed: %v", err)
	}

	if err := logger.LogInvestigationCompleted(ctx, investigationID, 5*time.Second); err != nil {
		t.Fatalf("LogInvestigationCompleted failed: %v", err)
	}

	if err := logger.LogInvestigationDropped(ctx, "web-frontend", "concurrency limit reached"); err != nil {
		t.Fatalf("LogInvestigationDropped failed: %v", err)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, investigationID) {
		t.Error("Log does not contain investigation ID")
	}

	if !strings.Contains(logContent, "investigation.started") {
		t.Error("Log does not contain started event")
	}

	if !strings.Contains(logContent, "investigation.completed") {
		t.Error("Log does not contain completed event")
	}

	if !strings.Contains(logContent, "investigation.dropped") {
		t.Error("Log does not contain dropped event")
	}
}

func TestLogActionLifecycle(t *testing.T) {
	config := testConfig(t.TempDir())

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	if err := logger.LogActionProposed(ctx, "RESTART_CONTAINER", "web-frontend"); err != nil {
		t.Fatalf("LogActionProposed failed: %v", err)
	}

	if err := logger.LogActionApproved(ctx, "RESTART_CONTAINER", "web-frontend", "admin"); err != nil {
		t.Fatalf("LogActionApproved failed: %v", err)
	}

	if err := logger.LogActionExecuted(ctx, "RESTART_CONTAINER", "web-frontend", 2*time.Second); err != nil {
		t.Fatalf("LogActionExecuted failed: %v", err)
	}

	if err := logger.LogActionFailed(ctx, "STOP_CONTAINER", "db-primary", errors.New("no such container")); err != nil {
		t.Fatalf("LogActionFailed failed: %v", err)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "action.proposed") {
		t.Error("Log does not contain proposed event")
	}

	if !strings.Contains(logContent, "action.approved") {
		t.Error("Log does not contain approved event")
	}

	if !strings.Contains(logContent, "action.executed") {
		t.Error("Log does not contain executed event")
	}

	if !strings.Contains(logContent, "action.failed") {
		t.Error("Log does not contain failed event")
	}

	if !strings.Contains(logContent, "admin") {
		t.Error("Log does not contain approver")
	}

	if !strings.Contains(logContent, "no such container") {
		t.Error("Log does not contain failure error")
	}
}

func TestBufferAutoFlush(t *testing.T) {
	config := testConfig(t.TempDir())

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := NewEvent(EventCycleCompleted).
			WithCorrelationID("test").
			WithResult(ResultSuccess)

		if err := logger.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// Wait for auto-flush (1 second ticker)
	time.Sleep(1500 * time.Millisecond)

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	if len(content) == 0 {
		t.Error("Audit log is empty after auto-flush")
	}
}

func TestBufferFullFlush(t *testing.T) {
	config := testConfig(t.TempDir())

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	for i := 0; i < 105; i++ {
		event := NewEvent(EventCycleCompleted).
			WithCorrelationID("test").
			WithResult(ResultSuccess)

		if err := logger.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	lines := strings.Split(string(content), "\n")
	eventCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			eventCount++
		}
	}

	if eventCount < 105 {
		t.Errorf("Expected at least 105 events, got %d", eventCount)
	}
}

func TestCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if id1 == id2 {
		t.Error("Generated correlation IDs should be unique")
	}

	ctx := context.Background()

	if id := GetCorrelationID(ctx); id != "" {
		t.Errorf("Expected empty correlation ID, got %s", id)
	}

	ctx = WithCorrelationID(ctx, "test-correlation-id")
	if id := GetCorrelationID(ctx); id != "test-correlation-id" {
		t.Errorf("Expected 'test-correlation-id', got %s", id)
	}
}

func TestEventBuilderChain(t *testing.T) {
	event := NewEvent(EventActionExecuted).
		WithCorrelationID("corr-123").
		WithUser("admin").
		WithResource("web-frontend", "container").
		WithEndpoint(3).
		WithAction("RESTART_CONTAINER").
		WithDescription("Restarting unhealthy container").
		WithResult(ResultSuccess).
		WithDuration(3 * time.Second).
		WithMetadata("reason", "high memory usage")

	if event.CorrelationID != "corr-123" {
		t.Errorf("Expected correlation ID 'corr-123', got %s", event.CorrelationID)
	}

	if event.User != "admin" {
		t.Errorf("Expected user 'admin', got %s", event.User)
	}

	if event.Resource != "web-frontend" {
		t.Errorf("Expected resource 'web-frontend', got %s", event.Resource)
	}

	if event.ResourceType != "container" {
		t.Errorf("Expected resource type 'container', got %s", event.ResourceType)
	}

	if event.EndpointID != 3 {
		t.Errorf("Expected endpoint 3, got %d", event.EndpointID)
	}

	if event.Action != "RESTART_CONTAINER" {
		t.Errorf("Expected action 'RESTART_CONTAINER', got %s", event.Action)
	}

	if event.Result != ResultSuccess {
		t.Errorf("Expected result 'success', got %s", event.Result)
	}

	if event.DurationMs != 3000 {
		t.Errorf("Expected duration 3000ms, got %d", event.DurationMs)
	}

	if reason, ok := event.Metadata["reason"].(string); !ok || reason != "high memory usage" {
		t.Errorf("Expected metadata reason 'high memory usage', got %v", event.Metadata["reason"])
	}
}

func TestEventJSONSerialization(t *testing.T) {
	event := NewEvent(EventInvestigationStarted).
		WithCorrelationID("inv-789").
		WithUser("system").
		WithResult(ResultSuccess)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if decoded.CorrelationID != "inv-789" {
		t.Errorf("Expected correlation ID 'inv-789', got %s", decoded.CorrelationID)
	}

	if decoded.User != "system" {
		t.Errorf("Expected user 'system', got %s", decoded.User)
	}

	if decoded.EventType != EventInvestigationStarted {
		t.Errorf("Expected event type 'investigation.started', got %s", decoded.EventType)
	}

	if decoded.Result != ResultSuccess {
		t.Errorf("Expected result 'success', got %s", decoded.Result)
	}
}
