package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogInsight logs insight lifecycle events
	LogInsightEmitted(ctx context.Context, insightID, category, resource string) error

	// LogIncident logs incident lifecycle events
	LogIncidentCreated(ctx context.Context, incidentID, rootInsightID string) error
	LogIncidentAttached(ctx context.Context, incidentID, insightID string) error

	// LogInvestigation logs investigation lifecycle events
	LogInvestigationStarted(ctx context.Context, investigationID string) error
	LogInvestigationCompleted(ctx context.Context, investigationID string, duration time.Duration) error
	LogInvestigationFailed(ctx context.Context, investigationID string, err error) error
	LogInvestigationDropped(ctx context.Context, resource, reason string) error

	// LogAction logs action lifecycle events
	LogActionProposed(ctx context.Context, action, resource string) error
	LogActionApproved(ctx context.Context, action, resource, approver string) error
	LogActionRejected(ctx context.Context, action, resource, rejecter, reason string) error
	LogActionExecuted(ctx context.Context, action, resource string, duration time.Duration) error
	LogActionFailed(ctx context.Context, action, resource string, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// BufferSize is the number of events buffered before a forced flush
	BufferSize int

	// FlushInterval is how often the buffer is flushed regardless of size
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		AppLogPath:    "logs/audit-errors.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		BufferSize:    100,
		FlushInterval: 1 * time.Second,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize < 1 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 1 * time.Second
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Errors from the audit path itself go to a separate rotated file
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		zapcore.InfoLevel,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit trail is append-only, always INFO level
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, config.BufferSize),
		flushTicker: time.NewTicker(config.FlushInterval),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= l.config.BufferSize {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogInsightEmitted logs when an insight passes cooldown and is persisted
func (l *auditLogger) LogInsightEmitted(ctx context.Context, insightID, category, resource string) error {
	event := NewEvent(EventInsightEmitted).
		WithCorrelationID(insightID).
		WithResource(resource, "container").
		WithResult(ResultSuccess).
		WithMetadata("category", category).
		WithDescription(fmt.Sprintf("Insight %s emitted for %s", insightID, resource))

	return l.Log(ctx, event)
}

// LogIncidentCreated logs when a new incident is seeded
func (l *auditLogger) LogIncidentCreated(ctx context.Context, incidentID, rootInsightID string) error {
	event := NewEvent(EventIncidentCreated).
		WithCorrelationID(incidentID).
		WithResult(ResultSuccess).
		WithMetadata("root_insight_id", rootInsightID).
		WithDescription(fmt.Sprintf("Incident %s created from insight %s", incidentID, rootInsightID))

	return l.Log(ctx, event)
}

// LogIncidentAttached logs when an insight is attached to an incident
func (l *auditLogger) LogIncidentAttached(ctx context.Context, incidentID, insightID string) error {
	event := NewEvent(EventIncidentAttached).
		WithCorrelationID(incidentID).
		WithResult(ResultSuccess).
		WithMetadata("insight_id", insightID).
		WithDescription(fmt.Sprintf("Insight %s attached to incident %s", insightID, incidentID))

	return l.Log(ctx, event)
}

// LogInvestigationStarted logs when an investigation starts
func (l *auditLogger) LogInvestigationStarted(ctx context.Context, investigationID string) error {
	event := NewEvent(EventInvestigationStarted).
		WithCorrelationID(investigationID).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Investigation %s started", investigationID))

	return l.Log(ctx, event)
}

// LogInvestigationCompleted logs when an investigation completes
func (l *auditLogger) LogInvestigationCompleted(ctx context.Context, investigationID string, duration time.Duration) error {
	event := NewEvent(EventInvestigationCompleted).
		WithCorrelationID(investigationID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Investigation %s completed", investigationID))

	return l.Log(ctx, event)
}

// LogInvestigationFailed logs when an investigation fails
func (l *auditLogger) LogInvestigationFailed(ctx context.Context, investigationID string, err error) error {
	event := NewEvent(EventInvestigationFailed).
		WithCorrelationID(investigationID).
		WithError(err, "investigation_error").
		WithDescription(fmt.Sprintf("Investigation %s failed", investigationID))

	return l.Log(ctx, event)
}

// LogInvestigationDropped logs when a trigger is rejected by the concurrency gate
func (l *auditLogger) LogInvestigationDropped(ctx context.Context, resource, reason string) error {
	event := NewEvent(EventInvestigationDropped).
		WithResource(resource, "container").
		WithResult(ResultDenied).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Investigation dropped for %s: %s", resource, reason))

	return l.Log(ctx, event)
}

// LogActionProposed logs when an action is proposed
func (l *auditLogger) LogActionProposed(ctx context.Context, action, resource string) error {
	event := NewEvent(EventActionProposed).
		WithAction(action).
		WithResource(resource, "container").
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Action %s proposed for %s", action, resource))

	return l.Log(ctx, event)
}

// LogActionApproved logs when an action is approved
func (l *auditLogger) LogActionApproved(ctx context.Context, action, resource, approver string) error {
	event := NewEvent(EventActionApproved).
		WithAction(action).
		WithResource(resource, "container").
		WithUser(approver).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Action %s approved for %s by %s", action, resource, approver))

	return l.Log(ctx, event)
}

// LogActionRejected logs when an action is rejected
func (l *auditLogger) LogActionRejected(ctx context.Context, action, resource, rejecter, reason string) error {
	event := NewEvent(EventActionRejected).
		WithAction(action).
		WithResource(resource, "container").
		WithUser(rejecter).
		WithResult(ResultDenied).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Action %s rejected for %s by %s", action, resource, rejecter))

	return l.Log(ctx, event)
}

// LogActionExecuted logs when an action is executed
func (l *auditLogger) LogActionExecuted(ctx context.Context, action, resource string, duration time.Duration) error {
	event := NewEvent(EventActionExecuted).
		WithAction(action).
		WithResource(resource, "container").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Action %s executed for %s", action, resource))

	return l.Log(ctx, event)
}

// LogActionFailed logs when action execution fails
func (l *auditLogger) LogActionFailed(ctx context.Context, action, resource string, err error) error {
	event := NewEvent(EventActionFailed).
		WithAction(action).
		WithResource(resource, "container").
		WithError(err, "action_error").
		WithDescription(fmt.Sprintf("Action %s failed for %s", action, resource))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		err = l.Sync()
	})
	return err
}

type correlationIDKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
