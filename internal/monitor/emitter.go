package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/audit"
	"github.com/stackwatch/stackwatch-ai/internal/metrics"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// Publisher delivers pipeline events to subscribers. Publish must not
// block; dropping on slow consumers is the implementation's call.
type Publisher interface {
	Publish(event string, payload interface{})
}

// Emitter is the single gate through which insights reach storage and
// subscribers. Every emission passes the cooldown check first, so a
// detector firing on consecutive cycles (or twice in one cycle) yields
// one stored insight per window.
type Emitter struct {
	store    store.InsightStore
	cooldown CooldownStore
	pub      Publisher
	auditLog audit.Logger
	logger   *zap.Logger
}

// NewEmitter builds an emitter. pub and auditLog may be nil.
func NewEmitter(st store.InsightStore, cd CooldownStore, pub Publisher, auditLog audit.Logger, logger *zap.Logger) *Emitter {
	return &Emitter{
		store:    st,
		cooldown: cd,
		pub:      pub,
		auditLog: auditLog,
		logger:   logger,
	}
}

// Emit persists and broadcasts an insight unless its cooldown window is
// still open. Returns the stored insight, or nil when suppressed.
func (e *Emitter) Emit(ctx context.Context, in *models.Insight) (*models.Insight, error) {
	resource := in.ContainerID
	if resource == "" {
		resource = "fleet"
	}

	ok, err := e.cooldown.ShouldEmit(ctx, resource, in.Category)
	if err != nil {
		// A broken cooldown store must not silence detection.
		e.logger.Warn("cooldown check failed, emitting anyway",
			zap.String("resource", resource),
			zap.String("kind", in.Category),
			zap.Error(err))
		ok = true
	}
	if !ok {
		metrics.InsightsSuppressed.WithLabelValues(in.Category).Inc()
		if e.auditLog != nil {
			_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventInsightSuppressed).
				WithResource(resource, "container").
				WithAction(in.Category).
				WithDescription(in.Title).
				WithResult(audit.ResultDenied))
		}
		e.logger.Debug("insight suppressed by cooldown",
			zap.String("resource", resource),
			zap.String("kind", in.Category))
		return nil, nil
	}

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	if err := e.store.InsertInsight(ctx, in); err != nil {
		// Not recorded against the cooldown: a failed insert should retry
		// on the next cycle, not be suppressed.
		return nil, fmt.Errorf("insert insight: %w", err)
	}
	if err := e.cooldown.RecordEmission(ctx, resource, in.Category); err != nil {
		e.logger.Warn("record emission failed",
			zap.String("resource", resource),
			zap.String("kind", in.Category),
			zap.Error(err))
	}

	metrics.InsightsEmitted.WithLabelValues(in.Category, string(in.Severity)).Inc()
	if e.auditLog != nil {
		name := in.ContainerName
		if name == "" {
			name = resource
		}
		_ = e.auditLog.LogInsightEmitted(ctx, in.ID, in.Category, name)
	}
	if e.pub != nil {
		e.pub.Publish("insight.emitted", in)
	}

	e.logger.Info("insight emitted",
		zap.String("id", in.ID),
		zap.String("container", in.ContainerName),
		zap.String("category", in.Category),
		zap.String("severity", string(in.Severity)),
		zap.String("title", in.Title))
	return in, nil
}
