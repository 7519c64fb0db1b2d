// Package investigation runs bounded root-cause analyses for insights.
//
// Responsibilities:
//   - Enforce the trigger policy: investigations enabled, no completed
//     investigation for the resource within the cooldown, and a global
//     concurrency ceiling where excess triggers are dropped, not queued
//   - Drive the state machine pending → gathering → analyzing →
//     complete | failed; terminal states admit no further transitions
//   - Gather a bounded evidence bundle (log tail + metric snapshots)
//     before reasoning, optionally archiving the raw bundle
//   - Require structured reasoning output; malformed output fails the
//     investigation instead of being patched into defaults
package investigation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/stackwatch/stackwatch-ai/internal/audit"
	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/llm"
	"github.com/stackwatch/stackwatch-ai/internal/metrics"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

const (
	defaultMaxConcurrent   = 2
	defaultEvidenceTimeout = 15 * time.Second
	defaultAnalysisTimeout = 2 * time.Minute
)

const analysisSystemPrompt = `You are StackWatch AI, an expert container-infrastructure analyst embedded inside the StackWatch monitoring service.

ROLE:
- Determine the most likely root cause of a detected container anomaly
- Weigh log evidence against metric evidence and call out contradictions
- Recommend concrete remediation steps an operator can take

RULES:
1. Base every conclusion on the evidence provided; never invent log lines or metric values
2. If the evidence is insufficient for a confident diagnosis, say so and lower the confidence score
3. Prefer the least disruptive remediation that addresses the root cause
4. Express confidence as a number between 0 and 1

OUTPUT FORMAT:
Reply with a single JSON object and nothing else:
{
  "root_cause": "one-sentence diagnosis",
  "contributing_factors": ["factor", "factor"],
  "severity_assessment": "how serious this is and why",
  "recommended_actions": [{"action": "what to do", "priority": 1, "rationale": "why"}],
  "confidence": 0.8,
  "summary": "short narrative for the incident timeline"
}`

// Publisher broadcasts investigation lifecycle events to subscribers.
type Publisher interface {
	Publish(event string, payload interface{})
}

// Deps carries the orchestrator's collaborators. Archive, Publisher
// and Audit may be nil.
type Deps struct {
	Store     store.InvestigationStore
	Gatherer  *Gatherer
	Client    llm.Client
	Archive   store.EvidenceArchive
	Publisher Publisher
	Audit     audit.Logger
	Logger    *zap.Logger
}

// Orchestrator triggers and runs investigations.
type Orchestrator struct {
	store    store.InvestigationStore
	gatherer *Gatherer
	client   llm.Client
	archive  store.EvidenceArchive
	pub      Publisher
	auditLog audit.Logger
	logger   *zap.Logger

	enabled          bool
	sem              *semaphore.Weighted
	resourceCooldown time.Duration
	evidenceTimeout  time.Duration
	analysisTimeout  time.Duration

	inFlight atomic.Int64

	// Workers run under baseCtx, not the triggering caller's context:
	// an investigation must outlive the HTTP request or cycle that
	// emitted its insight, and die only on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator builds the orchestrator from configuration.
func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	maxConcurrent := int64(cfg.Investigations.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	evidenceTimeout := time.Duration(cfg.Investigations.EvidenceTimeoutSeconds) * time.Second
	if evidenceTimeout <= 0 {
		evidenceTimeout = defaultEvidenceTimeout
	}
	analysisTimeout := time.Duration(cfg.Investigations.AnalysisTimeoutSeconds) * time.Second
	if analysisTimeout <= 0 {
		analysisTimeout = defaultAnalysisTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:            deps.Store,
		gatherer:         deps.Gatherer,
		client:           deps.Client,
		archive:          deps.Archive,
		pub:              deps.Publisher,
		auditLog:         deps.Audit,
		logger:           deps.Logger,
		enabled:          cfg.Investigations.Enabled,
		sem:              semaphore.NewWeighted(maxConcurrent),
		resourceCooldown: time.Duration(cfg.Investigations.ResourceCooldownMinutes) * time.Minute,
		evidenceTimeout:  evidenceTimeout,
		analysisTimeout:  analysisTimeout,
		baseCtx:          ctx,
		cancel:           cancel,
	}
}

// MaybeInvestigate applies the trigger policy and, when it passes,
// starts an asynchronous investigation for the insight. Never blocks
// on a running investigation: excess triggers are dropped.
func (o *Orchestrator) MaybeInvestigate(ctx context.Context, in *models.Insight) {
	if !o.enabled {
		metrics.InvestigationsDropped.WithLabelValues("disabled").Inc()
		return
	}
	if in.ContainerID == "" {
		// Fleet-wide insights have no container to gather evidence from.
		return
	}

	last, err := o.store.LatestInvestigation(ctx, in.ContainerID, models.InvestigationComplete)
	if err != nil {
		o.logger.Warn("investigation cooldown check failed",
			zap.String("container", in.ContainerName),
			zap.Error(err))
		return
	}
	if last != nil && last.CompletedAt != nil && time.Since(*last.CompletedAt) < o.resourceCooldown {
		metrics.InvestigationsDropped.WithLabelValues("cooldown").Inc()
		if o.auditLog != nil {
			_ = o.auditLog.LogInvestigationDropped(ctx, in.ContainerName, "cooldown")
		}
		o.logger.Debug("investigation suppressed by resource cooldown",
			zap.String("container", in.ContainerName),
			zap.String("previous", last.ID))
		return
	}

	if !o.sem.TryAcquire(1) {
		metrics.InvestigationsDropped.WithLabelValues("concurrency").Inc()
		if o.auditLog != nil {
			_ = o.auditLog.LogInvestigationDropped(ctx, in.ContainerName, "concurrency")
		}
		o.logger.Warn("investigation dropped at concurrency ceiling",
			zap.String("container", in.ContainerName),
			zap.String("insight", in.ID))
		return
	}

	inv := &models.Investigation{
		ID:            uuid.NewString(),
		InsightID:     in.ID,
		EndpointID:    in.EndpointID,
		ContainerID:   in.ContainerID,
		ContainerName: in.ContainerName,
		Status:        models.InvestigationPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.store.InsertInvestigation(ctx, inv); err != nil {
		o.sem.Release(1)
		o.logger.Error("investigation insert failed",
			zap.String("container", in.ContainerName),
			zap.Error(err))
		return
	}

	o.inFlight.Add(1)
	metrics.InvestigationsInFlight.Inc()
	if o.auditLog != nil {
		_ = o.auditLog.LogInvestigationStarted(ctx, inv.ID)
	}
	if o.pub != nil {
		o.pub.Publish("investigation.started", inv)
	}
	o.logger.Info("investigation started",
		zap.String("investigation", inv.ID),
		zap.String("container", inv.ContainerName),
		zap.String("insight", in.ID))

	o.wg.Add(1)
	go o.run(inv, in)
}

// InFlight returns the number of currently running investigations.
func (o *Orchestrator) InFlight() int64 {
	return o.inFlight.Load()
}

// Close cancels running investigations and waits for workers to exit.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) run(inv *models.Investigation, in *models.Insight) {
	defer o.wg.Done()
	defer o.sem.Release(1)
	defer func() {
		o.inFlight.Add(-1)
		metrics.InvestigationsInFlight.Dec()
	}()

	start := time.Now()
	ctx := o.baseCtx

	if err := o.advance(ctx, inv, models.InvestigationGathering); err != nil {
		o.fail(inv, start, err)
		return
	}

	evCtx, cancelEv := context.WithTimeout(ctx, o.evidenceTimeout)
	ev, err := o.gatherer.Gather(evCtx, in)
	cancelEv()
	if err != nil {
		o.fail(inv, start, fmt.Errorf("evidence gathering: %w", err))
		return
	}
	inv.EvidenceSummary = ev.Summary()
	o.archiveEvidence(ctx, inv, ev)

	if err := o.advance(ctx, inv, models.InvestigationAnalyzing); err != nil {
		o.fail(inv, start, err)
		return
	}

	anCtx, cancelAn := context.WithTimeout(ctx, o.analysisTimeout)
	reply, err := o.client.ChatStream(anCtx, analysisRequest(ev), analysisSystemPrompt, nil)
	cancelAn()
	if err != nil {
		o.fail(inv, start, fmt.Errorf("reasoning: %w", err))
		return
	}

	analysis, err := ParseAnalysis(reply)
	if err != nil {
		o.fail(inv, start, fmt.Errorf("reasoning output: %w", err))
		return
	}

	o.complete(inv, start, analysis)
}

// advance moves the investigation to the next state and persists it.
func (o *Orchestrator) advance(ctx context.Context, inv *models.Investigation, next models.InvestigationStatus) error {
	if !validTransition(inv.Status, next) {
		return fmt.Errorf("investigation %s cannot move from %s to %s", inv.ID, inv.Status, next)
	}
	prev := inv.Status
	inv.Status = next
	if err := o.store.UpdateInvestigation(ctx, inv); err != nil {
		inv.Status = prev
		return fmt.Errorf("advance to %s: %w", next, err)
	}
	return nil
}

func validTransition(from, to models.InvestigationStatus) bool {
	switch from {
	case models.InvestigationPending:
		return to == models.InvestigationGathering || to == models.InvestigationFailed
	case models.InvestigationGathering:
		return to == models.InvestigationAnalyzing || to == models.InvestigationFailed
	case models.InvestigationAnalyzing:
		return to == models.InvestigationComplete || to == models.InvestigationFailed
	default:
		return false
	}
}

func (o *Orchestrator) complete(inv *models.Investigation, start time.Time, analysis *Analysis) {
	now := time.Now().UTC()
	inv.Status = models.InvestigationComplete
	inv.RootCause = analysis.RootCause
	inv.ContributingFactors = analysis.ContributingFactors
	inv.SeverityAssessment = analysis.SeverityAssessment
	inv.RecommendedActions = analysis.RecommendedActions
	inv.Confidence = analysis.Confidence
	inv.Summary = analysis.Summary
	inv.ModelID = o.client.Model()
	inv.DurationMS = time.Since(start).Milliseconds()
	inv.CompletedAt = &now

	ctx, cancel := o.terminalCtx()
	defer cancel()

	if err := o.store.UpdateInvestigation(ctx, inv); err != nil {
		inv.Status = models.InvestigationAnalyzing
		inv.CompletedAt = nil
		o.fail(inv, start, fmt.Errorf("persist analysis: %w", err))
		return
	}

	elapsed := time.Since(start)
	metrics.InvestigationsTotal.WithLabelValues("complete").Inc()
	metrics.InvestigationDuration.Observe(elapsed.Seconds())
	if o.auditLog != nil {
		_ = o.auditLog.LogInvestigationCompleted(ctx, inv.ID, elapsed)
	}
	if o.pub != nil {
		o.pub.Publish("investigation.completed", inv)
	}
	o.logger.Info("investigation completed",
		zap.String("investigation", inv.ID),
		zap.String("container", inv.ContainerName),
		zap.Float64("confidence", inv.Confidence),
		zap.Duration("elapsed", elapsed))
}

func (o *Orchestrator) fail(inv *models.Investigation, start time.Time, cause error) {
	now := time.Now().UTC()
	inv.Status = models.InvestigationFailed
	inv.ErrorMessage = cause.Error()
	inv.DurationMS = time.Since(start).Milliseconds()
	inv.CompletedAt = &now

	ctx, cancel := o.terminalCtx()
	defer cancel()

	if err := o.store.UpdateInvestigation(ctx, inv); err != nil {
		o.logger.Error("failed investigation update failed",
			zap.String("investigation", inv.ID),
			zap.Error(err))
	}

	metrics.InvestigationsTotal.WithLabelValues("failed").Inc()
	metrics.InvestigationDuration.Observe(time.Since(start).Seconds())
	if o.auditLog != nil {
		_ = o.auditLog.LogInvestigationFailed(ctx, inv.ID, cause)
	}
	if o.pub != nil {
		o.pub.Publish("investigation.failed", inv)
	}
	o.logger.Warn("investigation failed",
		zap.String("investigation", inv.ID),
		zap.String("container", inv.ContainerName),
		zap.Error(cause))
}

// terminalCtx is used for terminal bookkeeping writes so a shutdown
// cancellation cannot strand an investigation in a non-terminal state.
func (o *Orchestrator) terminalCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(o.baseCtx), 5*time.Second)
}

func (o *Orchestrator) archiveEvidence(ctx context.Context, inv *models.Investigation, ev *Evidence) {
	if o.archive == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		o.logger.Warn("evidence marshal failed",
			zap.String("investigation", inv.ID),
			zap.Error(err))
		return
	}
	key, err := o.archive.PutEvidence(ctx, inv.ID, payload)
	if err != nil {
		o.logger.Warn("evidence archive failed",
			zap.String("investigation", inv.ID),
			zap.Error(err))
		return
	}
	inv.EvidenceArchiveKey = key
}

// analysisRequest renders the evidence bundle as the user turn of the
// reasoning conversation.
func analysisRequest(ev *Evidence) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Anomaly: %s\n%s\n\n", ev.InsightTitle, ev.InsightDetail)
	fmt.Fprintf(&b, "Container: %s (%s)\n\n", ev.ContainerName, ev.ContainerID)

	if len(ev.Metrics) > 0 {
		b.WriteString("Metric snapshots:\n")
		for _, m := range ev.Metrics {
			fmt.Fprintf(&b, "- %s: mean %.2f, stddev %.2f, %d samples, recent values %v\n",
				m.MetricType, m.Mean, m.StdDev, m.SampleCount, m.Recent)
		}
		b.WriteString("\n")
	}

	if ev.LogTail != "" {
		fmt.Fprintf(&b, "Log tail (most recent last):\n%s\n", ev.LogTail)
	} else {
		b.WriteString("No recent log output.\n")
	}

	return []llm.Message{{Role: "user", Content: b.String()}}
}
