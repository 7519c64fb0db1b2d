// Package monitor drives the detection pipeline.
//
// Responsibilities:
//   - Run monitoring cycles on a fixed interval, never overlapping
//   - Pull a fresh observation for every container each cycle
//   - Evaluate state conditions and metric detectors per resource
//   - Gate every emission through the cooldown tracker
//   - Hand emitted insights to correlation, investigation and remediation
//
// Per-resource failures are logged and skipped; nothing a single
// container does can abort a cycle or the loop.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackwatch/stackwatch-ai/internal/analytics/detect"
	"github.com/stackwatch/stackwatch-ai/internal/analytics/ml"
	"github.com/stackwatch/stackwatch-ai/internal/audit"
	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/metrics"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/platform"
)

// ErrCycleRunning is returned when a cycle is requested while the
// previous one is still in flight.
var ErrCycleRunning = errors.New("monitoring cycle already running")

// maxParallelEvaluations bounds the per-resource fan-out inside a cycle.
const maxParallelEvaluations = 8

// minSweepInterval floors the cooldown sweep cadence.
const minSweepInterval = 30 * time.Second

// Correlator groups emitted insights into incidents.
type Correlator interface {
	Correlate(ctx context.Context, in *models.Insight) (*models.Incident, error)
	ResolveStale(ctx context.Context) (int, error)
}

// InvestigationTrigger may start an asynchronous investigation for an
// insight. Implementations decide (and account for) drops themselves.
type InvestigationTrigger interface {
	MaybeInvestigate(ctx context.Context, in *models.Insight)
}

// ActionProposer maps insights to remediation proposals.
type ActionProposer interface {
	// SuggestionFor returns the action type the advisor would propose,
	// or empty when no mapping applies. It creates nothing.
	SuggestionFor(in *models.Insight) models.ActionType

	// Suggest proposes a pending action for the insight, returning nil
	// when no mapping applies or an equivalent action is already open.
	Suggest(ctx context.Context, in *models.Insight) (*models.Action, error)
}

// CycleStats summarizes the most recent cycle for diagnostics.
type CycleStats struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Resources  int       `json:"resources"`
	Errors     int       `json:"errors"`
}

// Deps carries the scheduler's collaborators. Correlator,
// Investigations, Advisor and Audit may be nil when the corresponding
// stage is disabled.
type Deps struct {
	Samples        platform.SampleSource
	Emitter        *Emitter
	Cooldown       CooldownStore
	Correlator     Correlator
	Investigations InvestigationTrigger
	Advisor        ActionProposer
	Audit          audit.Logger
	Logger         *zap.Logger
}

// Scheduler owns the monitoring loop.
type Scheduler struct {
	samples        platform.SampleSource
	detectors      []detect.Detector
	emitter        *Emitter
	cooldown       CooldownStore
	correlator     Correlator
	investigations InvestigationTrigger
	advisor        ActionProposer
	auditLog       audit.Logger
	logger         *zap.Logger

	interval      time.Duration
	sweepInterval time.Duration
	metricWindow  int

	cycleMu sync.Mutex // held for the duration of a cycle

	statsMu   sync.RWMutex
	lastCycle CycleStats

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler assembles the detection loop from configuration.
func NewScheduler(cfg *config.Config, deps Deps) *Scheduler {
	cooldownWindow := time.Duration(cfg.Monitoring.CooldownMinutes) * time.Minute
	sweep := cooldownWindow / 10
	if sweep < minSweepInterval {
		sweep = minSweepInterval
	}

	return &Scheduler{
		samples:        deps.Samples,
		detectors:      buildDetectors(cfg),
		emitter:        deps.Emitter,
		cooldown:       deps.Cooldown,
		correlator:     deps.Correlator,
		investigations: deps.Investigations,
		advisor:        deps.Advisor,
		auditLog:       deps.Audit,
		logger:         deps.Logger,
		interval:       time.Duration(cfg.Monitoring.IntervalSeconds) * time.Second,
		sweepInterval:  sweep,
		metricWindow:   cfg.Monitoring.MetricWindow,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// buildDetectors wires the configured detector set. The adaptive
// detector routes between z-score and Bollinger internally; the forest
// is optional.
func buildDetectors(cfg *config.Config) []detect.Detector {
	mc := cfg.Monitoring
	zscore := detect.NewZScore(mc.ZScoreThreshold, mc.MinSamples)
	bollinger := detect.NewBollinger(mc.BollingerK, mc.BollingerWindow, mc.MinSamples)

	detectors := []detect.Detector{
		detect.NewAdaptive(zscore, bollinger, mc.AdaptiveDispersion, mc.MinSamples),
	}
	if mc.Forest.Enabled {
		detectors = append(detectors, ml.NewForestDetector(
			mc.Forest.Trees, mc.Forest.SubsampleSize, mc.Forest.ScoreThreshold, mc.MinSamples))
	}
	return detectors
}

// Start begins the cycle loop. Stop must only be called after Start.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		sweepTicker := time.NewTicker(s.sweepInterval)
		defer sweepTicker.Stop()

		// Initial cycle so a fresh instance reports promptly.
		if err := s.RunCycleNow(ctx); err != nil {
			s.logger.Debug("initial cycle skipped", zap.Error(err))
		}

		for {
			select {
			case <-ticker.C:
				if err := s.RunCycleNow(ctx); errors.Is(err, ErrCycleRunning) {
					s.logger.Warn("previous cycle still running, skipping tick")
				}
			case <-sweepTicker.C:
				if n, err := s.cooldown.Sweep(ctx); err != nil {
					s.logger.Warn("cooldown sweep failed", zap.Error(err))
				} else if n > 0 {
					s.logger.Debug("cooldown sweep", zap.Int("removed", n))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// RunCycleNow runs one cycle immediately. Returns ErrCycleRunning when
// the previous cycle has not finished; cycles never overlap.
func (s *Scheduler) RunCycleNow(ctx context.Context) error {
	if !s.cycleMu.TryLock() {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return ErrCycleRunning
	}
	defer s.cycleMu.Unlock()

	s.runCycle(ctx)
	return nil
}

// LastCycle returns diagnostics for the most recent completed cycle.
func (s *Scheduler) LastCycle() CycleStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.lastCycle
}

// CooldownEntries returns the live suppression table.
func (s *Scheduler) CooldownEntries(ctx context.Context) ([]CooldownEntry, error) {
	return s.cooldown.Entries(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	resources, err := s.samples.ListResources(ctx)
	if err != nil {
		s.logger.Error("list resources failed", zap.Error(err))
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		return
	}

	var evalErrs atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(maxParallelEvaluations)
	for _, res := range resources {
		g.Go(func() error {
			metrics.ResourcesEvaluated.Inc()
			if err := s.evaluateResource(ctx, res); err != nil {
				evalErrs.Add(1)
				metrics.ResourceEvaluationErrors.Inc()
				s.logger.Warn("resource evaluation failed",
					zap.String("container", res.Name),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.correlator != nil {
		if n, err := s.correlator.ResolveStale(ctx); err != nil {
			s.logger.Warn("incident staleness sweep failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("incidents auto-resolved", zap.Int("count", n))
		}
	}

	elapsed := time.Since(start)
	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())

	s.statsMu.Lock()
	s.lastCycle = CycleStats{
		StartedAt:  start.UTC(),
		DurationMS: elapsed.Milliseconds(),
		Resources:  len(resources),
		Errors:     int(evalErrs.Load()),
	}
	s.statsMu.Unlock()

	if s.auditLog != nil {
		_ = s.auditLog.Log(ctx, audit.NewEvent(audit.EventCycleCompleted).
			WithResult(audit.ResultSuccess).
			WithDuration(elapsed).
			WithMetadata("resources", len(resources)).
			WithMetadata("errors", evalErrs.Load()))
	}
	s.logger.Info("monitoring cycle completed",
		zap.Int("resources", len(resources)),
		zap.Int64("errors", evalErrs.Load()),
		zap.Duration("elapsed", elapsed))
}

// evaluateResource observes one container and runs every check on it.
func (s *Scheduler) evaluateResource(ctx context.Context, res platform.Resource) error {
	if err := s.samples.Observe(ctx, res); err != nil {
		return err
	}
	s.checkState(ctx, res)
	s.checkMetrics(ctx, res)
	return nil
}

// checkState emits insights for conditions visible on the container
// itself, independent of any metric window.
func (s *Scheduler) checkState(ctx context.Context, res platform.Resource) {
	if res.OOMKilled {
		s.emit(ctx, &models.Insight{
			EndpointID:    res.EndpointID,
			ContainerID:   res.ID,
			ContainerName: res.Name,
			Severity:      models.SeverityCritical,
			Category:      "oom",
			Title:         "OOM detected in " + res.Name,
			Description: "container " + res.Name + " was killed by the kernel OOM killer" +
				"; it exceeded its memory limit and cannot be trusted to restart cleanly without intervention",
		})
	}
	if res.Health == platform.HealthUnhealthy {
		s.emit(ctx, &models.Insight{
			EndpointID:    res.EndpointID,
			ContainerID:   res.ID,
			ContainerName: res.Name,
			Severity:      models.SeverityWarning,
			Category:      "unhealthy",
			Title:         "Failing health check in " + res.Name,
			Description: "container " + res.Name + " reports unhealthy (" + res.Status +
				"); its health probe has exceeded the failure threshold",
		})
	}
}

// checkMetrics runs the detector set over each tracked metric window.
func (s *Scheduler) checkMetrics(ctx context.Context, res platform.Resource) {
	for _, metricType := range []string{
		platform.MetricCPUPercent,
		platform.MetricMemoryPercent,
		platform.MetricRestartCount,
	} {
		window, err := s.samples.LatestMetrics(ctx, res.ID, metricType, s.metricWindow)
		if err != nil {
			s.logger.Warn("metric window unavailable",
				zap.String("container", res.Name),
				zap.String("metric", metricType),
				zap.Error(err))
			continue
		}
		if len(window) == 0 {
			continue
		}

		for _, d := range s.detectors {
			verdict := d.Evaluate(res.ID, metricType, window)
			if verdict == nil || !verdict.IsAnomalous {
				continue
			}
			s.logger.Debug("detector verdict",
				zap.String("container", res.Name),
				zap.String("metric", metricType),
				zap.String("detector", d.Name()),
				zap.String("description", verdict.Description))
			s.emit(ctx, &models.Insight{
				EndpointID:    res.EndpointID,
				ContainerID:   res.ID,
				ContainerName: res.Name,
				Severity:      verdict.Severity,
				Category:      categoryForMetric(metricType),
				Title:         metricLabel(metricType) + " anomaly in " + res.Name,
				Description:   verdict.Description,
			})
		}
	}
}

// emit pushes an insight through the pipeline: cooldown-gated emission,
// then correlation, investigation and remediation in order.
func (s *Scheduler) emit(ctx context.Context, in *models.Insight) {
	if s.advisor != nil {
		in.SuggestedAction = string(s.advisor.SuggestionFor(in))
	}

	stored, err := s.emitter.Emit(ctx, in)
	if err != nil {
		s.logger.Error("insight emission failed",
			zap.String("container", in.ContainerName),
			zap.String("category", in.Category),
			zap.Error(err))
		return
	}
	if stored == nil {
		return // suppressed
	}

	if s.correlator != nil {
		if _, err := s.correlator.Correlate(ctx, stored); err != nil {
			s.logger.Warn("correlation failed",
				zap.String("insight", stored.ID),
				zap.Error(err))
		}
	}
	if s.investigations != nil {
		s.investigations.MaybeInvestigate(ctx, stored)
	}
	if s.advisor != nil {
		if _, err := s.advisor.Suggest(ctx, stored); err != nil {
			s.logger.Warn("action proposal failed",
				zap.String("insight", stored.ID),
				zap.Error(err))
		}
	}
}

func categoryForMetric(metricType string) string {
	switch metricType {
	case platform.MetricCPUPercent:
		return "cpu_anomaly"
	case platform.MetricMemoryPercent:
		return "memory_anomaly"
	case platform.MetricRestartCount:
		return "restart_anomaly"
	default:
		return metricType + "_anomaly"
	}
}

func metricLabel(metricType string) string {
	switch metricType {
	case platform.MetricCPUPercent:
		return "CPU"
	case platform.MetricMemoryPercent:
		return "Memory"
	case platform.MetricRestartCount:
		return "Restart count"
	default:
		return metricType
	}
}
