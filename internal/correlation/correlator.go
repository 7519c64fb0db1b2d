// Package correlation groups emitted insights into incidents.
//
// Every insight either attaches to an active incident from the
// lookback window or seeds a new one. Attachment prefers resource
// identity over text similarity; a per-incident lock serializes
// concurrent attaches so counts and id lists never tear.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/audit"
	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/metrics"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// Correlation types, ordered weakest to strongest.
const (
	CorrelationTemporal   = "temporal"
	CorrelationSimilarity = "similarity"
	CorrelationResource   = "resource"
)

// ErrIncidentNotActive is returned when resolving an incident that is
// already resolved.
var ErrIncidentNotActive = errors.New("incident is not active")

// Publisher broadcasts incident lifecycle events to subscribers.
type Publisher interface {
	Publish(event string, payload interface{})
}

// Correlator implements attach-or-seed incident grouping.
type Correlator struct {
	store    store.IncidentStore
	pub      Publisher
	auditLog audit.Logger
	logger   *zap.Logger

	lookback   time.Duration
	similarity float64
	staleness  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one writer per incident id
}

// NewCorrelator builds a correlator from configuration. pub and
// auditLog may be nil.
func NewCorrelator(cfg *config.Config, st store.IncidentStore, pub Publisher, auditLog audit.Logger, logger *zap.Logger) *Correlator {
	return &Correlator{
		store:      st,
		pub:        pub,
		auditLog:   auditLog,
		logger:     logger,
		lookback:   time.Duration(cfg.Correlation.LookbackMinutes) * time.Minute,
		similarity: cfg.Correlation.SimilarityThreshold,
		staleness:  time.Duration(cfg.Correlation.StalenessMinutes) * time.Minute,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Correlate attaches the insight to a matching active incident inside
// the lookback window, or seeds a new incident around it. Returns the
// incident the insight now belongs to.
func (c *Correlator) Correlate(ctx context.Context, in *models.Insight) (*models.Incident, error) {
	active, err := c.store.ListIncidents(ctx, store.IncidentQuery{
		Status:       models.IncidentActive,
		UpdatedAfter: time.Now().Add(-c.lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}

	match, confidence, kind := c.bestMatch(active, in)
	if match == nil {
		return c.seed(ctx, in)
	}
	return c.attach(ctx, match.ID, in, confidence, kind)
}

// bestMatch scans candidates newest-first. A resource identity match
// wins immediately; otherwise the first candidate clearing the text
// similarity threshold is kept.
func (c *Correlator) bestMatch(active []*models.Incident, in *models.Insight) (*models.Incident, models.ConfidenceTier, string) {
	var similar *models.Incident
	for _, inc := range active {
		if in.ContainerName != "" && containsString(inc.AffectedContainers, in.ContainerName) {
			return inc, models.ConfidenceHigh, CorrelationResource
		}
		if similar == nil && TokenSimilarity(insightText(in), incidentText(inc)) >= c.similarity {
			similar = inc
		}
	}
	if similar != nil {
		return similar, models.ConfidenceMedium, CorrelationSimilarity
	}
	return nil, "", ""
}

// seed creates a fresh incident around a lone insight. A seed starts
// at low confidence; later attaches upgrade it.
func (c *Correlator) seed(ctx context.Context, in *models.Insight) (*models.Incident, error) {
	now := time.Now().UTC()
	inc := &models.Incident{
		ID:                 uuid.NewString(),
		Title:              in.Title,
		Severity:           in.Severity,
		Status:             models.IncidentActive,
		RootCauseInsightID: in.ID,
		RelatedInsightIDs:  []string{},
		AffectedContainers: []string{},
		CorrelationType:    CorrelationTemporal,
		Confidence:         models.ConfidenceLow,
		InsightCount:       1,
		Summary:            in.Description,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.ContainerName != "" {
		inc.AffectedContainers = append(inc.AffectedContainers, in.ContainerName)
	}

	if err := c.store.InsertIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}

	metrics.IncidentsCreated.Inc()
	if c.auditLog != nil {
		_ = c.auditLog.LogIncidentCreated(ctx, inc.ID, in.ID)
	}
	if c.pub != nil {
		c.pub.Publish("incident.created", inc)
	}
	c.logger.Info("incident seeded",
		zap.String("incident", inc.ID),
		zap.String("root_insight", in.ID),
		zap.String("title", inc.Title))
	return inc, nil
}

// attach adds the insight to the incident under its writer lock. The
// incident is re-read inside the lock; if it resolved in the meantime
// the insight seeds a new incident instead.
func (c *Correlator) attach(ctx context.Context, incidentID string, in *models.Insight, confidence models.ConfidenceTier, kind string) (*models.Incident, error) {
	lock := c.incidentLock(incidentID)
	lock.Lock()
	defer lock.Unlock()

	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("reload incident %s: %w", incidentID, err)
	}
	if inc.Status != models.IncidentActive {
		return c.seed(ctx, in)
	}

	inc.RelatedInsightIDs = append(inc.RelatedInsightIDs, in.ID)
	if in.ContainerName != "" && !containsString(inc.AffectedContainers, in.ContainerName) {
		inc.AffectedContainers = append(inc.AffectedContainers, in.ContainerName)
	}
	inc.InsightCount = len(inc.RelatedInsightIDs) + 1
	inc.Severity = models.MaxSeverity(inc.Severity, in.Severity)
	inc.Confidence = strongerConfidence(inc.Confidence, confidence)
	inc.CorrelationType = strongerCorrelation(inc.CorrelationType, kind)
	inc.UpdatedAt = time.Now().UTC()

	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident %s: %w", incidentID, err)
	}

	metrics.IncidentsAttached.WithLabelValues(kind).Inc()
	if c.auditLog != nil {
		_ = c.auditLog.LogIncidentAttached(ctx, inc.ID, in.ID)
	}
	if c.pub != nil {
		c.pub.Publish("incident.updated", inc)
	}
	c.logger.Info("insight attached to incident",
		zap.String("incident", inc.ID),
		zap.String("insight", in.ID),
		zap.String("correlation", kind),
		zap.Int("insight_count", inc.InsightCount))
	return inc, nil
}

// Resolve marks an incident resolved on behalf of an operator.
func (c *Correlator) Resolve(ctx context.Context, incidentID string) (*models.Incident, error) {
	lock := c.incidentLock(incidentID)
	lock.Lock()

	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("reload incident %s: %w", incidentID, err)
	}
	if inc.Status != models.IncidentActive {
		lock.Unlock()
		return nil, ErrIncidentNotActive
	}

	now := time.Now().UTC()
	inc.Status = models.IncidentResolved
	inc.ResolvedAt = &now
	inc.UpdatedAt = now
	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("update incident %s: %w", incidentID, err)
	}
	lock.Unlock()
	c.dropLock(incidentID)

	metrics.IncidentsResolved.Inc()
	if c.pub != nil {
		c.pub.Publish("incident.resolved", inc)
	}
	c.logger.Info("incident resolved", zap.String("incident", inc.ID))
	return inc, nil
}

// ResolveStale resolves active incidents untouched for the staleness
// window. Returns the number resolved.
func (c *Correlator) ResolveStale(ctx context.Context) (int, error) {
	if c.staleness <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-c.staleness)
	stale, err := c.store.ListIncidents(ctx, store.IncidentQuery{
		Status:        models.IncidentActive,
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale incidents: %w", err)
	}

	resolved := 0
	for _, candidate := range stale {
		ok, err := c.resolveIfStale(ctx, candidate.ID, cutoff)
		if err != nil {
			c.logger.Warn("stale incident resolve failed",
				zap.String("incident", candidate.ID),
				zap.Error(err))
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

// resolveIfStale re-reads the incident under its lock and resolves it
// only if it is still active and still untouched since the cutoff; a
// concurrent attach between the list and the lock keeps it alive.
func (c *Correlator) resolveIfStale(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	lock := c.incidentLock(id)
	lock.Lock()

	inc, err := c.store.GetIncident(ctx, id)
	if err != nil {
		lock.Unlock()
		return false, err
	}
	if inc.Status != models.IncidentActive || inc.UpdatedAt.After(cutoff) {
		lock.Unlock()
		return false, nil
	}

	now := time.Now().UTC()
	inc.Status = models.IncidentResolved
	inc.ResolvedAt = &now
	inc.UpdatedAt = now
	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		lock.Unlock()
		return false, err
	}
	lock.Unlock()
	c.dropLock(id)

	metrics.IncidentsResolved.Inc()
	if c.pub != nil {
		c.pub.Publish("incident.resolved", inc)
	}
	c.logger.Info("incident auto-resolved", zap.String("incident", inc.ID))
	return true, nil
}

func (c *Correlator) incidentLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[id] = l
	return l
}

// dropLock forgets a resolved incident's lock. Safe because resolved
// incidents never become active again, so a recreated lock can only
// guard reads that will refuse to write.
func (c *Correlator) dropLock(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, id)
}

func insightText(in *models.Insight) string {
	return in.Title + " " + in.Description
}

func incidentText(inc *models.Incident) string {
	return inc.Title + " " + inc.Summary
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func confidenceRank(t models.ConfidenceTier) int {
	switch t {
	case models.ConfidenceHigh:
		return 2
	case models.ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

func strongerConfidence(cur, candidate models.ConfidenceTier) models.ConfidenceTier {
	if confidenceRank(candidate) > confidenceRank(cur) {
		return candidate
	}
	return cur
}

func correlationRank(kind string) int {
	switch kind {
	case CorrelationResource:
		return 2
	case CorrelationSimilarity:
		return 1
	default:
		return 0
	}
}

func strongerCorrelation(cur, candidate string) string {
	if correlationRank(candidate) > correlationRank(cur) {
		return candidate
	}
	return cur
}
