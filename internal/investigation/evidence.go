package investigation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/cache"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/platform"
)

// logCacheTTL bounds how long a fetched log tail is reused. A burst of
// insights on one container within this window shares a single fetch.
const logCacheTTL = 30 * time.Second

// logCacheSize bounds the number of cached tails.
const logCacheSize = 256

// recentValues is the number of raw samples included per metric
// snapshot, newest last.
const recentValues = 10

// MetricSnapshot is the bounded per-metric evidence: rolling statistics
// plus the most recent raw values.
type MetricSnapshot struct {
	MetricType  string    `json:"metric_type"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	SampleCount int       `json:"sample_count"`
	Recent      []float64 `json:"recent"`
}

// Evidence is the bundle handed to the reasoning step. Sizes are
// bounded by the log tail limit and recentValues per metric.
type Evidence struct {
	InsightID     string           `json:"insight_id"`
	ContainerID   string           `json:"container_id"`
	ContainerName string           `json:"container_name"`
	InsightTitle  string           `json:"insight_title"`
	InsightDetail string           `json:"insight_detail"`
	LogTail       string           `json:"log_tail"`
	Metrics       []MetricSnapshot `json:"metrics"`
	GatheredAt    time.Time        `json:"gathered_at"`
}

// Summary renders the bounded one-line digest stored on the
// investigation record.
func (e *Evidence) Summary() string {
	parts := []string{fmt.Sprintf("%d log lines", countLines(e.LogTail))}
	for _, m := range e.Metrics {
		parts = append(parts, fmt.Sprintf("%s mean %.2f stddev %.2f over %d samples",
			m.MetricType, m.Mean, m.StdDev, m.SampleCount))
	}
	return strings.Join(parts, "; ")
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
}

// Gatherer collects the evidence bundle for one insight.
type Gatherer struct {
	logs      platform.LogSource
	samples   platform.SampleSource
	logCache  *cache.TTL[string]
	tailLines int
	window    int
	logger    *zap.Logger
}

// NewGatherer builds an evidence gatherer. tailLines bounds the log
// fetch; window bounds the metric statistics.
func NewGatherer(logs platform.LogSource, samples platform.SampleSource, tailLines, window int, logger *zap.Logger) (*Gatherer, error) {
	logCache, err := cache.New[string](logCacheSize, logCacheTTL)
	if err != nil {
		return nil, err
	}
	return &Gatherer{
		logs:      logs,
		samples:   samples,
		logCache:  logCache,
		tailLines: tailLines,
		window:    window,
		logger:    logger,
	}, nil
}

// Gather fetches the log tail and metric snapshots for the insight's
// container. A log fetch error fails the gather; a metric type with no
// samples is simply absent from the bundle.
func (g *Gatherer) Gather(ctx context.Context, in *models.Insight) (*Evidence, error) {
	ev := &Evidence{
		InsightID:     in.ID,
		ContainerID:   in.ContainerID,
		ContainerName: in.ContainerName,
		InsightTitle:  in.Title,
		InsightDetail: in.Description,
		GatheredAt:    time.Now().UTC(),
	}

	tail, err := g.logTail(ctx, in.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("fetch log tail: %w", err)
	}
	ev.LogTail = tail

	for _, metricType := range []string{
		platform.MetricCPUPercent,
		platform.MetricMemoryPercent,
		platform.MetricRestartCount,
	} {
		snap, err := g.snapshot(ctx, in.ContainerID, metricType)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", metricType, err)
		}
		if snap != nil {
			ev.Metrics = append(ev.Metrics, *snap)
		}
	}
	return ev, nil
}

func (g *Gatherer) logTail(ctx context.Context, containerID string) (string, error) {
	if tail, ok := g.logCache.Get(containerID); ok {
		return tail, nil
	}
	tail, err := g.logs.RecentLogs(ctx, containerID, g.tailLines)
	if err != nil {
		return "", err
	}
	g.logCache.Set(containerID, tail)
	return tail, nil
}

func (g *Gatherer) snapshot(ctx context.Context, containerID, metricType string) (*MetricSnapshot, error) {
	stats, err := g.samples.MovingAverage(ctx, containerID, metricType, g.window)
	if err != nil {
		return nil, err
	}
	if stats == nil || stats.SampleCount == 0 {
		return nil, nil
	}

	recent, err := g.samples.LatestMetrics(ctx, containerID, metricType, recentValues)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(recent))
	for _, s := range recent {
		values = append(values, s.Value)
	}

	return &MetricSnapshot{
		MetricType:  metricType,
		Mean:        stats.Mean,
		StdDev:      stats.StdDev,
		SampleCount: stats.SampleCount,
		Recent:      values,
	}, nil
}

// CacheStats exposes log cache hit/miss counts for diagnostics.
func (g *Gatherer) CacheStats() (hits, misses uint64, entries int) {
	return g.logCache.Stats()
}
