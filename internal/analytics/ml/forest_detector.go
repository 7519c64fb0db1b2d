package ml

import (
	"fmt"

	"github.com/stackwatch/stackwatch-ai/internal/analytics/detect"
	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// ForestDetector adapts the isolation forest to the detect.Detector
// contract: each evaluation grows a fresh forest on the window history
// and scores the newest sample against it. Because no forest survives
// across calls, one ForestDetector may serve many goroutines.
type ForestDetector struct {
	trees          int
	subSampleSize  int
	scoreThreshold float64
	minSamples     int
}

// NewForestDetector builds the detector. Non-positive arguments fall
// back to the package defaults.
func NewForestDetector(trees, subSampleSize int, scoreThreshold float64, minSamples int) *ForestDetector {
	if scoreThreshold <= 0 {
		scoreThreshold = DefaultScoreThreshold
	}
	if minSamples <= 0 {
		minSamples = detect.DefaultMinSamples
	}
	return &ForestDetector{
		trees:          trees,
		subSampleSize:  subSampleSize,
		scoreThreshold: scoreThreshold,
		minSamples:     minSamples,
	}
}

// Name returns "isolation_forest".
func (d *ForestDetector) Name() string { return "isolation_forest" }

// Evaluate fits on the preceding samples and scores the newest one.
// Returns nil below the minimum sample floor.
func (d *ForestDetector) Evaluate(resourceID, metricType string, samples []models.MetricSample) *detect.Verdict {
	if len(samples) < d.minSamples {
		return nil
	}

	history := samples[:len(samples)-1]
	points := make([]Point, len(history))
	for i, s := range history {
		points[i] = Point{Features: []float64{s.Value}}
	}
	forest := NewIsolationForest(d.trees, d.subSampleSize)
	forest.Fit(points)

	current := samples[len(samples)-1].Value
	res := forest.Predict(Point{Features: []float64{current}})
	if res.Score <= d.scoreThreshold {
		return &detect.Verdict{
			Description: fmt.Sprintf("isolation score %.2f within threshold %.2f", res.Score, d.scoreThreshold),
		}
	}

	severity := models.SeverityWarning
	if res.Score > 0.85 {
		severity = models.SeverityCritical
	}
	return &detect.Verdict{
		IsAnomalous: true,
		Severity:    severity,
		Description: fmt.Sprintf("%s %.2f isolates in %.1f splits on average (score %.2f, threshold %.2f)",
			metricType, current, res.PathLength, res.Score, d.scoreThreshold),
	}
}
