// Package detect provides per-metric anomaly detection using classical
// statistics.
//
// Every detector evaluates one rolling window of samples for one
// resource and metric, newest sample last, and judges whether that
// newest value is anomalous. Detection is deterministic, interpretable,
// and needs no training: the verdict always carries a human-readable
// description of why the value was flagged.
//
// Detectors:
//
//   - ZScore: flags values deviating more than a threshold number of
//     standard deviations from the window mean. Best on stable series.
//   - Bollinger: flags values outside mean ± k·stddev bands over a
//     trailing window. More tolerant of noisy series.
//   - Adaptive: measures the window's dispersion and routes to ZScore
//     when the series is stable, Bollinger when it is noisy.
//
// The isolation forest lives in internal/analytics/ml; it shares the
// Detector contract but learns from fitted data rather than the window
// alone.
package detect

import (
	"math"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// Defaults applied when configuration leaves a knob unset.
const (
	DefaultZScoreThreshold    = 2.5
	DefaultMinSamples         = 10
	DefaultBollingerK         = 2.0
	DefaultBollingerWindow    = 30
	DefaultAdaptiveDispersion = 0.5
)

// Detector evaluates one metric window of one resource.
type Detector interface {
	// Evaluate inspects the samples (oldest first, newest last) and
	// returns a verdict, or nil when there is not enough data to judge.
	Evaluate(resourceID, metricType string, samples []models.MetricSample) *Verdict

	// Name identifies the detector in insight categories and metrics.
	Name() string
}

// Verdict is the outcome of evaluating one metric window.
type Verdict struct {
	IsAnomalous bool
	Severity    models.Severity
	Description string
}

// baseline holds summary statistics for a sample window.
type baseline struct {
	mean   float64
	stdDev float64
	count  int
}

// computeBaseline returns mean and population standard deviation.
func computeBaseline(values []float64) baseline {
	if len(values) == 0 {
		return baseline{}
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return baseline{
		mean:   mean,
		stdDev: math.Sqrt(variance),
		count:  len(values),
	}
}

// values extracts the raw series from a sample window.
func values(samples []models.MetricSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// severityForRatio grades how far past its threshold a deviation
// landed. ratio is deviation divided by the allowed threshold, so
// anything at or above 1.0 is already anomalous.
func severityForRatio(ratio float64) models.Severity {
	if ratio > 1.75 {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}
