package detect

import (
	"fmt"
	"math"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// ZScore flags the newest sample when it deviates from the window
// baseline by more than Threshold standard deviations.
type ZScore struct {
	Threshold  float64
	MinSamples int
}

// NewZScore builds a z-score detector. Non-positive arguments fall
// back to the package defaults.
func NewZScore(threshold float64, minSamples int) *ZScore {
	if threshold <= 0 {
		threshold = DefaultZScoreThreshold
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &ZScore{Threshold: threshold, MinSamples: minSamples}
}

// Name returns "zscore".
func (d *ZScore) Name() string { return "zscore" }

// Evaluate compares the newest sample against the baseline of the
// preceding samples. Returns nil below the minimum sample floor.
func (d *ZScore) Evaluate(resourceID, metricType string, samples []models.MetricSample) *Verdict {
	if len(samples) < d.MinSamples {
		return nil
	}

	current := samples[len(samples)-1].Value
	bl := computeBaseline(values(samples[:len(samples)-1]))
	if bl.stdDev == 0 {
		return &Verdict{Description: "zero variance in baseline"}
	}

	z := math.Abs((current - bl.mean) / bl.stdDev)
	if z <= d.Threshold {
		return &Verdict{Description: "value within normal range"}
	}

	return &Verdict{
		IsAnomalous: true,
		Severity:    severityForRatio(z / d.Threshold),
		Description: fmt.Sprintf("%s %.2f is %.2f standard deviations from baseline mean %.2f (threshold %.2f)",
			metricType, current, z, bl.mean, d.Threshold),
	}
}
