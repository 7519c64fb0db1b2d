package detect

import (
	"math"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// Adaptive routes between z-score and Bollinger based on how dispersed
// the window is: stable series get the sharper z-score test, noisy
// series get the more tolerant band test.
type Adaptive struct {
	ZScore     *ZScore
	Bollinger  *Bollinger
	Dispersion float64 // coefficient-of-variation cutoff
	MinSamples int
}

// NewAdaptive builds an adaptive detector around the two inner
// detectors. Non-positive arguments fall back to the package defaults.
func NewAdaptive(zscore *ZScore, bollinger *Bollinger, dispersion float64, minSamples int) *Adaptive {
	if dispersion <= 0 {
		dispersion = DefaultAdaptiveDispersion
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Adaptive{
		ZScore:     zscore,
		Bollinger:  bollinger,
		Dispersion: dispersion,
		MinSamples: minSamples,
	}
}

// Name returns "adaptive".
func (d *Adaptive) Name() string { return "adaptive" }

// Evaluate measures the dispersion of the preceding samples and
// delegates to the matching inner detector. Returns nil below the
// minimum sample floor regardless of which detector would run.
func (d *Adaptive) Evaluate(resourceID, metricType string, samples []models.MetricSample) *Verdict {
	if len(samples) < d.MinSamples {
		return nil
	}

	bl := computeBaseline(values(samples[:len(samples)-1]))
	if stableDispersion(bl, d.Dispersion) {
		return d.ZScore.Evaluate(resourceID, metricType, samples)
	}
	return d.Bollinger.Evaluate(resourceID, metricType, samples)
}

// stableDispersion reports whether the window's coefficient of
// variation sits at or below the cutoff. Zero variance counts as
// stable; a zero mean with spread does not.
func stableDispersion(bl baseline, cutoff float64) bool {
	if bl.stdDev == 0 {
		return true
	}
	if bl.mean == 0 {
		return false
	}
	return bl.stdDev/math.Abs(bl.mean) <= cutoff
}
