package detect

import (
	"fmt"
	"math"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// Bollinger flags the newest sample when it falls outside the
// mean ± K·stddev band computed over a trailing window.
type Bollinger struct {
	K          float64
	Window     int
	MinSamples int
}

// NewBollinger builds a Bollinger band detector. Non-positive
// arguments fall back to the package defaults.
func NewBollinger(k float64, window, minSamples int) *Bollinger {
	if k <= 0 {
		k = DefaultBollingerK
	}
	if window <= 0 {
		window = DefaultBollingerWindow
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Bollinger{K: k, Window: window, MinSamples: minSamples}
}

// Name returns "bollinger".
func (d *Bollinger) Name() string { return "bollinger" }

// Evaluate compares the newest sample against bands over the trailing
// Window preceding samples. Returns nil below the minimum sample floor.
func (d *Bollinger) Evaluate(resourceID, metricType string, samples []models.MetricSample) *Verdict {
	if len(samples) < d.MinSamples {
		return nil
	}

	current := samples[len(samples)-1].Value
	history := samples[:len(samples)-1]
	if len(history) > d.Window {
		history = history[len(history)-d.Window:]
	}

	bl := computeBaseline(values(history))
	if bl.stdDev == 0 {
		return &Verdict{Description: "zero variance in baseline"}
	}

	upper := bl.mean + d.K*bl.stdDev
	lower := bl.mean - d.K*bl.stdDev
	if current >= lower && current <= upper {
		return &Verdict{Description: "value within bands"}
	}

	ratio := math.Abs(current-bl.mean) / (d.K * bl.stdDev)
	return &Verdict{
		IsAnomalous: true,
		Severity:    severityForRatio(ratio),
		Description: fmt.Sprintf("%s %.2f outside band [%.2f, %.2f] (mean %.2f over %d samples)",
			metricType, current, lower, upper, bl.mean, bl.count),
	}
}
