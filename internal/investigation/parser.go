package investigation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// Analysis is the structured result the reasoning step must produce.
type Analysis struct {
	RootCause           string                     `json:"root_cause"`
	ContributingFactors []string                   `json:"contributing_factors"`
	SeverityAssessment  string                     `json:"severity_assessment"`
	RecommendedActions  []models.RecommendedAction `json:"recommended_actions"`
	Confidence          float64                    `json:"confidence"`
	Summary             string                     `json:"summary"`
}

// ParseAnalysis extracts and validates the structured analysis from
// the model's reply. Any missing required field, out-of-range
// confidence, or unrankable action list is an error: malformed output
// fails the investigation rather than being patched into defaults.
func ParseAnalysis(text string) (*Analysis, error) {
	block, ok := extractJSONBlock(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in reply (%d chars)", len(text))
	}

	var a Analysis
	if err := json.Unmarshal([]byte(block), &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	if strings.TrimSpace(a.RootCause) == "" {
		return nil, fmt.Errorf("analysis missing root_cause")
	}
	if strings.TrimSpace(a.SeverityAssessment) == "" {
		return nil, fmt.Errorf("analysis missing severity_assessment")
	}
	if len(a.RecommendedActions) == 0 {
		return nil, fmt.Errorf("analysis missing recommended_actions")
	}
	for i, ra := range a.RecommendedActions {
		if strings.TrimSpace(ra.Action) == "" {
			return nil, fmt.Errorf("recommended action %d has no action text", i)
		}
		if ra.Priority < 1 {
			return nil, fmt.Errorf("recommended action %d has invalid priority %d", i, ra.Priority)
		}
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", a.Confidence)
	}

	sort.SliceStable(a.RecommendedActions, func(i, j int) bool {
		return a.RecommendedActions[i].Priority < a.RecommendedActions[j].Priority
	})
	return &a, nil
}

// extractJSONBlock strips optional markdown fences and returns the
// outermost JSON object found in the reply. Handles:
//   - Bare JSON:   { ... }
//   - Code-fenced: ```json\n{ ... }\n```  or  ```\n{ ... }\n```
func extractJSONBlock(text string) (string, bool) {
	stripped := text
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if idx := strings.Index(stripped, fence); idx != -1 {
			stripped = stripped[idx+len(fence):]
			if end := strings.Index(stripped, "```"); end != -1 {
				stripped = stripped[:end]
			}
			break
		}
	}

	start := strings.Index(stripped, "{")
	end := strings.LastIndex(stripped, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return stripped[start : end+1], true
}
