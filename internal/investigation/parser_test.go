package investigation

import (
	"strings"
	"testing"
)

const goodAnalysis = `{
  "root_cause": "memory limit exceeded under load",
  "contributing_factors": ["burst traffic", "no memory headroom"],
  "severity_assessment": "critical: the container cannot stay up",
  "recommended_actions": [
    {"action": "add request backpressure", "priority": 2, "rationale": "smooths bursts"},
    {"action": "raise the memory limit", "priority": 1, "rationale": "removes the kill trigger"}
  ],
  "confidence": 0.85,
  "summary": "the container was OOM killed after sustained memory growth"
}`

func TestParseAnalysisBareJSON(t *testing.T) {
	a, err := ParseAnalysis(goodAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	if a.RootCause != "memory limit exceeded under load" {
		t.Errorf("root cause = %q", a.RootCause)
	}
	if a.Confidence != 0.85 {
		t.Errorf("confidence = %v", a.Confidence)
	}
	if len(a.ContributingFactors) != 2 {
		t.Errorf("factors = %v", a.ContributingFactors)
	}
}

func TestParseAnalysisSortsActionsByPriority(t *testing.T) {
	a, err := ParseAnalysis(goodAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.RecommendedActions) != 2 {
		t.Fatalf("actions = %d, want 2", len(a.RecommendedActions))
	}
	if a.RecommendedActions[0].Priority != 1 || a.RecommendedActions[1].Priority != 2 {
		t.Errorf("actions not ranked: %+v", a.RecommendedActions)
	}
	if a.RecommendedActions[0].Action != "raise the memory limit" {
		t.Errorf("top action = %q", a.RecommendedActions[0].Action)
	}
}

func TestParseAnalysisCodeFenced(t *testing.T) {
	fenced := "Here is my analysis:\n```json\n" + goodAnalysis + "\n```\nLet me know if you need more."
	a, err := ParseAnalysis(fenced)
	if err != nil {
		t.Fatal(err)
	}
	if a.RootCause == "" {
		t.Error("fenced JSON not extracted")
	}
}

func TestParseAnalysisSurroundingProse(t *testing.T) {
	prose := "Based on the evidence, I conclude the following.\n" + goodAnalysis + "\nEnd of analysis."
	if _, err := ParseAnalysis(prose); err != nil {
		t.Fatal(err)
	}
}

func TestParseAnalysisRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no json at all", "I think the container is unhealthy but I cannot say why."},
		{"empty reply", ""},
		{"broken syntax", `{"root_cause": "x", "severity_assessment": }`},
		{"missing root cause", `{"severity_assessment": "bad", "recommended_actions": [{"action": "restart", "priority": 1, "rationale": "r"}], "confidence": 0.5}`},
		{"blank root cause", `{"root_cause": "  ", "severity_assessment": "bad", "recommended_actions": [{"action": "restart", "priority": 1, "rationale": "r"}], "confidence": 0.5}`},
		{"missing severity assessment", `{"root_cause": "x", "recommended_actions": [{"action": "restart", "priority": 1, "rationale": "r"}], "confidence": 0.5}`},
		{"no recommended actions", `{"root_cause": "x", "severity_assessment": "bad", "recommended_actions": [], "confidence": 0.5}`},
		{"action without text", `{"root_cause": "x", "severity_assessment": "bad", "recommended_actions": [{"action": "", "priority": 1, "rationale": "r"}], "confidence": 0.5}`},
		{"zero priority", `{"root_cause": "x", "severity_assessment": "bad", "recommended_actions": [{"action": "restart", "priority": 0, "rationale": "r"}], "confidence": 0.5}`},
		{"confidence above one", `{"root_cause": "x", "severity_assessment": "bad", "recommended_actions": [{"action": "restart", "priority": 1, "rationale": "r"}], "confidence": 1.5}`},
		{"negative confidence", `{"root_cause": "x", "severity_assessment": "bad", "recommended_actions": [{"action": "restart", "priority": 1, "rationale": "r"}], "confidence": -0.1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := ParseAnalysis(tc.text)
			if err == nil {
				t.Fatalf("malformed analysis accepted: %+v", a)
			}
			if err.Error() == "" {
				t.Error("rejection carries no message")
			}
		})
	}
}

func TestExtractJSONBlock(t *testing.T) {
	got, ok := extractJSONBlock("noise {\"a\": 1} trailing")
	if !ok || got != `{"a": 1}` {
		t.Errorf("extract = %q, %v", got, ok)
	}

	if _, ok := extractJSONBlock("} backwards {"); ok {
		t.Error("reversed braces accepted")
	}
	if _, ok := extractJSONBlock(strings.Repeat("x", 50)); ok {
		t.Error("braceless text accepted")
	}
}
