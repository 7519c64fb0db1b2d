package models

import "time"

// Package models defines the core data types shared across stackwatch-ai.
//
// These types flow through the whole pipeline: detectors produce verdicts
// that become Insights, the correlator groups Insights into Incidents, the
// investigation orchestrator attaches an Investigation to an Insight, and
// the remediation advisor proposes Actions. Records here are persistence-
// agnostic; the store layer maps them to SQL.

// Severity classifies how urgent an observation is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// MaxSeverity returns the more urgent of two severities. Unknown values
// rank below info so malformed input can never escalate an incident.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

// MetricSample is a single observed value for one metric of one resource.
type MetricSample struct {
	ResourceID string    `json:"resource_id"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// MetricStats is a moving-average summary over a sample window.
type MetricStats struct {
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	SampleCount int     `json:"sample_count"`
}

// Insight is a single detected noteworthy condition about a resource.
// Immutable once created; correlation only links to it, never edits it.
type Insight struct {
	ID              string    `json:"id"`
	EndpointID      int       `json:"endpoint_id"`
	ContainerID     string    `json:"container_id,omitempty"`   // empty for fleet-wide insights
	ContainerName   string    `json:"container_name,omitempty"` // empty for fleet-wide insights
	Severity        Severity  `json:"severity"`
	Category        string    `json:"category"` // anomaly kind, e.g. "cpu_anomaly", "oom"
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// FleetWide reports whether the insight is not tied to a single container.
func (i *Insight) FleetWide() bool {
	return i.ContainerID == "" && i.ContainerName == ""
}

// IncidentStatus is the lifecycle state of an Incident.
type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentResolved IncidentStatus = "resolved"
)

// ConfidenceTier grades how sure the correlator is about an attachment.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// Incident is a causal grouping of one or more Insights.
//
// Invariant: InsightCount == len(RelatedInsightIDs) + 1, the +1 being the
// root-cause insight.
type Incident struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Severity           Severity       `json:"severity"` // max of constituent insights
	Status             IncidentStatus `json:"status"`
	RootCauseInsightID string         `json:"root_cause_insight_id"`
	RelatedInsightIDs  []string       `json:"related_insight_ids"`
	AffectedContainers []string       `json:"affected_containers"`
	CorrelationType    string         `json:"correlation_type"` // "resource", "similarity", "temporal"
	Confidence         ConfidenceTier `json:"confidence"`
	InsightCount       int            `json:"insight_count"`
	Summary            string         `json:"summary,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
}

// InvestigationStatus is the state machine position of an Investigation.
//
//	pending → gathering → analyzing → complete | failed
//
// complete and failed are terminal.
type InvestigationStatus string

const (
	InvestigationPending   InvestigationStatus = "pending"
	InvestigationGathering InvestigationStatus = "gathering"
	InvestigationAnalyzing InvestigationStatus = "analyzing"
	InvestigationComplete  InvestigationStatus = "complete"
	InvestigationFailed    InvestigationStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s InvestigationStatus) Terminal() bool {
	return s == InvestigationComplete || s == InvestigationFailed
}

// RecommendedAction is one ranked remediation suggestion from an
// investigation's reasoning step.
type RecommendedAction struct {
	Action    string `json:"action"`
	Priority  int    `json:"priority"` // 1 = highest
	Rationale string `json:"rationale"`
}

// Investigation is an asynchronous root-cause analysis tied to one Insight.
type Investigation struct {
	ID                  string              `json:"id"`
	InsightID           string              `json:"insight_id"`
	EndpointID          int                 `json:"endpoint_id"`
	ContainerID         string              `json:"container_id,omitempty"`
	ContainerName       string              `json:"container_name,omitempty"`
	Status              InvestigationStatus `json:"status"`
	EvidenceSummary     string              `json:"evidence_summary,omitempty"`
	EvidenceArchiveKey  string              `json:"evidence_archive_key,omitempty"`
	RootCause           string              `json:"root_cause,omitempty"`
	ContributingFactors []string            `json:"contributing_factors,omitempty"`
	SeverityAssessment  string              `json:"severity_assessment,omitempty"`
	RecommendedActions  []RecommendedAction `json:"recommended_actions,omitempty"`
	Confidence          float64             `json:"confidence"` // 0..1
	DurationMS          int64               `json:"duration_ms"`
	ModelID             string              `json:"model_id,omitempty"`
	Summary             string              `json:"summary,omitempty"`
	ErrorMessage        string              `json:"error_message,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	CompletedAt         *time.Time          `json:"completed_at,omitempty"`
}

// ActionType is the closed set of platform operations an Action may request.
type ActionType string

const (
	ActionStopContainer    ActionType = "STOP_CONTAINER"
	ActionRestartContainer ActionType = "RESTART_CONTAINER"
	ActionStartContainer   ActionType = "START_CONTAINER"
)

// ActionStatus is the approval/execution state of a remediation Action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionApproved  ActionStatus = "approved"
	ActionRejected  ActionStatus = "rejected"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// Action is a proposed, human-gated remediation operation.
type Action struct {
	ID              string       `json:"id"`
	InsightID       string       `json:"insight_id,omitempty"`
	EndpointID      int          `json:"endpoint_id"`
	ContainerID     string       `json:"container_id"`
	ContainerName   string       `json:"container_name,omitempty"`
	Type            ActionType   `json:"type"`
	Rationale       string       `json:"rationale,omitempty"`
	Status          ActionStatus `json:"status"`
	ApprovedBy      string       `json:"approved_by,omitempty"`
	RejectedBy      string       `json:"rejected_by,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	Result          string       `json:"result,omitempty"`
	DurationMS      int64        `json:"duration_ms,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ExecutedAt      *time.Time   `json:"executed_at,omitempty"`
}
