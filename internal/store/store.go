package store

import (
	"context"
	"time"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// Store is the main persistence interface for the AI layer.
type Store interface {
	InsightStore
	IncidentStore
	InvestigationStore
	ActionStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Insight store ────────────────────────────────────────────────────────────

// InsightQuery filters insight queries.
type InsightQuery struct {
	ContainerID string
	Category    string
	Severity    models.Severity
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// InsightStore persists detection insights.
type InsightStore interface {
	// InsertInsight stores a newly emitted insight.
	InsertInsight(ctx context.Context, in *models.Insight) error

	// GetInsight retrieves a single insight by ID.
	GetInsight(ctx context.Context, id string) (*models.Insight, error)

	// ListInsights retrieves insights with optional filters, newest first.
	ListInsights(ctx context.Context, q InsightQuery) ([]*models.Insight, error)
}

// ─── Incident store ───────────────────────────────────────────────────────────

// IncidentQuery filters incident queries.
type IncidentQuery struct {
	Status models.IncidentStatus

	// UpdatedAfter restricts results to incidents touched after the cutoff.
	// Used by the correlator to bound its lookback window.
	UpdatedAfter time.Time

	// UpdatedBefore restricts results to incidents untouched since the cutoff.
	// Used by the staleness sweep to find auto-resolvable incidents.
	UpdatedBefore time.Time

	Limit  int
	Offset int
}

// IncidentStore persists correlated incidents.
type IncidentStore interface {
	// InsertIncident stores a newly seeded incident.
	InsertIncident(ctx context.Context, inc *models.Incident) error

	// UpdateIncident overwrites the mutable fields of an incident.
	UpdateIncident(ctx context.Context, inc *models.Incident) error

	// GetIncident retrieves a single incident by ID.
	GetIncident(ctx context.Context, id string) (*models.Incident, error)

	// ListIncidents retrieves incidents with optional filters, newest first.
	ListIncidents(ctx context.Context, q IncidentQuery) ([]*models.Incident, error)
}

// ─── Investigation store ──────────────────────────────────────────────────────

// InvestigationQuery filters investigation queries.
type InvestigationQuery struct {
	ContainerID  string
	Status       models.InvestigationStatus
	CreatedAfter time.Time
	Limit        int
	Offset       int
}

// InvestigationStore persists investigation sessions.
type InvestigationStore interface {
	// InsertInvestigation creates an investigation record.
	InsertInvestigation(ctx context.Context, inv *models.Investigation) error

	// UpdateInvestigation overwrites the mutable fields of an investigation.
	UpdateInvestigation(ctx context.Context, inv *models.Investigation) error

	// GetInvestigation retrieves an investigation by ID.
	GetInvestigation(ctx context.Context, id string) (*models.Investigation, error)

	// ListInvestigations retrieves investigations with optional filters, newest first.
	ListInvestigations(ctx context.Context, q InvestigationQuery) ([]*models.Investigation, error)

	// LatestInvestigation returns the most recent investigation for a container
	// in the given status. Returns nil, nil when none exists.
	LatestInvestigation(ctx context.Context, containerID string, status models.InvestigationStatus) (*models.Investigation, error)
}

// ─── Action store ─────────────────────────────────────────────────────────────

// ActionQuery filters remediation action queries.
type ActionQuery struct {
	ContainerID string
	Status      models.ActionStatus
	Type        models.ActionType
	Limit       int
	Offset      int
}

// ActionStore persists remediation actions.
type ActionStore interface {
	// InsertAction stores a newly proposed action.
	InsertAction(ctx context.Context, a *models.Action) error

	// UpdateAction overwrites the mutable fields of an action.
	UpdateAction(ctx context.Context, a *models.Action) error

	// GetAction retrieves an action by ID.
	GetAction(ctx context.Context, id string) (*models.Action, error)

	// ListActions retrieves actions with optional filters, newest first.
	ListActions(ctx context.Context, q ActionQuery) ([]*models.Action, error)

	// HasPendingAction reports whether an unresolved action of the given type
	// already exists for a container. Pending and approved actions both count:
	// neither has run yet, so proposing another would duplicate it.
	HasPendingAction(ctx context.Context, containerID string, actionType models.ActionType) (bool, error)
}
