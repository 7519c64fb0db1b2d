package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// Timestamps are stored as RFC3339 UTC text so the schema and range queries
// behave identically under SQLite and Postgres.
const timeLayout = time.RFC3339Nano

func init() {
	// modernc.org/sqlite registers as "sqlite", which sqlx does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// schema defines the tables for the AI persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS insights (
    id               TEXT PRIMARY KEY,
    endpoint_id      INTEGER NOT NULL DEFAULT 1,
    container_id     TEXT NOT NULL DEFAULT '',
    container_name   TEXT NOT NULL DEFAULT '',
    severity         TEXT NOT NULL DEFAULT 'info',
    category         TEXT NOT NULL DEFAULT '',
    title            TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    suggested_action TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_created_at ON insights(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_insights_container ON insights(container_id);
CREATE INDEX IF NOT EXISTS idx_insights_category ON insights(category);

CREATE TABLE IF NOT EXISTS incidents (
    id                    TEXT PRIMARY KEY,
    title                 TEXT NOT NULL,
    severity              TEXT NOT NULL DEFAULT 'info',
    status                TEXT NOT NULL DEFAULT 'active',
    root_cause_insight_id TEXT NOT NULL DEFAULT '',
    related_insight_ids   TEXT NOT NULL DEFAULT '[]',
    affected_containers   TEXT NOT NULL DEFAULT '[]',
    correlation_type      TEXT NOT NULL DEFAULT '',
    confidence            TEXT NOT NULL DEFAULT 'low',
    insight_count         INTEGER NOT NULL DEFAULT 1,
    summary               TEXT NOT NULL DEFAULT '',
    created_at            TEXT NOT NULL,
    updated_at            TEXT NOT NULL,
    resolved_at           TEXT
);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_updated_at ON incidents(updated_at DESC);

CREATE TABLE IF NOT EXISTS investigations (
    id                   TEXT PRIMARY KEY,
    insight_id           TEXT NOT NULL DEFAULT '',
    endpoint_id          INTEGER NOT NULL DEFAULT 1,
    container_id         TEXT NOT NULL DEFAULT '',
    container_name       TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'pending',
    evidence_summary     TEXT NOT NULL DEFAULT '',
    evidence_archive_key TEXT NOT NULL DEFAULT '',
    root_cause           TEXT NOT NULL DEFAULT '',
    contributing_factors TEXT NOT NULL DEFAULT '[]',
    severity_assessment  TEXT NOT NULL DEFAULT '',
    recommended_actions  TEXT NOT NULL DEFAULT '[]',
    confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_ms          BIGINT NOT NULL DEFAULT 0,
    model_id             TEXT NOT NULL DEFAULT '',
    summary              TEXT NOT NULL DEFAULT '',
    error_message        TEXT NOT NULL DEFAULT '',
    created_at           TEXT NOT NULL,
    completed_at         TEXT
);
CREATE INDEX IF NOT EXISTS idx_investigations_container ON investigations(container_id, status);
CREATE INDEX IF NOT EXISTS idx_investigations_created_at ON investigations(created_at DESC);

CREATE TABLE IF NOT EXISTS actions (
    id               TEXT PRIMARY KEY,
    insight_id       TEXT NOT NULL DEFAULT '',
    endpoint_id      INTEGER NOT NULL DEFAULT 1,
    container_id     TEXT NOT NULL DEFAULT '',
    container_name   TEXT NOT NULL DEFAULT '',
    type             TEXT NOT NULL,
    rationale        TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending',
    approved_by      TEXT NOT NULL DEFAULT '',
    rejected_by      TEXT NOT NULL DEFAULT '',
    rejection_reason TEXT NOT NULL DEFAULT '',
    result           TEXT NOT NULL DEFAULT '',
    duration_ms      BIGINT NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    executed_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_actions_container ON actions(container_id, status);
CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);
CREATE INDEX IF NOT EXISTS idx_actions_created_at ON actions(created_at DESC);
`,
	},
}

// sqlStore is the sqlx-backed implementation of Store. The same code serves
// SQLite and Postgres; Rebind translates placeholders per driver.
type sqlStore struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured database and runs all pending schema
// migrations. dbType is "sqlite" (dsn is a file path, ":memory:" for an
// in-memory store) or "postgres" (dsn is a connection URL).
func Open(dbType, dsn string) (Store, error) {
	var driver string
	switch dbType {
	case "", "sqlite":
		driver = "sqlite"
	case "postgres":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// Enable WAL mode for better concurrency and performance.
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &sqlStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqlStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(s.db.Rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`),
			m.version, time.Now().UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Insights ─────────────────────────────────────────────────────────────────

type insightRow struct {
	ID              string `db:"id"`
	EndpointID      int    `db:"endpoint_id"`
	ContainerID     string `db:"container_id"`
	ContainerName   string `db:"container_name"`
	Severity        string `db:"severity"`
	Category        string `db:"category"`
	Title           string `db:"title"`
	Description     string `db:"description"`
	SuggestedAction string `db:"suggested_action"`
	CreatedAt       string `db:"created_at"`
}

func (r *insightRow) toModel() *models.Insight {
	created, _ := parseTime(r.CreatedAt)
	return &models.Insight{
		ID:              r.ID,
		EndpointID:      r.EndpointID,
		ContainerID:     r.ContainerID,
		ContainerName:   r.ContainerName,
		Severity:        models.Severity(r.Severity),
		Category:        r.Category,
		Title:           r.Title,
		Description:     r.Description,
		SuggestedAction: r.SuggestedAction,
		CreatedAt:       created,
	}
}

func (s *sqlStore) InsertInsight(ctx context.Context, in *models.Insight) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO insights(id, endpoint_id, container_id, container_name, severity, category, title, description, suggested_action, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `),
		in.ID, in.EndpointID, in.ContainerID, in.ContainerName, string(in.Severity),
		in.Category, in.Title, in.Description, in.SuggestedAction,
		in.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

func (s *sqlStore) GetInsight(ctx context.Context, id string) (*models.Insight, error) {
	var r insightRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT * FROM insights WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

func (s *sqlStore) ListInsights(ctx context.Context, q InsightQuery) ([]*models.Insight, error) {
	query := `SELECT * FROM insights WHERE 1=1`
	args := []any{}

	if q.ContainerID != "" {
		query += ` AND container_id = ?`
		args = append(args, q.ContainerID)
	}
	if q.Category != "" {
		query += ` AND category = ?`
		args = append(args, q.Category)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(q.Severity))
	}
	if !q.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.From.UTC().Format(timeLayout))
	}
	if !q.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, q.To.UTC().Format(timeLayout))
	}
	query += ` ORDER BY created_at DESC`
	query += limitClause(q.Limit, q.Offset, 50)

	var rows []insightRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	result := make([]*models.Insight, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

// ─── Incidents ────────────────────────────────────────────────────────────────

type incidentRow struct {
	ID                 string         `db:"id"`
	Title              string         `db:"title"`
	Severity           string         `db:"severity"`
	Status             string         `db:"status"`
	RootCauseInsightID string         `db:"root_cause_insight_id"`
	RelatedInsightIDs  string         `db:"related_insight_ids"`
	AffectedContainers string         `db:"affected_containers"`
	CorrelationType    string         `db:"correlation_type"`
	Confidence         string         `db:"confidence"`
	InsightCount       int            `db:"insight_count"`
	Summary            string         `db:"summary"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
	ResolvedAt         sql.NullString `db:"resolved_at"`
}

func (r *incidentRow) toModel() *models.Incident {
	created, _ := parseTime(r.CreatedAt)
	updated, _ := parseTime(r.UpdatedAt)
	inc := &models.Incident{
		ID:                 r.ID,
		Title:              r.Title,
		Severity:           models.Severity(r.Severity),
		Status:             models.IncidentStatus(r.Status),
		RootCauseInsightID: r.RootCauseInsightID,
		RelatedInsightIDs:  fromJSONList(r.RelatedInsightIDs),
		AffectedContainers: fromJSONList(r.AffectedContainers),
		CorrelationType:    r.CorrelationType,
		Confidence:         models.ConfidenceTier(r.Confidence),
		InsightCount:       r.InsightCount,
		Summary:            r.Summary,
		CreatedAt:          created,
		UpdatedAt:          updated,
	}
	if r.ResolvedAt.Valid {
		if t, err := parseTime(r.ResolvedAt.String); err == nil {
			inc.ResolvedAt = &t
		}
	}
	return inc
}

func (s *sqlStore) InsertIncident(ctx context.Context, inc *models.Incident) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO incidents(id, title, severity, status, root_cause_insight_id, related_insight_ids, affected_containers,
                              correlation_type, confidence, insight_count, summary, created_at, updated_at, resolved_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `),
		inc.ID, inc.Title, string(inc.Severity), string(inc.Status), inc.RootCauseInsightID,
		toJSONList(inc.RelatedInsightIDs), toJSONList(inc.AffectedContainers),
		inc.CorrelationType, string(inc.Confidence), inc.InsightCount, inc.Summary,
		inc.CreatedAt.UTC().Format(timeLayout), inc.UpdatedAt.UTC().Format(timeLayout),
		nullTime(inc.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        UPDATE incidents SET
            title = ?, severity = ?, status = ?, related_insight_ids = ?, affected_containers = ?,
            correlation_type = ?, confidence = ?, insight_count = ?, summary = ?, updated_at = ?, resolved_at = ?
        WHERE id = ?
    `),
		inc.Title, string(inc.Severity), string(inc.Status),
		toJSONList(inc.RelatedInsightIDs), toJSONList(inc.AffectedContainers),
		inc.CorrelationType, string(inc.Confidence), inc.InsightCount, inc.Summary,
		inc.UpdatedAt.UTC().Format(timeLayout), nullTime(inc.ResolvedAt),
		inc.ID,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

func (s *sqlStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	var r incidentRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT * FROM incidents WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

func (s *sqlStore) ListIncidents(ctx context.Context, q IncidentQuery) ([]*models.Incident, error) {
	query := `SELECT * FROM incidents WHERE 1=1`
	args := []any{}

	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if !q.UpdatedAfter.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, q.UpdatedAfter.UTC().Format(timeLayout))
	}
	if !q.UpdatedBefore.IsZero() {
		query += ` AND updated_at <= ?`
		args = append(args, q.UpdatedBefore.UTC().Format(timeLayout))
	}
	query += ` ORDER BY updated_at DESC`
	query += limitClause(q.Limit, q.Offset, 50)

	var rows []incidentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	result := make([]*models.Incident, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

// ─── Investigations ───────────────────────────────────────────────────────────

type investigationRow struct {
	ID                  string         `db:"id"`
	InsightID           string         `db:"insight_id"`
	EndpointID          int            `db:"endpoint_id"`
	ContainerID         string         `db:"container_id"`
	ContainerName       string         `db:"container_name"`
	Status              string         `db:"status"`
	EvidenceSummary     string         `db:"evidence_summary"`
	EvidenceArchiveKey  string         `db:"evidence_archive_key"`
	RootCause           string         `db:"root_cause"`
	ContributingFactors string         `db:"contributing_factors"`
	SeverityAssessment  string         `db:"severity_assessment"`
	RecommendedActions  string         `db:"recommended_actions"`
	Confidence          float64        `db:"confidence"`
	DurationMS          int64          `db:"duration_ms"`
	ModelID             string         `db:"model_id"`
	Summary             string         `db:"summary"`
	ErrorMessage        string         `db:"error_message"`
	CreatedAt           string         `db:"created_at"`
	CompletedAt         sql.NullString `db:"completed_at"`
}

func (r *investigationRow) toModel() *models.Investigation {
	created, _ := parseTime(r.CreatedAt)
	inv := &models.Investigation{
		ID:                  r.ID,
		InsightID:           r.InsightID,
		EndpointID:          r.EndpointID,
		ContainerID:         r.ContainerID,
		ContainerName:       r.ContainerName,
		Status:              models.InvestigationStatus(r.Status),
		EvidenceSummary:     r.EvidenceSummary,
		EvidenceArchiveKey:  r.EvidenceArchiveKey,
		RootCause:           r.RootCause,
		ContributingFactors: fromJSONList(r.ContributingFactors),
		SeverityAssessment:  r.SeverityAssessment,
		Confidence:          r.Confidence,
		DurationMS:          r.DurationMS,
		ModelID:             r.ModelID,
		Summary:             r.Summary,
		ErrorMessage:        r.ErrorMessage,
		CreatedAt:           created,
	}
	if r.RecommendedActions != "" {
		_ = json.Unmarshal([]byte(r.RecommendedActions), &inv.RecommendedActions)
	}
	if r.CompletedAt.Valid {
		if t, err := parseTime(r.CompletedAt.String); err == nil {
			inv.CompletedAt = &t
		}
	}
	return inv
}

func (s *sqlStore) InsertInvestigation(ctx context.Context, inv *models.Investigation) error {
	actions, err := json.Marshal(inv.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal recommended actions: %w", err)
	}
	if inv.RecommendedActions == nil {
		actions = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO investigations(id, insight_id, endpoint_id, container_id, container_name, status,
                                   evidence_summary, evidence_archive_key, root_cause, contributing_factors,
                                   severity_assessment, recommended_actions, confidence, duration_ms,
                                   model_id, summary, error_message, created_at, completed_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `),
		inv.ID, inv.InsightID, inv.EndpointID, inv.ContainerID, inv.ContainerName, string(inv.Status),
		inv.EvidenceSummary, inv.EvidenceArchiveKey, inv.RootCause, toJSONList(inv.ContributingFactors),
		inv.SeverityAssessment, string(actions), inv.Confidence, inv.DurationMS,
		inv.ModelID, inv.Summary, inv.ErrorMessage,
		inv.CreatedAt.UTC().Format(timeLayout), nullTime(inv.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert investigation: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateInvestigation(ctx context.Context, inv *models.Investigation) error {
	actions, err := json.Marshal(inv.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal recommended actions: %w", err)
	}
	if inv.RecommendedActions == nil {
		actions = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
        UPDATE investigations SET
            status = ?, evidence_summary = ?, evidence_archive_key = ?, root_cause = ?,
            contributing_factors = ?, severity_assessment = ?, recommended_actions = ?,
            confidence = ?, duration_ms = ?, model_id = ?, summary = ?, error_message = ?, completed_at = ?
        WHERE id = ?
    `),
		string(inv.Status), inv.EvidenceSummary, inv.EvidenceArchiveKey, inv.RootCause,
		toJSONList(inv.ContributingFactors), inv.SeverityAssessment, string(actions),
		inv.Confidence, inv.DurationMS, inv.ModelID, inv.Summary, inv.ErrorMessage,
		nullTime(inv.CompletedAt),
		inv.ID,
	)
	if err != nil {
		return fmt.Errorf("update investigation: %w", err)
	}
	return nil
}

func (s *sqlStore) GetInvestigation(ctx context.Context, id string) (*models.Investigation, error) {
	var r investigationRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT * FROM investigations WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

func (s *sqlStore) ListInvestigations(ctx context.Context, q InvestigationQuery) ([]*models.Investigation, error) {
	query := `SELECT * FROM investigations WHERE 1=1`
	args := []any{}

	if q.ContainerID != "" {
		query += ` AND container_id = ?`
		args = append(args, q.ContainerID)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if !q.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.CreatedAfter.UTC().Format(timeLayout))
	}
	query += ` ORDER BY created_at DESC`
	query += limitClause(q.Limit, q.Offset, 50)

	var rows []investigationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	result := make([]*models.Investigation, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

func (s *sqlStore) LatestInvestigation(ctx context.Context, containerID string, status models.InvestigationStatus) (*models.Investigation, error) {
	var r investigationRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(
		`SELECT * FROM investigations WHERE container_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`),
		containerID, string(status))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

// ─── Actions ──────────────────────────────────────────────────────────────────

type actionRow struct {
	ID              string         `db:"id"`
	InsightID       string         `db:"insight_id"`
	EndpointID      int            `db:"endpoint_id"`
	ContainerID     string         `db:"container_id"`
	ContainerName   string         `db:"container_name"`
	Type            string         `db:"type"`
	Rationale       string         `db:"rationale"`
	Status          string         `db:"status"`
	ApprovedBy      string         `db:"approved_by"`
	RejectedBy      string         `db:"rejected_by"`
	RejectionReason string         `db:"rejection_reason"`
	Result          string         `db:"result"`
	DurationMS      int64          `db:"duration_ms"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
	ExecutedAt      sql.NullString `db:"executed_at"`
}

func (r *actionRow) toModel() *models.Action {
	created, _ := parseTime(r.CreatedAt)
	updated, _ := parseTime(r.UpdatedAt)
	a := &models.Action{
		ID:              r.ID,
		InsightID:       r.InsightID,
		EndpointID:      r.EndpointID,
		ContainerID:     r.ContainerID,
		ContainerName:   r.ContainerName,
		Type:            models.ActionType(r.Type),
		Rationale:       r.Rationale,
		Status:          models.ActionStatus(r.Status),
		ApprovedBy:      r.ApprovedBy,
		RejectedBy:      r.RejectedBy,
		RejectionReason: r.RejectionReason,
		Result:          r.Result,
		DurationMS:      r.DurationMS,
		CreatedAt:       created,
		UpdatedAt:       updated,
	}
	if r.ExecutedAt.Valid {
		if t, err := parseTime(r.ExecutedAt.String); err == nil {
			a.ExecutedAt = &t
		}
	}
	return a
}

func (s *sqlStore) InsertAction(ctx context.Context, a *models.Action) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO actions(id, insight_id, endpoint_id, container_id, container_name, type, rationale, status,
                            approved_by, rejected_by, rejection_reason, result, duration_ms, created_at, updated_at, executed_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `),
		a.ID, a.InsightID, a.EndpointID, a.ContainerID, a.ContainerName, string(a.Type), a.Rationale, string(a.Status),
		a.ApprovedBy, a.RejectedBy, a.RejectionReason, a.Result, a.DurationMS,
		a.CreatedAt.UTC().Format(timeLayout), a.UpdatedAt.UTC().Format(timeLayout), nullTime(a.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateAction(ctx context.Context, a *models.Action) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        UPDATE actions SET
            status = ?, approved_by = ?, rejected_by = ?, rejection_reason = ?,
            result = ?, duration_ms = ?, updated_at = ?, executed_at = ?
        WHERE id = ?
    `),
		string(a.Status), a.ApprovedBy, a.RejectedBy, a.RejectionReason,
		a.Result, a.DurationMS, a.UpdatedAt.UTC().Format(timeLayout), nullTime(a.ExecutedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAction(ctx context.Context, id string) (*models.Action, error) {
	var r actionRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT * FROM actions WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

func (s *sqlStore) ListActions(ctx context.Context, q ActionQuery) ([]*models.Action, error) {
	query := `SELECT * FROM actions WHERE 1=1`
	args := []any{}

	if q.ContainerID != "" {
		query += ` AND container_id = ?`
		args = append(args, q.ContainerID)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(q.Type))
	}
	query += ` ORDER BY created_at DESC`
	query += limitClause(q.Limit, q.Offset, 50)

	var rows []actionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	result := make([]*models.Action, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

func (s *sqlStore) HasPendingAction(ctx context.Context, containerID string, actionType models.ActionType) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(
		`SELECT COUNT(*) FROM actions WHERE container_id = ? AND type = ? AND status IN (?, ?)`),
		containerID, string(actionType), string(models.ActionPending), string(models.ActionApproved))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func limitClause(limit, offset, fallback int) string {
	if limit <= 0 {
		limit = fallback
	}
	return fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
}

func toJSONList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func fromJSONList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// parseTime handles multiple stored datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
