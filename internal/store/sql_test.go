package store

import (
	"context"
	"testing"
	"time"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Insights ─────────────────────────────────────────────────────────────────

func TestInsightInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &models.Insight{
		ID:              "ins-001",
		EndpointID:      1,
		ContainerID:     "abc123",
		ContainerName:   "web-frontend",
		Severity:        models.SeverityWarning,
		Category:        "cpu_spike",
		Title:           "CPU usage spike on web-frontend",
		Description:     "CPU at 92.5%, 3.1 standard deviations above the mean",
		SuggestedAction: "Inspect recent deployments",
		CreatedAt:       time.Now().Round(time.Second),
	}

	if err := s.InsertInsight(ctx, in); err != nil {
		t.Fatalf("InsertInsight: %v", err)
	}

	got, err := s.GetInsight(ctx, "ins-001")
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if got.Title != in.Title {
		t.Errorf("expected title %q, got %q", in.Title, got.Title)
	}
	if got.Severity != models.SeverityWarning {
		t.Errorf("expected severity warning, got %s", got.Severity)
	}
	if got.ContainerName != "web-frontend" {
		t.Errorf("expected container web-frontend, got %s", got.ContainerName)
	}
}

func TestListInsightsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)
	insights := []*models.Insight{
		{ID: "i1", ContainerID: "c1", ContainerName: "api", Severity: models.SeverityCritical, Category: "memory_leak", Title: "Memory climbing", CreatedAt: now},
		{ID: "i2", ContainerID: "c1", ContainerName: "api", Severity: models.SeverityWarning, Category: "cpu_spike", Title: "CPU spike", CreatedAt: now.Add(time.Second)},
		{ID: "i3", ContainerID: "c2", ContainerName: "db", Severity: models.SeverityWarning, Category: "cpu_spike", Title: "CPU spike", CreatedAt: now.Add(2 * time.Second)},
	}
	for _, in := range insights {
		if err := s.InsertInsight(ctx, in); err != nil {
			t.Fatalf("InsertInsight %s: %v", in.ID, err)
		}
	}

	byContainer, err := s.ListInsights(ctx, InsightQuery{ContainerID: "c1", Limit: 10})
	if err != nil {
		t.Fatalf("ListInsights by container: %v", err)
	}
	if len(byContainer) != 2 {
		t.Errorf("expected 2 insights for c1, got %d", len(byContainer))
	}

	byCategory, err := s.ListInsights(ctx, InsightQuery{Category: "memory_leak", Limit: 10})
	if err != nil {
		t.Fatalf("ListInsights by category: %v", err)
	}
	if len(byCategory) != 1 {
		t.Errorf("expected 1 memory_leak insight, got %d", len(byCategory))
	}

	bySeverity, err := s.ListInsights(ctx, InsightQuery{Severity: models.SeverityWarning, Limit: 10})
	if err != nil {
		t.Fatalf("ListInsights by severity: %v", err)
	}
	if len(bySeverity) != 2 {
		t.Errorf("expected 2 warning insights, got %d", len(bySeverity))
	}

	// Newest first
	all, err := s.ListInsights(ctx, InsightQuery{Limit: 10})
	if err != nil {
		t.Fatalf("ListInsights all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 insights, got %d", len(all))
	}
	if all[0].ID != "i3" {
		t.Errorf("expected newest insight first, got %s", all[0].ID)
	}
}

// ─── Incidents ────────────────────────────────────────────────────────────────

func TestIncidentInsertUpdateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)
	inc := &models.Incident{
		ID:                 "inc-001",
		Title:              "Memory pressure on api",
		Severity:           models.SeverityWarning,
		Status:             models.IncidentActive,
		RootCauseInsightID: "i1",
		AffectedContainers: []string{"c1"},
		CorrelationType:    "resource",
		Confidence:         models.ConfidenceHigh,
		InsightCount:       1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	// Attach a second insight
	inc.RelatedInsightIDs = append(inc.RelatedInsightIDs, "i2")
	inc.InsightCount = 2
	inc.Severity = models.SeverityCritical
	inc.UpdatedAt = now.Add(time.Minute)
	if err := s.UpdateIncident(ctx, inc); err != nil {
		t.Fatalf("UpdateIncident: %v", err)
	}

	got, err := s.GetIncident(ctx, "inc-001")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if got.InsightCount != 2 {
		t.Errorf("expected insight count 2, got %d", got.InsightCount)
	}
	if len(got.RelatedInsightIDs) != 1 || got.RelatedInsightIDs[0] != "i2" {
		t.Errorf("expected related insights [i2], got %v", got.RelatedInsightIDs)
	}
	if got.Severity != models.SeverityCritical {
		t.Errorf("expected escalated severity critical, got %s", got.Severity)
	}
	if got.ResolvedAt != nil {
		t.Error("expected nil resolved_at for active incident")
	}

	// Resolve
	resolved := now.Add(2 * time.Minute)
	got.Status = models.IncidentResolved
	got.ResolvedAt = &resolved
	got.UpdatedAt = resolved
	if err := s.UpdateIncident(ctx, got); err != nil {
		t.Fatalf("UpdateIncident resolve: %v", err)
	}

	got, err = s.GetIncident(ctx, "inc-001")
	if err != nil {
		t.Fatalf("GetIncident after resolve: %v", err)
	}
	if got.Status != models.IncidentResolved {
		t.Errorf("expected status resolved, got %s", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("expected non-nil resolved_at after resolve")
	}
}

func TestListIncidentsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)
	incidents := []*models.Incident{
		{ID: "old", Title: "old", Status: models.IncidentActive, InsightCount: 1, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "recent", Title: "recent", Status: models.IncidentActive, InsightCount: 1, CreatedAt: now.Add(-5 * time.Minute), UpdatedAt: now.Add(-5 * time.Minute)},
		{ID: "resolved", Title: "resolved", Status: models.IncidentResolved, InsightCount: 1, CreatedAt: now, UpdatedAt: now},
	}
	for _, inc := range incidents {
		if err := s.InsertIncident(ctx, inc); err != nil {
			t.Fatalf("InsertIncident %s: %v", inc.ID, err)
		}
	}

	// Correlator lookback: active incidents updated within 30 minutes
	active, err := s.ListIncidents(ctx, IncidentQuery{
		Status:       models.IncidentActive,
		UpdatedAfter: now.Add(-30 * time.Minute),
		Limit:        10,
	})
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(active) != 1 || active[0].ID != "recent" {
		t.Errorf("expected only 'recent' in lookback window, got %d results", len(active))
	}

	// Staleness sweep: active incidents untouched for an hour
	stale, err := s.ListIncidents(ctx, IncidentQuery{
		Status:        models.IncidentActive,
		UpdatedBefore: now.Add(-time.Hour),
		Limit:         10,
	})
	if err != nil {
		t.Fatalf("ListIncidents stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Errorf("expected only 'old' past staleness cutoff, got %d results", len(stale))
	}
}

// ─── Investigations ───────────────────────────────────────────────────────────

func TestInvestigationLifecyclePersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)
	inv := &models.Investigation{
		ID:            "inv-001",
		InsightID:     "ins-001",
		EndpointID:    1,
		ContainerID:   "abc123",
		ContainerName: "web-frontend",
		Status:        models.InvestigationPending,
		CreatedAt:     now,
	}

	if err := s.InsertInvestigation(ctx, inv); err != nil {
		t.Fatalf("InsertInvestigation: %v", err)
	}

	completed := now.Add(30 * time.Second)
	inv.Status = models.InvestigationComplete
	inv.RootCause = "Container exceeds its memory limit under load"
	inv.ContributingFactors = []string{"burst traffic", "small heap limit"}
	inv.RecommendedActions = []models.RecommendedAction{
		{Action: "Raise the memory limit", Priority: 1, Rationale: "Sustained usage near the cap"},
		{Action: "Restart the container", Priority: 2, Rationale: "Clears fragmented heap"},
	}
	inv.Confidence = 0.85
	inv.DurationMS = 30000
	inv.CompletedAt = &completed
	if err := s.UpdateInvestigation(ctx, inv); err != nil {
		t.Fatalf("UpdateInvestigation: %v", err)
	}

	got, err := s.GetInvestigation(ctx, "inv-001")
	if err != nil {
		t.Fatalf("GetInvestigation: %v", err)
	}
	if got.Status != models.InvestigationComplete {
		t.Errorf("expected status complete, got %s", got.Status)
	}
	if len(got.RecommendedActions) != 2 {
		t.Fatalf("expected 2 recommended actions, got %d", len(got.RecommendedActions))
	}
	if got.RecommendedActions[0].Priority != 1 {
		t.Errorf("expected first action priority 1, got %d", got.RecommendedActions[0].Priority)
	}
	if got.Confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %f", got.Confidence)
	}
	if got.CompletedAt == nil {
		t.Error("expected non-nil completed_at")
	}
}

func TestLatestInvestigation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No investigations yet
	got, err := s.LatestInvestigation(ctx, "abc123", models.InvestigationComplete)
	if err != nil {
		t.Fatalf("LatestInvestigation empty: %v", err)
	}
	if got != nil {
		t.Error("expected nil for container with no investigations")
	}

	now := time.Now().Round(time.Second)
	for i, id := range []string{"inv-a", "inv-b"} {
		inv := &models.Investigation{
			ID:          id,
			ContainerID: "abc123",
			Status:      models.InvestigationComplete,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertInvestigation(ctx, inv); err != nil {
			t.Fatalf("InsertInvestigation %s: %v", id, err)
		}
	}

	got, err = s.LatestInvestigation(ctx, "abc123", models.InvestigationComplete)
	if err != nil {
		t.Fatalf("LatestInvestigation: %v", err)
	}
	if got == nil || got.ID != "inv-b" {
		t.Errorf("expected most recent investigation inv-b, got %+v", got)
	}
}

// ─── Actions ──────────────────────────────────────────────────────────────────

func TestActionInsertUpdateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)
	a := &models.Action{
		ID:            "act-001",
		InsightID:     "ins-001",
		EndpointID:    1,
		ContainerID:   "abc123",
		ContainerName: "web-frontend",
		Type:          models.ActionRestartContainer,
		Rationale:     "Container failing health checks",
		Status:        models.ActionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.InsertAction(ctx, a); err != nil {
		t.Fatalf("InsertAction: %v", err)
	}

	executed := now.Add(time.Minute)
	a.Status = models.ActionCompleted
	a.ApprovedBy = "admin"
	a.Result = "container restarted"
	a.DurationMS = 2100
	a.ExecutedAt = &executed
	a.UpdatedAt = executed
	if err := s.UpdateAction(ctx, a); err != nil {
		t.Fatalf("UpdateAction: %v", err)
	}

	got, err := s.GetAction(ctx, "act-001")
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	if got.Status != models.ActionCompleted {
		t.Errorf("expected status completed, got %s", got.Status)
	}
	if got.ApprovedBy != "admin" {
		t.Errorf("expected approver admin, got %s", got.ApprovedBy)
	}
	if got.DurationMS != 2100 {
		t.Errorf("expected duration 2100ms, got %d", got.DurationMS)
	}
	if got.ExecutedAt == nil {
		t.Error("expected non-nil executed_at")
	}
}

func TestHasPendingAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)

	has, err := s.HasPendingAction(ctx, "abc123", models.ActionStopContainer)
	if err != nil {
		t.Fatalf("HasPendingAction empty: %v", err)
	}
	if has {
		t.Error("expected no pending action for empty store")
	}

	a := &models.Action{
		ID:          "act-dup",
		ContainerID: "abc123",
		Type:        models.ActionStopContainer,
		Status:      models.ActionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.InsertAction(ctx, a); err != nil {
		t.Fatalf("InsertAction: %v", err)
	}

	has, err = s.HasPendingAction(ctx, "abc123", models.ActionStopContainer)
	if err != nil {
		t.Fatalf("HasPendingAction: %v", err)
	}
	if !has {
		t.Error("expected pending action to be found")
	}

	// Different type on the same container does not count
	has, err = s.HasPendingAction(ctx, "abc123", models.ActionRestartContainer)
	if err != nil {
		t.Fatalf("HasPendingAction other type: %v", err)
	}
	if has {
		t.Error("expected no pending restart action")
	}

	// Approved actions still count as unresolved
	a.Status = models.ActionApproved
	a.UpdatedAt = now.Add(time.Second)
	if err := s.UpdateAction(ctx, a); err != nil {
		t.Fatalf("UpdateAction: %v", err)
	}
	has, err = s.HasPendingAction(ctx, "abc123", models.ActionStopContainer)
	if err != nil {
		t.Fatalf("HasPendingAction approved: %v", err)
	}
	if !has {
		t.Error("expected approved action to count as pending")
	}

	// Terminal actions do not count
	a.Status = models.ActionCompleted
	a.UpdatedAt = now.Add(2 * time.Second)
	if err := s.UpdateAction(ctx, a); err != nil {
		t.Fatalf("UpdateAction complete: %v", err)
	}
	has, err = s.HasPendingAction(ctx, "abc123", models.ActionStopContainer)
	if err != nil {
		t.Fatalf("HasPendingAction completed: %v", err)
	}
	if has {
		t.Error("expected completed action not to count as pending")
	}
}

// ─── Persistence health ───────────────────────────────────────────────────────

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestUnsupportedDatabaseType(t *testing.T) {
	if _, err := Open("oracle", "dsn"); err == nil {
		t.Error("expected error for unsupported database type")
	}
}

func TestIdempotentMigration(t *testing.T) {
	// Running migrations twice should not error
	s, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = s.Close()
}
