package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/monitor"
	"github.com/stackwatch/stackwatch-ai/internal/remediation"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// ─── Fakes ────────────────────────────────────────────────────────────────────

type fakeStore struct {
	insights       map[string]*models.Insight
	incidents      map[string]*models.Incident
	investigations map[string]*models.Investigation
	actions        map[string]*models.Action
	pingErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		insights:       map[string]*models.Insight{},
		incidents:      map[string]*models.Incident{},
		investigations: map[string]*models.Investigation{},
		actions:        map[string]*models.Action{},
	}
}

func (f *fakeStore) Close() error               { return nil }
func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) InsertInsight(_ context.Context, in *models.Insight) error {
	f.insights[in.ID] = in
	return nil
}

func (f *fakeStore) GetInsight(_ context.Context, id string) (*models.Insight, error) {
	in, ok := f.insights[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return in, nil
}

func (f *fakeStore) ListInsights(_ context.Context, q store.InsightQuery) ([]*models.Insight, error) {
	var out []*models.Insight
	for _, in := range f.insights {
		if q.ContainerID != "" && in.ContainerID != q.ContainerID {
			continue
		}
		if q.Category != "" && in.Category != q.Category {
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

func (f *fakeStore) InsertIncident(_ context.Context, inc *models.Incident) error {
	f.incidents[inc.ID] = inc
	return nil
}

func (f *fakeStore) UpdateIncident(_ context.Context, inc *models.Incident) error {
	f.incidents[inc.ID] = inc
	return nil
}

func (f *fakeStore) GetIncident(_ context.Context, id string) (*models.Incident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return inc, nil
}

func (f *fakeStore) ListIncidents(_ context.Context, q store.IncidentQuery) ([]*models.Incident, error) {
	var out []*models.Incident
	for _, inc := range f.incidents {
		if q.Status != "" && inc.Status != q.Status {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

func (f *fakeStore) InsertInvestigation(_ context.Context, inv *models.Investigation) error {
	f.investigations[inv.ID] = inv
	return nil
}

func (f *fakeStore) UpdateInvestigation(_ context.Context, inv *models.Investigation) error {
	f.investigations[inv.ID] = inv
	return nil
}

func (f *fakeStore) GetInvestigation(_ context.Context, id string) (*models.Investigation, error) {
	inv, ok := f.investigations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return inv, nil
}

func (f *fakeStore) ListInvestigations(_ context.Context, q store.InvestigationQuery) ([]*models.Investigation, error) {
	var out []*models.Investigation
	for _, inv := range f.investigations {
		if q.Status != "" && inv.Status != q.Status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (f *fakeStore) LatestInvestigation(context.Context, string, models.InvestigationStatus) (*models.Investigation, error) {
	return nil, nil
}

func (f *fakeStore) InsertAction(_ context.Context, a *models.Action) error {
	f.actions[a.ID] = a
	return nil
}

func (f *fakeStore) UpdateAction(_ context.Context, a *models.Action) error {
	f.actions[a.ID] = a
	return nil
}

func (f *fakeStore) GetAction(_ context.Context, id string) (*models.Action, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func (f *fakeStore) ListActions(_ context.Context, q store.ActionQuery) ([]*models.Action, error) {
	var out []*models.Action
	for _, a := range f.actions {
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) HasPendingAction(context.Context, string, models.ActionType) (bool, error) {
	return false, nil
}

type fakeScheduler struct {
	runErr  error
	runs    int
	entries []monitor.CooldownEntry
}

func (f *fakeScheduler) RunCycleNow(context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	f.runs++
	return nil
}

func (f *fakeScheduler) LastCycle() monitor.CycleStats {
	return monitor.CycleStats{Resources: 3, DurationMS: 42, StartedAt: time.Unix(1700000000, 0).UTC()}
}

func (f *fakeScheduler) CooldownEntries(context.Context) ([]monitor.CooldownEntry, error) {
	return f.entries, nil
}

type fakeGate struct {
	action *models.Action
	err    error

	lastVerb     string
	lastID       string
	lastIdentity string
}

func (f *fakeGate) Approve(_ context.Context, id, approver string) (*models.Action, error) {
	f.lastVerb, f.lastID, f.lastIdentity = "approve", id, approver
	return f.action, f.err
}

func (f *fakeGate) Reject(_ context.Context, id, rejecter, _ string) (*models.Action, error) {
	f.lastVerb, f.lastID, f.lastIdentity = "reject", id, rejecter
	return f.action, f.err
}

func (f *fakeGate) Execute(_ context.Context, id string) (*models.Action, error) {
	f.lastVerb, f.lastID = "execute", id
	return f.action, f.err
}

type fakeResolver struct {
	incident *models.Incident
	err      error
}

func (f *fakeResolver) Resolve(context.Context, string) (*models.Incident, error) {
	return f.incident, f.err
}

type fakeBacklog struct{ n int64 }

func (f *fakeBacklog) InFlight() int64 { return f.n }

// ─── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	srv   *Server
	store *fakeStore
	sched *fakeScheduler
	gate  *fakeGate
	res   *fakeResolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := newFakeStore()
	sched := &fakeScheduler{}
	gate := &fakeGate{}
	res := &fakeResolver{}

	cfg := config.DefaultConfig()
	srv := New(cfg, Deps{
		Store:          st,
		Scheduler:      sched,
		Correlator:     res,
		Actions:        gate,
		Investigations: &fakeBacklog{n: 1},
		Logger:         zap.NewNop(),
	})
	return &harness{srv: srv, store: st, sched: sched, gate: gate, res: res}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return m
}

// ─── Tests ────────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decodeBody(t, w)["status"]; got != "healthy" {
		t.Errorf("status field = %v", got)
	}

	if w := h.do(t, http.MethodPost, "/health", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d, want 405", w.Code)
	}
}

func TestReadyReflectsStore(t *testing.T) {
	h := newHarness(t)

	if w := h.do(t, http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Fatalf("ready = %d, want 200", w.Code)
	}

	h.store.pingErr = errors.New("connection refused")
	w := h.do(t, http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with broken store = %d, want 503", w.Code)
	}
	if got := decodeBody(t, w)["status"]; got != "not_ready" {
		t.Errorf("status field = %v", got)
	}
}

func TestListAndGetInsights(t *testing.T) {
	h := newHarness(t)
	h.store.insights["in-1"] = &models.Insight{ID: "in-1", ContainerID: "c1", Category: "oom"}
	h.store.insights["in-2"] = &models.Insight{ID: "in-2", ContainerID: "c2", Category: "cpu_anomaly"}

	w := h.do(t, http.MethodGet, "/api/v1/insights", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d, want 200", w.Code)
	}
	if got := decodeBody(t, w)["count"]; got != float64(2) {
		t.Errorf("count = %v, want 2", got)
	}

	w = h.do(t, http.MethodGet, "/api/v1/insights?container_id=c1", "")
	if got := decodeBody(t, w)["count"]; got != float64(1) {
		t.Errorf("filtered count = %v, want 1", got)
	}

	if w := h.do(t, http.MethodGet, "/api/v1/insights/in-1", ""); w.Code != http.StatusOK {
		t.Errorf("get = %d, want 200", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/v1/insights/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("get missing = %d, want 404", w.Code)
	}
}

func TestRunCycle(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/monitor/cycle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run cycle = %d, want 200", w.Code)
	}
	if h.sched.runs != 1 {
		t.Errorf("runs = %d, want 1", h.sched.runs)
	}

	h.sched.runErr = monitor.ErrCycleRunning
	if w := h.do(t, http.MethodPost, "/api/v1/monitor/cycle", ""); w.Code != http.StatusConflict {
		t.Errorf("overlapping cycle = %d, want 409", w.Code)
	}

	if w := h.do(t, http.MethodGet, "/api/v1/monitor/cycle", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET cycle = %d, want 405", w.Code)
	}
}

func TestMonitorStatus(t *testing.T) {
	h := newHarness(t)
	h.sched.entries = []monitor.CooldownEntry{
		{ResourceID: "c1", Kind: "oom"},
	}

	w := h.do(t, http.MethodGet, "/api/v1/monitor/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["investigations_in_flight"] != float64(1) {
		t.Errorf("in flight = %v, want 1", body["investigations_in_flight"])
	}
	cooldowns, ok := body["cooldowns"].([]interface{})
	if !ok || len(cooldowns) != 1 {
		t.Errorf("cooldowns = %v, want one entry", body["cooldowns"])
	}
	if _, present := body["websocket_clients"]; present {
		t.Errorf("websocket_clients present without a hub")
	}
}

func TestResolveIncident(t *testing.T) {
	h := newHarness(t)
	h.res.incident = &models.Incident{ID: "inc-1", Status: models.IncidentResolved}

	w := h.do(t, http.MethodPost, "/api/v1/incidents/inc-1/resolve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("resolve = %d, want 200", w.Code)
	}

	h.res.incident = nil
	h.res.err = errors.New("incident is not active")
	if w := h.do(t, http.MethodPost, "/api/v1/incidents/inc-1/resolve", ""); w.Code != http.StatusConflict {
		t.Errorf("resolve inactive = %d, want 409", w.Code)
	}

	h.res.err = sql.ErrNoRows
	if w := h.do(t, http.MethodPost, "/api/v1/incidents/nope/resolve", ""); w.Code != http.StatusNotFound {
		t.Errorf("resolve missing = %d, want 404", w.Code)
	}
}

func TestApproveAction(t *testing.T) {
	h := newHarness(t)
	h.gate.action = &models.Action{ID: "a1", Status: models.ActionApproved}

	w := h.do(t, http.MethodPost, "/api/v1/actions/a1/approve", `{"approved_by":"ops@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("approve = %d, want 200: %s", w.Code, w.Body.String())
	}
	if h.gate.lastVerb != "approve" || h.gate.lastID != "a1" || h.gate.lastIdentity != "ops@example.com" {
		t.Errorf("gate call = %s/%s/%s", h.gate.lastVerb, h.gate.lastID, h.gate.lastIdentity)
	}

	if w := h.do(t, http.MethodPost, "/api/v1/actions/a1/approve", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("approve without identity = %d, want 400", w.Code)
	}
}

func TestActionTransitionConflict(t *testing.T) {
	h := newHarness(t)
	h.gate.err = remediation.ErrInvalidTransition

	w := h.do(t, http.MethodPost, "/api/v1/actions/a1/execute", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("invalid transition = %d, want 409", w.Code)
	}
}

func TestExecuteActionReportsOutcome(t *testing.T) {
	h := newHarness(t)
	h.gate.action = &models.Action{ID: "a1", Status: models.ActionFailed, Result: "restart failed: timeout"}

	// A failed platform call is still a completed state-machine run.
	w := h.do(t, http.MethodPost, "/api/v1/actions/a1/execute", "")
	if w.Code != http.StatusOK {
		t.Fatalf("execute = %d, want 200", w.Code)
	}
	var a models.Action
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if a.Status != models.ActionFailed || a.Result == "" {
		t.Errorf("action = %+v, want failed with result", a)
	}
}

func TestDisabledStagesAnswer503(t *testing.T) {
	st := newFakeStore()
	srv := New(config.DefaultConfig(), Deps{Store: st, Logger: zap.NewNop()})
	h := &harness{srv: srv, store: st}

	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/v1/monitor/cycle"},
		{http.MethodGet, "/api/v1/monitor/status"},
		{http.MethodPost, "/api/v1/incidents/x/resolve"},
		{http.MethodPost, "/api/v1/actions/x/approve"},
		{http.MethodPost, "/api/v1/actions/x/execute"},
	}
	for _, tc := range cases {
		body := ""
		if strings.HasSuffix(tc.path, "approve") {
			body = `{"approved_by":"ops"}`
		}
		if w := h.do(t, tc.method, tc.path, body); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", tc.method, tc.path, w.Code)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/actions/abc-123/approve": "/api/v1/actions/:id/approve",
		"/api/v1/insights/abc-123":        "/api/v1/insights/:id",
		"/api/v1/insights":                "/api/v1/insights",
		"/health":                         "/health",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
