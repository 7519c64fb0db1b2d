package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

type fakeInsightStore struct {
	mu       sync.Mutex
	inserted []*models.Insight
	failWith error
}

func (f *fakeInsightStore) InsertInsight(ctx context.Context, in *models.Insight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	cp := *in
	f.inserted = append(f.inserted, &cp)
	return nil
}

func (f *fakeInsightStore) GetInsight(ctx context.Context, id string) (*models.Insight, error) {
	return nil, nil
}

func (f *fakeInsightStore) ListInsights(ctx context.Context, q store.InsightQuery) ([]*models.Insight, error) {
	return nil, nil
}

func (f *fakeInsightStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func (f *fakeInsightStore) at(i int) *models.Insight {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserted[i]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// brokenCooldown fails every check, standing in for an unreachable
// shared store.
type brokenCooldown struct{}

func (brokenCooldown) ShouldEmit(ctx context.Context, resourceID, kind string) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenCooldown) RecordEmission(ctx context.Context, resourceID, kind string) error {
	return errors.New("connection refused")
}
func (brokenCooldown) Entries(ctx context.Context) ([]CooldownEntry, error) { return nil, nil }
func (brokenCooldown) Sweep(ctx context.Context) (int, error)               { return 0, nil }
func (brokenCooldown) Reset(ctx context.Context) error                      { return nil }

func testInsight() *models.Insight {
	return &models.Insight{
		EndpointID:    1,
		ContainerID:   "abc123",
		ContainerName: "web",
		Severity:      models.SeverityCritical,
		Category:      "oom",
		Title:         "OOM detected in web",
		Description:   "container web was killed by the kernel OOM killer",
	}
}

func TestEmitterStoresAndPublishes(t *testing.T) {
	ctx := context.Background()
	st := &fakeInsightStore{}
	pub := &fakePublisher{}
	e := NewEmitter(st, NewMemoryCooldown(30*time.Minute), pub, nil, zap.NewNop())

	stored, err := e.Emit(ctx, testInsight())
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Fatal("expected the insight to be emitted")
	}
	if stored.ID == "" {
		t.Error("emitter must assign an id")
	}
	if stored.CreatedAt.IsZero() {
		t.Error("emitter must stamp created_at")
	}
	if st.count() != 1 {
		t.Errorf("expected 1 stored insight, got %d", st.count())
	}
	if pub.count() != 1 || pub.events[0] != "insight.emitted" {
		t.Errorf("expected one insight.emitted event, got %v", pub.events)
	}
}

func TestEmitterSuppressesRepeat(t *testing.T) {
	ctx := context.Background()
	st := &fakeInsightStore{}
	e := NewEmitter(st, NewMemoryCooldown(30*time.Minute), nil, nil, zap.NewNop())

	if _, err := e.Emit(ctx, testInsight()); err != nil {
		t.Fatal(err)
	}

	// Second fire for the same (resource, kind), same cycle.
	stored, err := e.Emit(ctx, testInsight())
	if err != nil {
		t.Fatalf("suppression must not be an error, got %v", err)
	}
	if stored != nil {
		t.Error("repeat emission inside the window must be suppressed")
	}
	if st.count() != 1 {
		t.Errorf("expected 1 stored insight, got %d", st.count())
	}
}

func TestEmitterDistinctKindsBothEmit(t *testing.T) {
	ctx := context.Background()
	st := &fakeInsightStore{}
	e := NewEmitter(st, NewMemoryCooldown(30*time.Minute), nil, nil, zap.NewNop())

	first := testInsight()
	second := testInsight()
	second.Category = "cpu_anomaly"
	second.Title = "CPU anomaly in web"

	if _, err := e.Emit(ctx, first); err != nil {
		t.Fatal(err)
	}
	stored, err := e.Emit(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Error("a different anomaly kind on the same resource must emit")
	}
	if st.count() != 2 {
		t.Errorf("expected 2 stored insights, got %d", st.count())
	}
}

func TestEmitterInsertFailureDoesNotSuppress(t *testing.T) {
	ctx := context.Background()
	st := &fakeInsightStore{failWith: errors.New("disk full")}
	e := NewEmitter(st, NewMemoryCooldown(30*time.Minute), nil, nil, zap.NewNop())

	if _, err := e.Emit(ctx, testInsight()); err == nil {
		t.Fatal("expected insert failure to surface")
	}

	// Next cycle: the store recovered. The failed attempt must not have
	// claimed the cooldown slot.
	st.failWith = nil
	stored, err := e.Emit(ctx, testInsight())
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Error("retry after a failed insert must not be suppressed")
	}
}

func TestEmitterFailsOpenOnCooldownError(t *testing.T) {
	ctx := context.Background()
	st := &fakeInsightStore{}
	e := NewEmitter(st, brokenCooldown{}, nil, nil, zap.NewNop())

	stored, err := e.Emit(ctx, testInsight())
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Error("a broken cooldown store must not silence detection")
	}
}

func TestEmitterFleetWideKey(t *testing.T) {
	ctx := context.Background()
	st := &fakeInsightStore{}
	cd := NewMemoryCooldown(30 * time.Minute)
	e := NewEmitter(st, cd, nil, nil, zap.NewNop())

	in := testInsight()
	in.ContainerID = ""
	in.ContainerName = ""
	in.Category = "endpoint_unreachable"

	if _, err := e.Emit(ctx, in); err != nil {
		t.Fatal(err)
	}

	entries, err := cd.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ResourceID != "fleet" {
		t.Errorf("fleet-wide insights should key on \"fleet\", got %+v", entries)
	}
}
