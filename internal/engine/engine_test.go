package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mosswell/kith/internal/embed"
	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/internal/storage/sqlite"
	"github.com/mosswell/kith/pkg/types"
)

// fakeEmbedder returns a fixed vector per known text and counts calls.
// Unknown text gets a default vector so resolve/search paths never fail
// unless failing is the point.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	calls   int
	fail    bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float64)}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("%w: collaborator down", embed.ErrUnavailable)
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{1, 0, 0}, nil
}

func (f *fakeEmbedder) Model() string  { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 3 }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// syncAnalytics records synchronously so tests can assert without races.
type syncAnalytics struct {
	mu      sync.Mutex
	records []types.AnalyticsRecord
	done    chan struct{}
}

func newSyncAnalytics() *syncAnalytics {
	return &syncAnalytics{done: make(chan struct{}, 16)}
}

func (a *syncAnalytics) RecordSearch(ctx context.Context, rec *types.AnalyticsRecord) error {
	a.mu.Lock()
	a.records = append(a.records, *rec)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *syncAnalytics) all() []types.AnalyticsRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.AnalyticsRecord, len(a.records))
	copy(out, a.records)
	return out
}

type testEnv struct {
	engine    *Engine
	store     *sqlite.Store
	embedder  *fakeEmbedder
	analytics *syncAnalytics
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := newFakeEmbedder()
	analytics := newSyncAnalytics()

	eng, err := New(Deps{
		Persons:      store,
		Interactions: store,
		Embeddings:   store,
		Analytics:    analytics,
		Embedder:     embedder,
	}, Config{CacheSize: 16, OverfetchFactor: 3, ClusterThreshold: 0.95, DefaultLimit: 10})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	return &testEnv{engine: eng, store: store, embedder: embedder, analytics: analytics}
}

func (env *testEnv) addInteraction(t *testing.T, id string, vec []float64) {
	t.Helper()
	ctx := context.Background()

	if _, err := env.store.GetPerson(ctx, "per:owner"); err != nil {
		p := &types.Person{ID: "per:owner", DisplayName: "Owner Person"}
		if err := env.store.CreatePerson(ctx, p); err != nil {
			t.Fatalf("CreatePerson: %v", err)
		}
	}
	if err := env.store.CreateInteraction(ctx, &types.Interaction{
		ID: id, PersonID: "per:owner", Summary: "summary " + id,
	}); err != nil {
		t.Fatalf("CreateInteraction(%s): %v", id, err)
	}
	if err := env.store.StoreEmbedding(ctx, id, vec, len(vec), "fake", time.Now()); err != nil {
		t.Fatalf("StoreEmbedding(%s): %v", id, err)
	}
}

func TestEngineStartTwice(t *testing.T) {
	env := newTestEngine(t)

	if err := env.engine.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = env.engine.Shutdown(context.Background()) })

	if err := env.engine.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestEngineShutdownIdempotent(t *testing.T) {
	env := newTestEngine(t)

	if err := env.engine.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.engine.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := env.engine.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestRecordInteractionEmbedding(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	env.addInteraction(t, "int:1", []float64{1, 0, 0})

	if err := env.engine.RecordInteractionEmbedding(ctx, "int:1", "new text"); err != nil {
		t.Fatalf("RecordInteractionEmbedding: %v", err)
	}

	vec, err := env.store.GetEmbedding(ctx, "int:1")
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("dimension = %d, want 3", len(vec))
	}
}

func TestRecordInteractionEmbeddingUnavailable(t *testing.T) {
	env := newTestEngine(t)
	env.embedder.fail = true

	err := env.engine.RecordInteractionEmbedding(context.Background(), "int:1", "text")
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// captureEmbeddings records the occurred-at date passed with each stored
// vector.
type captureEmbeddings struct {
	storage.EmbeddingProvider
	mu         sync.Mutex
	occurredAt time.Time
}

func (c *captureEmbeddings) StoreEmbedding(ctx context.Context, interactionID string, embedding []float64, dimension int, model string, occurredAt time.Time) error {
	c.mu.Lock()
	c.occurredAt = occurredAt
	c.mu.Unlock()
	return c.EmbeddingProvider.StoreEmbedding(ctx, interactionID, embedding, dimension, model, occurredAt)
}

func TestRecordInteractionEmbeddingCarriesInteractionDate(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	capture := &captureEmbeddings{EmbeddingProvider: store}
	eng, err := New(Deps{
		Persons:      store,
		Interactions: store,
		Embeddings:   capture,
		Embedder:     newFakeEmbedder(),
	}, Config{CacheSize: 4})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	ctx := context.Background()
	if err := store.CreatePerson(ctx, &types.Person{ID: "per:1", DisplayName: "Robin Okafor"}); err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	when := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if err := store.CreateInteraction(ctx, &types.Interaction{
		ID: "int:1", PersonID: "per:1", OccurredAt: when, Summary: "museum visit",
	}); err != nil {
		t.Fatalf("CreateInteraction: %v", err)
	}

	if err := eng.RecordInteractionEmbedding(ctx, "int:1", "museum visit"); err != nil {
		t.Fatalf("RecordInteractionEmbedding: %v", err)
	}

	capture.mu.Lock()
	got := capture.occurredAt
	capture.mu.Unlock()
	if !got.Equal(when) {
		t.Errorf("occurred-at passed to storage = %v, want %v", got, when)
	}
}
