package hnswdb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dria-labs/hnswdb/internal/distance"
	"github.com/dria-labs/hnswdb/internal/kv"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(WithStore(kv.NewMemory()), WithParams(4, 16, 8), WithMetrics(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatalf("expected error when no store is configured")
	}
}

func TestInsertBatchRejectsOversizedAndEmptyBatches(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.InsertBatch(ctx, "t1", nil); err == nil {
		t.Fatalf("expected error for empty batch")
	}
	if _, err := e.InsertBatch(ctx, "t1", make([]InsertItem, MaxBatchSize+1)); err == nil {
		t.Fatalf("expected ErrBatchTooLarge")
	}
}

func TestInsertBatchEnforcesDimensionConsistencyPerTenant(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InsertBatch(ctx, "t1", []InsertItem{{Vector: []float32{1, 2, 3}, Metadata: json.RawMessage(`{}`)}})
	if err != nil {
		t.Fatalf("first InsertBatch: %v", err)
	}

	_, err = e.InsertBatch(ctx, "t1", []InsertItem{{Vector: []float32{1, 2}, Metadata: json.RawMessage(`{}`)}})
	if err != ErrDimensionMismatch {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestKnnRejectsKAboveMax(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Knn(context.Background(), "t1", []float32{1, 2}, MaxK+1, KnnOptions{})
	if err != ErrKTooLarge {
		t.Fatalf("got %v, want ErrKTooLarge", err)
	}
}

func TestKnnRejectsLevelOutOfRange(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Knn(context.Background(), "t1", []float32{1, 2}, 5, KnnOptions{Level: MaxLevel + 1})
	if err != ErrLevelOutOfRange {
		t.Fatalf("got %v, want ErrLevelOutOfRange", err)
	}
}

func TestInsertThenKnnThenFetchEndToEnd(t *testing.T) {
	// L2, not the default cosine: under cosine the zero vector is at
	// distance 1.0 from every query and could never be the nearest.
	e, err := New(WithStore(kv.NewMemory()), WithParams(4, 16, 8), WithMetric(distance.L2), WithMetrics(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	items := []InsertItem{
		{Vector: []float32{0, 0}, Metadata: json.RawMessage(`{"name":"origin"}`)},
		{Vector: []float32{10, 10}, Metadata: json.RawMessage(`{"name":"far"}`)},
	}
	res, err := e.InsertBatch(ctx, "t1", items)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("Count = %d, want 2", res.Count)
	}

	got, err := e.Knn(ctx, "t1", []float32{0, 1}, 1, KnnOptions{})
	if err != nil {
		t.Fatalf("Knn: %v", err)
	}
	if len(got) != 1 || got[0].Idx != 0 {
		t.Fatalf("got %+v, want nearest neighbor idx=0", got)
	}
	var meta map[string]string
	if err := json.Unmarshal(got[0].Metadata, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta["name"] != "origin" {
		t.Fatalf("metadata = %+v, want name=origin", meta)
	}

	fetched, err := e.Fetch(ctx, "t1", []uint32{0, 1})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("got %d metadata blobs, want 2", len(fetched))
	}
}

func TestKnnWithFilterSkipsRejectedCandidates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	items := []InsertItem{
		{Vector: []float32{0, 0}, Metadata: json.RawMessage(`{"ok":false}`)},
		{Vector: []float32{0, 1}, Metadata: json.RawMessage(`{"ok":true}`)},
	}
	if _, err := e.InsertBatch(ctx, "t1", items); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	filter := func(idx uint32, score float32, meta json.RawMessage) bool {
		var v struct {
			OK bool `json:"ok"`
		}
		_ = json.Unmarshal(meta, &v)
		return v.OK
	}

	got, err := e.Knn(ctx, "t1", []float32{0, 0}, 1, KnnOptions{Filter: filter})
	if err != nil {
		t.Fatalf("Knn: %v", err)
	}
	if len(got) != 1 || got[0].Idx != 1 {
		t.Fatalf("got %+v, want the single ok=true candidate (idx=1)", got)
	}
}

func TestEngineHealthReportsHealthyOverMemoryStore(t *testing.T) {
	e := newTestEngine(t)
	status, err := e.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Status != "healthy" {
		t.Fatalf("Status = %q, want healthy", status.Status)
	}
}
