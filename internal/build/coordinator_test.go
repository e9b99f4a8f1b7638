package build

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dria-labs/hnswdb/internal/cache"
	"github.com/dria-labs/hnswdb/internal/distance"
	"github.com/dria-labs/hnswdb/internal/hnsw"
	"github.com/dria-labs/hnswdb/internal/keys"
	"github.com/dria-labs/hnswdb/internal/kv"
	"github.com/dria-labs/hnswdb/internal/record"
)

func newTestCoordinator(t *testing.T) (*Coordinator, kv.Store) {
	t.Helper()
	store := kv.NewMemory()
	reg, err := cache.NewRegistry(cache.Options{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tc, err := reg.GetOrCreate("tenant")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	ix, err := hnsw.New(hnsw.Config{Tenant: "tenant", M: 4, EfConstruction: 16, Ef: 8, Metric: distance.L2}, store, tc)
	if err != nil {
		t.Fatalf("hnsw.New: %v", err)
	}
	return New("tenant", store, ix, tc), store
}

func items(n, dim int) []Item {
	out := make([]Item, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(i + j)
		}
		out[i] = Item{Vector: v, Metadata: json.RawMessage(`{"i":` + itoa(i) + `}`)}
	}
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestInsertBatchRejectsEmptyAndOversized(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.InsertBatch(ctx, nil); err == nil {
		t.Fatalf("expected error for empty batch")
	}
	if _, err := c.InsertBatch(ctx, make([]Item, BatchMax+1)); err == nil {
		t.Fatalf("expected error for oversized batch")
	}
}

func TestInsertBatchRejectsMixedDimensions(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	batch := []Item{
		{Vector: []float32{1, 2}, Metadata: json.RawMessage(`{}`)},
		{Vector: []float32{1, 2, 3}, Metadata: json.RawMessage(`{}`)},
	}
	if _, err := c.InsertBatch(ctx, batch); err == nil {
		t.Fatalf("expected error for inconsistent vector dimensions")
	}
}

func TestInsertBatchAssignsSequentialIndicesAndPersistsDatasize(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.InsertBatch(ctx, items(10, 3))
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if res.FirstIdx != 0 || res.Count != 10 {
		t.Fatalf("got %+v, want FirstIdx=0 Count=10", res)
	}

	val, found, err := store.Get(ctx, keys.Datasize("tenant"))
	if err != nil || !found {
		t.Fatalf("datasize not persisted: found=%v err=%v", found, err)
	}
	if string(val) != "10" {
		t.Fatalf("datasize = %q, want 10", val)
	}

	res2, err := c.InsertBatch(ctx, items(5, 3))
	if err != nil {
		t.Fatalf("second InsertBatch: %v", err)
	}
	if res2.FirstIdx != 10 {
		t.Fatalf("second batch FirstIdx = %d, want 10", res2.FirstIdx)
	}
}

func TestInsertBatchFlushesNodesToStorage(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.InsertBatch(ctx, items(20, 2)); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	_, found, err := store.Get(ctx, keys.Node("tenant", 0, 0))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatalf("expected layer-0 node for index 0 to be flushed to storage")
	}
}

func TestRunInsertsSerialParallelBoundary(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	indices := []uint32{0, 1, 2, 3}
	for _, idx := range indices {
		_ = store.Put(ctx, keys.Point("tenant", idx), record.EncodePointB64(record.Point{Idx: idx, V: []float32{float32(idx), 0}}))
	}

	// d0 already at the threshold: every index should run through the
	// parallel path, not the serial one; this must not error or deadlock.
	if err := c.runInserts(ctx, SerialThreshold, indices); err != nil {
		t.Fatalf("runInserts at threshold: %v", err)
	}
}

func TestConcurrentBatchLeavesEntryPointOnTopLayer(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	// Large enough to clear SerialThreshold and exercise runParallel's
	// worker pool, where a race between raiseNumLayers and ep.Store would
	// otherwise surface.
	if _, err := c.InsertBatch(ctx, items(1000, 3)); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	ep := c.index.EntryPoint()
	numLayers := c.index.NumLayers()
	if ep < 0 {
		t.Fatalf("EntryPoint() = %d, want a valid index", ep)
	}
	if numLayers == 0 {
		t.Fatalf("NumLayers() = 0, want at least 1 after inserting 1000 points")
	}

	topLayer := uint32(numLayers - 1)
	_, found, err := store.Get(ctx, keys.Node("tenant", topLayer, uint32(ep)))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatalf("entry point %d has no node at top layer %d: ep was set by a non-winning insert", ep, topLayer)
	}
}

func TestRunInsertsBelowThresholdRunsSerially(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()

	indices := []uint32{0, 1}
	for _, idx := range indices {
		_ = store.Put(ctx, keys.Point("tenant", idx), record.EncodePointB64(record.Point{Idx: idx, V: []float32{float32(idx), 0}}))
	}

	if err := c.runInserts(ctx, 0, indices); err != nil {
		t.Fatalf("runInserts below threshold: %v", err)
	}
}
