package hnswdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dria-labs/hnswdb/internal/build"
	"github.com/dria-labs/hnswdb/internal/errs"
	"github.com/dria-labs/hnswdb/internal/hnsw"
	"github.com/dria-labs/hnswdb/internal/keys"
)

// InsertItem is one vector/metadata pair submitted to InsertBatch.
type InsertItem struct {
	Vector   []float32
	Metadata json.RawMessage
}

// InsertResult reports how many vectors were inserted and the global
// index assigned to the first one.
type InsertResult struct {
	Count    int
	FirstIdx uint32
}

// InsertBatch persists and indexes a batch of vectors for tenant,
// enforcing the batch-size limit and per-tenant dimension consistency.
func (e *Engine) InsertBatch(ctx context.Context, tenant string, items []InsertItem) (InsertResult, error) {
	if len(items) == 0 {
		return InsertResult{}, errs.New(errs.Validation, "hnswdb", "InsertBatch", "empty batch")
	}
	if len(items) > MaxBatchSize {
		return InsertResult{}, ErrBatchTooLarge
	}

	ts, err := e.tenant(tenant)
	if err != nil {
		return InsertResult{}, err
	}

	if err := e.checkDimension(ctx, tenant, len(items[0].Vector)); err != nil {
		return InsertResult{}, err
	}

	buildItems := make([]build.Item, len(items))
	for i, it := range items {
		buildItems[i] = build.Item{Vector: it.Vector, Metadata: it.Metadata}
	}

	if e.metrics != nil {
		e.metrics.InsertBatches.Inc()
	}
	res, err := ts.coordinator.InsertBatch(ctx, buildItems)
	if err != nil {
		if e.metrics != nil {
			e.metrics.InsertErrors.Inc()
		}
		return InsertResult{}, err
	}
	if e.metrics != nil {
		e.metrics.VectorInserts.Add(float64(res.Count))
	}
	return InsertResult{Count: res.Count, FirstIdx: res.FirstIdx}, nil
}

// checkDimension validates dim against the tenant's established vector
// dimension, establishing it on the tenant's first insert.
func (e *Engine) checkDimension(ctx context.Context, tenant string, dim int) error {
	if dim == 0 {
		return errs.New(errs.Validation, "hnswdb", "checkDimension", "vectors must be non-empty")
	}
	key := keys.Dimension(tenant)
	val, found, err := e.store.Get(ctx, key)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "hnswdb", "checkDimension", "", err)
	}
	if !found {
		return e.store.Put(ctx, key, []byte(strconv.Itoa(dim)))
	}
	want, err := strconv.Atoi(string(val))
	if err != nil {
		return errs.Wrap(errs.InvalidEncoding, "hnswdb", "checkDimension", "stored dimension not an integer", err)
	}
	if want != dim {
		return ErrDimensionMismatch
	}
	return nil
}

// PostFilter optionally rejects a candidate during Knn before it counts
// toward K.
type PostFilter func(idx uint32, score float32, metadata json.RawMessage) bool

// KnnResult is one row of a Knn response, including the fetched
// metadata blob.
type KnnResult struct {
	Idx      uint32
	Score    float32
	Metadata json.RawMessage
}

// KnnOptions configures a single Knn call.
type KnnOptions struct {
	// Level maps to ef = 20 + 30*level. Zero means "use the Engine's
	// configured Ef" instead of a level-derived one.
	Level int

	// Filter, if set, is applied to each candidate before it is counted
	// toward K; rejected candidates do not consume a slot. At most MaxK
	// candidates are considered, so fewer than K rows come back when
	// more than MaxK-K of them are rejected.
	Filter PostFilter
}

// Knn returns the K nearest neighbors of q for tenant, with metadata
// attached.
func (e *Engine) Knn(ctx context.Context, tenant string, q []float32, k int, opts KnnOptions) ([]KnnResult, error) {
	if k <= 0 {
		return nil, errs.New(errs.Validation, "hnswdb", "Knn", "k must be positive")
	}
	if k > MaxK {
		return nil, ErrKTooLarge
	}
	if opts.Level != 0 && (opts.Level < MinLevel || opts.Level > MaxLevel) {
		return nil, ErrLevelOutOfRange
	}

	ts, err := e.tenant(tenant)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.KnnQueries.Inc()
	}
	start := time.Now()

	// Over-fetch up to MaxK candidates when a filter is supplied, so
	// rejected candidates can be replaced by the next nearest ones.
	fetchK := k
	if opts.Filter != nil {
		fetchK = MaxK
	}

	var raw []hnsw.Result
	if opts.Level == 0 {
		raw, err = ts.index.Knn(ctx, q, fetchK)
	} else {
		ef := 20 + 30*opts.Level
		raw, err = ts.index.KnnEf(ctx, q, fetchK, ef)
	}
	if e.metrics != nil {
		e.metrics.KnnLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.KnnErrors.Inc()
		}
		return nil, err
	}

	out := make([]KnnResult, 0, k)
	for _, r := range raw {
		meta, err := e.fetchOne(ctx, tenant, r.Idx)
		if err != nil && !errs.Is(err, errs.NotFound) {
			return nil, err
		}
		if opts.Filter != nil && !opts.Filter(r.Idx, r.Score, meta) {
			continue
		}
		out = append(out, KnnResult{Idx: r.Idx, Score: r.Score, Metadata: meta})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Fetch returns the metadata blobs for a set of global indices, via a
// single multi-get.
func (e *Engine) Fetch(ctx context.Context, tenant string, indices []uint32) ([]json.RawMessage, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	keyList := make([][]byte, len(indices))
	for i, idx := range indices {
		keyList[i] = keys.Metadata(tenant, idx)
	}
	results, err := e.store.MultiGet(ctx, keyList)
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "hnswdb", "Fetch", "", err)
	}
	out := make([]json.RawMessage, len(results))
	for i, r := range results {
		if r.Found {
			out[i] = json.RawMessage(r.Value)
		}
	}
	return out, nil
}

func (e *Engine) fetchOne(ctx context.Context, tenant string, idx uint32) (json.RawMessage, error) {
	val, found, err := e.store.Get(ctx, keys.Metadata(tenant, idx))
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "hnswdb", "fetchOne", fmt.Sprintf("idx=%d", idx), err)
	}
	if !found {
		return nil, errs.New(errs.NotFound, "hnswdb", "fetchOne", fmt.Sprintf("metadata for %d not found", idx))
	}
	return json.RawMessage(val), nil
}
