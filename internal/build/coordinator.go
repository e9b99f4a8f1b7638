// Package build implements the concurrent batch-insert coordinator:
// assigns global indices to an incoming batch, persists points and
// metadata, then dispatches insert(idx) calls across a fixed worker
// pool with a CAS-guarded atomics update rule, finishing with a chunked
// flush of the synchronized node map back to the KV.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/dria-labs/hnswdb/internal/cache"
	"github.com/dria-labs/hnswdb/internal/errs"
	"github.com/dria-labs/hnswdb/internal/hnsw"
	"github.com/dria-labs/hnswdb/internal/keys"
	"github.com/dria-labs/hnswdb/internal/kv"
	"github.com/dria-labs/hnswdb/internal/obs"
	"github.com/dria-labs/hnswdb/internal/record"
)

// Limits and batching constants for InsertBatch.
const (
	BatchMax        = 2500
	SerialThreshold = 256
	WorkerPoolSize  = 8
	BatchFlushSize  = 10_000
)

var logger = log.New(log.Writer(), "[build] ", log.LstdFlags)

// Item is one vector/metadata pair submitted to InsertBatch.
type Item struct {
	Vector   []float32
	Metadata json.RawMessage
}

// Result is InsertBatch's {count, firstIdx} response.
type Result struct {
	Count    int
	FirstIdx uint32
}

// Coordinator drives batch inserts for a single tenant's Index.
type Coordinator struct {
	tenant  string
	store   kv.Store
	index   *hnsw.Index
	cache   *cache.TenantCache
	metrics *obs.Metrics
}

// New builds a Coordinator over an already-constructed Index.
func New(tenant string, store kv.Store, index *hnsw.Index, tc *cache.TenantCache) *Coordinator {
	return &Coordinator{tenant: tenant, store: store, index: index, cache: tc}
}

// WithMetrics attaches a Metrics instance the Coordinator reports flush
// and node-map-reset counters to. Optional; a nil-metrics Coordinator
// skips these counters entirely.
func (c *Coordinator) WithMetrics(m *obs.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// InsertBatch assigns global indices, persists points and metadata,
// inserts every new point into the graph, then flushes the dirty node
// map and persists the final atomics.
func (c *Coordinator) InsertBatch(ctx context.Context, items []Item) (Result, error) {
	if len(items) == 0 {
		return Result{}, errs.New(errs.Validation, "build", "InsertBatch", "empty batch")
	}
	if len(items) > BatchMax {
		return Result{}, errs.New(errs.Validation, "build", "InsertBatch", fmt.Sprintf("batch of %d exceeds max %d", len(items), BatchMax))
	}
	dim := len(items[0].Vector)
	if dim == 0 {
		return Result{}, errs.New(errs.Validation, "build", "InsertBatch", "vectors must be non-empty")
	}
	for _, it := range items {
		if len(it.Vector) != dim {
			return Result{}, errs.New(errs.Validation, "build", "InsertBatch", "vectors must share one dimension")
		}
	}

	// Assign indices, persist points + metadata, update datasize.
	d0, err := c.readDatasize(ctx)
	if err != nil {
		return Result{}, err
	}

	pointEntries := make([]kv.Entry, len(items))
	metaEntries := make([]kv.Entry, len(items))
	for i, it := range items {
		idx := d0 + uint32(i)
		pointEntries[i] = kv.Entry{
			Key:   keys.Point(c.tenant, idx),
			Value: record.EncodePointB64(record.Point{Idx: idx, V: it.Vector}),
		}
		metaEntries[i] = kv.Entry{
			Key:   keys.Metadata(c.tenant, idx),
			Value: []byte(it.Metadata),
		}
	}
	if err := c.store.WriteBatch(ctx, pointEntries); err != nil {
		return Result{}, errs.Wrap(errs.StorageUnavailable, "build", "InsertBatch", "persisting points", err)
	}
	if err := c.store.WriteBatch(ctx, metaEntries); err != nil {
		return Result{}, errs.Wrap(errs.StorageUnavailable, "build", "InsertBatch", "persisting metadata", err)
	}
	newDatasize := d0 + uint32(len(items))
	if err := c.store.Put(ctx, keys.Datasize(c.tenant), []byte(strconv.FormatUint(uint64(newDatasize), 10))); err != nil {
		return Result{}, errs.Wrap(errs.StorageUnavailable, "build", "InsertBatch", "persisting datasize", err)
	}

	// Load ep/num_layers into the index's atomics.
	if err := c.index.LoadAtomics(ctx); err != nil {
		return Result{}, err
	}

	// Serial-then-parallel insertion.
	indices := make([]uint32, len(items))
	for i := range items {
		indices[i] = d0 + uint32(i)
	}
	if err := c.runInserts(ctx, d0, indices); err != nil {
		return Result{}, err
	}

	// Flush dirty nodes, persist final atomics.
	if err := c.flush(ctx); err != nil {
		return Result{}, err
	}
	if err := c.index.PersistAtomics(ctx); err != nil {
		return Result{}, err
	}

	// Reset the node map if it outgrew its soft cap.
	if c.cache != nil {
		before := c.cache.Nodes.Len()
		c.cache.Nodes.Reset()
		if c.metrics != nil && c.cache.Nodes.Len() < before {
			c.metrics.NodeMapResets.Inc()
		}
	}

	return Result{Count: len(items), FirstIdx: d0}, nil
}

func (c *Coordinator) readDatasize(ctx context.Context) (uint32, error) {
	val, found, err := c.store.Get(ctx, keys.Datasize(c.tenant))
	if err != nil {
		return 0, errs.Wrap(errs.StorageUnavailable, "build", "readDatasize", "", err)
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.ParseUint(string(val), 10, 32)
	if err != nil {
		return 0, errs.Wrap(errs.InvalidEncoding, "build", "readDatasize", "datasize not an integer", err)
	}
	return uint32(n), nil
}

// runInserts inserts serially while the total graph (datasize before
// this batch, d0, plus items already placed by this call) is below
// SerialThreshold, then fans the remainder out over a fixed worker
// pool.
func (c *Coordinator) runInserts(ctx context.Context, d0 uint32, indices []uint32) error {
	serialCount := 0
	if uint64(d0) < SerialThreshold {
		serialCount = SerialThreshold - int(d0)
		if serialCount > len(indices) {
			serialCount = len(indices)
		}
	}

	for i := 0; i < serialCount; i++ {
		if err := c.insertOne(ctx, indices[i]); err != nil {
			return err
		}
	}
	remaining := indices[serialCount:]
	if len(remaining) == 0 {
		return nil
	}
	return c.runParallel(ctx, remaining)
}

func (c *Coordinator) runParallel(ctx context.Context, indices []uint32) error {
	jobs := make(chan uint32)
	errCh := make(chan error, WorkerPoolSize)
	var wg sync.WaitGroup

	for w := 0; w < WorkerPoolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := c.insertOne(ctx, idx); err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			}
		}()
	}

	for _, idx := range indices {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	if err, ok := <-errCh; ok {
		return err
	}
	return nil
}

// insertOne calls the index's Insert(idx), retrying up to maxRetries
// times on StorageUnavailable errors (failed KV reads) and returning
// the last error after that; any other error is returned at once. A
// get-or-wait timeout in loadNodeOrWait never reaches here: GetOrWaitOpt
// reports it as a miss and the read falls through to the KV.
func (c *Coordinator) insertOne(ctx context.Context, idx uint32) error {
	const maxRetries = 3
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = c.index.Insert(ctx, idx)
		if err == nil {
			return nil
		}
		if errs.Is(err, errs.StorageUnavailable) {
			logger.Printf("insert(%d) attempt %d failed: %v, retrying", idx, attempt+1, err)
			continue
		}
		return err
	}
	return err
}

// flush drains the synchronized node map in chunks of BatchFlushSize and
// writes them to the KV.
func (c *Coordinator) flush(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	nodes := c.cache.Nodes.Drain()
	for start := 0; start < len(nodes); start += BatchFlushSize {
		end := start + BatchFlushSize
		if end > len(nodes) {
			end = len(nodes)
		}
		chunk := nodes[start:end]
		entries := make([]kv.Entry, len(chunk))
		for i, n := range chunk {
			entries[i] = kv.Entry{
				Key:   keys.Node(c.tenant, n.Level, n.Idx),
				Value: record.EncodeLayerNodeB64(n),
			}
		}
		if err := c.store.WriteBatch(ctx, entries); err != nil {
			return errs.Wrap(errs.StorageUnavailable, "build", "flush", fmt.Sprintf("chunk %d-%d", start, end), err)
		}
		if c.metrics != nil {
			c.metrics.FlushBatches.Inc()
		}
	}
	return nil
}
