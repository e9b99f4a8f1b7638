// Package hnsw implements a single tenant's HNSW proximity graph and
// its query path: layer selection, searchLayer, selectNeighbors, insert
// and knn_search against a KV-backed graph, with an in-memory
// publish/wait overlay over in-flight node writes and bounded
// per-tenant caches in front of the KV reads.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/dria-labs/hnswdb/internal/cache"
	"github.com/dria-labs/hnswdb/internal/distance"
	"github.com/dria-labs/hnswdb/internal/errs"
	"github.com/dria-labs/hnswdb/internal/keys"
	"github.com/dria-labs/hnswdb/internal/kv"
	"github.com/dria-labs/hnswdb/internal/record"
)

// maxLevel bounds selectLayer's output so a freak draw from the
// exponential distribution can't allocate an unbounded number of
// layers for one point.
const maxLevel = 1000

// noEntryPoint is the atomic ep sentinel meaning "graph is empty".
const noEntryPoint = -1

// Config fixes the parameters of an Index at construction.
type Config struct {
	Tenant         string
	M              int
	EfConstruction int
	Ef             int
	Metric         distance.Metric
}

func (c Config) validate() error {
	if c.Tenant == "" {
		return errs.New(errs.Validation, "hnsw", "New", "tenant is required")
	}
	if c.M < 2 {
		return errs.New(errs.Validation, "hnsw", "New", "M must be >= 2")
	}
	if c.EfConstruction < 1 {
		return errs.New(errs.Validation, "hnsw", "New", "efConstruction must be >= 1")
	}
	if c.Ef < 1 {
		return errs.New(errs.Validation, "hnsw", "New", "ef must be >= 1")
	}
	return nil
}

// Index is a single tenant's HNSW graph, backed by a KV store, a
// synchronized node map and caches shared with the build coordinator
// (C7).
type Index struct {
	cfg     Config
	mMax0   int
	ml      float64
	distFn  distance.Func
	store   kv.Store
	tenant  *cache.TenantCache

	ep        atomic.Int64
	numLayers atomic.Uint64
}

// New constructs an Index over an already-open Store and per-tenant
// cache bundle.
func New(cfg Config, store kv.Store, tenant *cache.TenantCache) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	distFn, err := distance.Get(cfg.Metric)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "hnsw", "New", "unknown metric", err)
	}
	ix := &Index{
		cfg:    cfg,
		mMax0:  cfg.M * 2,
		ml:     1.0 / math.Log(float64(cfg.M)),
		distFn: distFn,
		store:  store,
		tenant: tenant,
	}
	ix.ep.Store(noEntryPoint)
	return ix, nil
}

// LoadAtomics reads ep and num_layers from the KV into the in-memory
// atomics. The build coordinator calls this before dispatching workers;
// queries call it before every search since a query has no other way
// to observe state a concurrent build coordinator has already
// persisted.
func (ix *Index) LoadAtomics(ctx context.Context) error {
	epVal, epFound, err := ix.store.Get(ctx, keys.EntryPoint(ix.cfg.Tenant))
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "hnsw", "LoadAtomics", "reading ep", err)
	}
	nlVal, nlFound, err := ix.store.Get(ctx, keys.NumLayers(ix.cfg.Tenant))
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "hnsw", "LoadAtomics", "reading num_layers", err)
	}

	if !epFound || !nlFound {
		ix.ep.Store(noEntryPoint)
		ix.numLayers.Store(0)
		return nil
	}
	epN, err := strconv.ParseInt(string(epVal), 10, 64)
	if err != nil {
		return errs.Wrap(errs.InvalidEncoding, "hnsw", "LoadAtomics", "ep not an integer", err)
	}
	nl, err := strconv.ParseUint(string(nlVal), 10, 64)
	if err != nil {
		return errs.Wrap(errs.InvalidEncoding, "hnsw", "LoadAtomics", "num_layers not an integer", err)
	}
	ix.ep.Store(epN)
	ix.numLayers.Store(nl)
	return nil
}

// PersistAtomics writes the current ep/num_layers back to the KV so a
// later process restart or query can pick them back up.
func (ix *Index) PersistAtomics(ctx context.Context) error {
	ep := ix.ep.Load()
	nl := ix.numLayers.Load()
	entries := []kv.Entry{
		{Key: keys.EntryPoint(ix.cfg.Tenant), Value: []byte(strconv.FormatInt(ep, 10))},
		{Key: keys.NumLayers(ix.cfg.Tenant), Value: []byte(strconv.FormatUint(nl, 10))},
	}
	if err := ix.store.WriteBatch(ctx, entries); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "hnsw", "PersistAtomics", "writing ep/num_layers", err)
	}
	return nil
}

// EntryPoint and NumLayers expose the current atomic snapshot.
func (ix *Index) EntryPoint() int64   { return ix.ep.Load() }
func (ix *Index) NumLayers() uint64   { return ix.numLayers.Load() }
func (ix *Index) Empty() bool         { return ix.ep.Load() == noEntryPoint }

// selectLayer draws l = floor(-ln(u) * mL), u ~ Uniform(eps, 1),
// clamped to maxLevel.
func (ix *Index) selectLayer() int {
	const eps = 1e-12
	u := eps + rand.Float64()*(1-eps)
	l := int(math.Floor(-math.Log(u) * ix.ml))
	if l > maxLevel {
		l = maxLevel
	}
	if l < 0 {
		l = 0
	}
	return l
}

// loadPoint resolves a point through the point cache, falling back to
// the KV and warming the cache on a miss.
func (ix *Index) loadPoint(ctx context.Context, idx uint32) (record.Point, error) {
	cacheKey := strconv.FormatUint(uint64(idx), 10)
	if ix.tenant != nil {
		if p, ok := ix.tenant.Points.Get(cacheKey); ok {
			return p, nil
		}
	}

	val, found, err := ix.store.Get(ctx, keys.Point(ix.cfg.Tenant, idx))
	if err != nil {
		return record.Point{}, errs.Wrap(errs.StorageUnavailable, "hnsw", "loadPoint", fmt.Sprintf("idx=%d", idx), err)
	}
	if !found {
		return record.Point{}, errs.New(errs.NotFound, "hnsw", "loadPoint", fmt.Sprintf("point %d not found", idx))
	}
	p, err := record.DecodePointB64(val)
	if err != nil {
		return record.Point{}, errs.Wrap(errs.InvalidEncoding, "hnsw", "loadPoint", fmt.Sprintf("idx=%d", idx), err)
	}
	if ix.tenant != nil {
		ix.tenant.Points.Set(cacheKey, p)
	}
	return p, nil
}

// loadNode resolves a LayerNode first from the synchronized node map
// (the live, not-yet-flushed build state), then from the KV, warming
// the node map on a KV hit so later readers skip straight to it.
func (ix *Index) loadNode(ctx context.Context, layer, idx uint32) (record.LayerNode, bool, error) {
	mapKey := keys.NodeMapKey(layer, idx)
	if ix.tenant != nil {
		if n, ok := ix.tenant.Nodes.Get(mapKey); ok {
			return *n, true, nil
		}
	}

	val, found, err := ix.store.Get(ctx, keys.Node(ix.cfg.Tenant, layer, idx))
	if err != nil {
		return record.LayerNode{}, false, errs.Wrap(errs.StorageUnavailable, "hnsw", "loadNode", fmt.Sprintf("layer=%d idx=%d", layer, idx), err)
	}
	if !found {
		return record.LayerNode{}, false, nil
	}
	n, err := record.DecodeLayerNodeB64(val)
	if err != nil {
		return record.LayerNode{}, false, errs.Wrap(errs.InvalidEncoding, "hnsw", "loadNode", fmt.Sprintf("layer=%d idx=%d", layer, idx), err)
	}
	if ix.tenant != nil {
		ix.tenant.Nodes.InsertAndNotify(n)
	}
	return n, true, nil
}

// loadNodeOrWait is loadNode's C5-aware counterpart used by searchLayer:
// it consults the node map with GetOrWaitOpt before falling back to the
// KV, so a search racing a concurrent insert blocks only when that
// insert has already announced intent on this exact key.
func (ix *Index) loadNodeOrWait(ctx context.Context, layer, idx uint32) (record.LayerNode, bool, error) {
	if ix.tenant != nil {
		mapKey := keys.NodeMapKey(layer, idx)
		if n, ok := ix.tenant.Nodes.GetOrWaitOpt(ctx, mapKey); ok {
			return *n, true, nil
		}
	}
	return ix.loadNode(ctx, layer, idx)
}

// loadNodes batch-resolves LayerNodes for ids at layer, preferring the
// node map and falling back to a single KV multi-get for the rest.
func (ix *Index) loadNodes(ctx context.Context, layer uint32, ids []uint32) (map[uint32]record.LayerNode, error) {
	out := make(map[uint32]record.LayerNode, len(ids))
	var missIDs []uint32
	var missKeys [][]byte

	for _, id := range ids {
		if ix.tenant != nil {
			if n, ok := ix.tenant.Nodes.Get(keys.NodeMapKey(layer, id)); ok {
				out[id] = *n
				continue
			}
		}
		missIDs = append(missIDs, id)
		missKeys = append(missKeys, keys.Node(ix.cfg.Tenant, layer, id))
	}

	if len(missKeys) == 0 {
		return out, nil
	}

	results, err := ix.store.MultiGet(ctx, missKeys)
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "hnsw", "loadNodes", fmt.Sprintf("layer=%d", layer), err)
	}
	for i, r := range results {
		if !r.Found {
			continue
		}
		n, err := record.DecodeLayerNodeB64(r.Value)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidEncoding, "hnsw", "loadNodes", fmt.Sprintf("layer=%d idx=%d", layer, missIDs[i]), err)
		}
		out[missIDs[i]] = n
		if ix.tenant != nil {
			ix.tenant.Nodes.InsertAndNotify(n)
		}
	}
	return out, nil
}

// cmp orders distances ascending, with NaN counted as larger than any
// finite value and equal to other NaNs, so NaN distances always sort
// last instead of corrupting heap order.
func cmp(a, b float32) int {
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// sortedAscending returns the (id, distance) pairs of m sorted by
// distance ascending, NaN last, ties broken by id for determinism.
func sortedAscending(m map[uint32]float32) []Candidate {
	out := make([]Candidate, 0, len(m))
	for id, d := range m {
		out = append(out, Candidate{ID: id, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := cmp(out[i].Distance, out[j].Distance); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}
