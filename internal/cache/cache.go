// Package cache holds the per-tenant bounded caches sitting in front of
// the KV store: a Point cache and a handle to the tenant's synchronized
// node map, both with time-to-idle eviction, built on ristretto/v2.
// ristretto has no native time-to-idle mode, only TTL; Get refreshes a
// value's TTL on every hit, which approximates time-to-idle by
// resetting the idle clock on access instead of expiring on a fixed
// wall-clock deadline.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/dria-labs/hnswdb/internal/record"
	"github.com/dria-labs/hnswdb/internal/syncmap"
)

// Default cache sizes and idle windows.
const (
	DefaultNodeTTI       = 48 * time.Hour
	DefaultPointTTI      = 24 * time.Hour
	DefaultPointCapacity = 200_000
	DefaultTenantEntries = 5_000
)

// PointCache is a single tenant's bounded, time-to-idle Point cache.
type PointCache struct {
	tti   time.Duration
	store *ristretto.Cache[string, record.Point]
}

// NewPointCache builds a Point cache bounded to maxEntries with the given
// time-to-idle window.
func NewPointCache(maxEntries int64, tti time.Duration) (*PointCache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, record.Point]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &PointCache{tti: tti, store: store}, nil
}

// Get returns the cached point and refreshes its idle window on a hit.
// Cached values are semantically identical to a fresh KV read: a miss
// here never means "not found", only "not cached".
func (c *PointCache) Get(key string) (record.Point, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return record.Point{}, false
	}
	c.store.SetWithTTL(key, v, 1, c.tti)
	return v, true
}

// Set inserts or refreshes a point with a full idle window.
func (c *PointCache) Set(key string, p record.Point) {
	c.store.SetWithTTL(key, p, 1, c.tti)
}

// Close releases underlying resources.
func (c *PointCache) Close() { c.store.Close() }

// TenantCache bundles the two C4 caches for a single tenant.
type TenantCache struct {
	Points *PointCache
	Nodes  *syncmap.Map
}

// Registry lazily creates and idle-evicts per-tenant caches: callers
// always go through GetOrCreate rather than constructing a TenantCache
// themselves.
type Registry struct {
	tenants        *ristretto.Cache[string, *TenantCache]
	nodeTTI        time.Duration
	pointTTI       time.Duration
	pointCapacity  int64
	tenantEntries  int64
}

// Options configures a Registry. Zero values fall back to package
// defaults.
type Options struct {
	NodeTTI       time.Duration
	PointTTI      time.Duration
	PointCapacity int64
	TenantEntries int64
}

// NewRegistry builds an empty tenant cache registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.NodeTTI == 0 {
		opts.NodeTTI = DefaultNodeTTI
	}
	if opts.PointTTI == 0 {
		opts.PointTTI = DefaultPointTTI
	}
	if opts.PointCapacity == 0 {
		opts.PointCapacity = DefaultPointCapacity
	}
	if opts.TenantEntries == 0 {
		opts.TenantEntries = DefaultTenantEntries
	}

	tenants, err := ristretto.NewCache(&ristretto.Config[string, *TenantCache]{
		NumCounters: opts.TenantEntries * 10,
		MaxCost:     opts.TenantEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		tenants:       tenants,
		nodeTTI:       opts.NodeTTI,
		pointTTI:      opts.PointTTI,
		pointCapacity: opts.PointCapacity,
		tenantEntries: opts.TenantEntries,
	}, nil
}

// GetOrCreate returns the tenant's caches, creating them on first use
// and refreshing the tenant entry's idle window on every call.
func (r *Registry) GetOrCreate(tenant string) (*TenantCache, error) {
	if tc, ok := r.tenants.Get(tenant); ok {
		r.tenants.SetWithTTL(tenant, tc, 1, r.nodeTTI)
		return tc, nil
	}

	points, err := NewPointCache(r.pointCapacity, r.pointTTI)
	if err != nil {
		return nil, err
	}
	tc := &TenantCache{Points: points, Nodes: syncmap.New()}
	r.tenants.SetWithTTL(tenant, tc, 1, r.nodeTTI)
	r.tenants.Wait()
	return tc, nil
}

// Add installs an already-built TenantCache under tenant with a full
// idle window, replacing any entry already held for it.
func (r *Registry) Add(tenant string, tc *TenantCache) {
	r.tenants.SetWithTTL(tenant, tc, 1, r.nodeTTI)
}

// Close releases underlying resources.
func (r *Registry) Close() { r.tenants.Close() }
