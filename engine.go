// Package hnswdb is the driver surface: InsertBatch, Knn and Fetch,
// exposed as a Go API instead of (or in addition to) an HTTP binding.
// An Engine owns one flat KV keyspace multiplexed by tenant tag, lazily
// building a per-tenant HNSW index, build coordinator and cache bundle
// on first use.
package hnswdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/dria-labs/hnswdb/internal/build"
	"github.com/dria-labs/hnswdb/internal/cache"
	"github.com/dria-labs/hnswdb/internal/distance"
	"github.com/dria-labs/hnswdb/internal/errs"
	"github.com/dria-labs/hnswdb/internal/hnsw"
	"github.com/dria-labs/hnswdb/internal/kv"
	"github.com/dria-labs/hnswdb/internal/obs"
)

// Driver surface limits.
const (
	MaxBatchSize = build.BatchMax
	MaxK         = 20
	MinLevel     = 1
	MaxLevel     = 4
)

// Config configures an Engine.
type Config struct {
	// Store is the KV backend. Required.
	Store kv.Store

	// M, EfConstruction, Ef are HNSW construction/search parameters,
	// shared by every tenant index the Engine creates. Defaults to 16,
	// 200, 64 if zero.
	M              int
	EfConstruction int
	Ef             int

	// Metric selects the distance kernel; defaults to cosine.
	Metric distance.Metric

	// MetricsEnabled controls whether prometheus counters are
	// registered.
	MetricsEnabled bool

	Cache cache.Options
}

// Option configures a Config via the functional-options pattern.
type Option func(*Config) error

func WithStore(store kv.Store) Option {
	return func(c *Config) error {
		if store == nil {
			return fmt.Errorf("hnswdb: store cannot be nil")
		}
		c.Store = store
		return nil
	}
}

func WithParams(m, efConstruction, ef int) Option {
	return func(c *Config) error {
		if m <= 0 || efConstruction <= 0 || ef <= 0 {
			return fmt.Errorf("hnswdb: M, efConstruction and ef must be positive")
		}
		c.M, c.EfConstruction, c.Ef = m, efConstruction, ef
		return nil
	}
}

func WithMetric(m distance.Metric) Option {
	return func(c *Config) error {
		c.Metric = m
		return nil
	}
}

func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.MetricsEnabled = enabled
		return nil
	}
}

// Engine owns the KV handle, the per-tenant cache registry, and a
// registry of per-tenant indices.
type Engine struct {
	mu      sync.RWMutex
	cfg     Config
	store   kv.Store
	caches  *cache.Registry
	tenants map[string]*tenantState
	metrics *obs.Metrics
	health  *obs.HealthChecker
}

type tenantState struct {
	index       *hnsw.Index
	coordinator *build.Coordinator
	tenantCache *cache.TenantCache
}

// New builds an Engine over opts.
func New(opts ...Option) (*Engine, error) {
	cfg := Config{
		M:              16,
		EfConstruction: 200,
		Ef:             64,
		Metric:         distance.Cosine,
		MetricsEnabled: true,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Store == nil {
		return nil, errs.New(errs.Validation, "hnswdb", "New", "Config.Store is required")
	}

	caches, err := cache.NewRegistry(cfg.Cache)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "hnswdb", "New", "building cache registry", err)
	}

	guardedStore := &circuitStore{
		Store: cfg.Store,
		cb:    obs.NewCircuitBreaker(obs.DefaultCircuitBreakerConfig("kv")),
	}

	e := &Engine{
		cfg:     cfg,
		store:   guardedStore,
		caches:  caches,
		tenants: make(map[string]*tenantState),
		health:  obs.NewHealthChecker(guardedStore),
	}
	if cfg.MetricsEnabled {
		e.metrics = obs.NewMetrics()
	}
	return e, nil
}

// Close releases underlying resources.
func (e *Engine) Close() error {
	e.caches.Close()
	return e.store.Close()
}

// Health reports the Engine's storage-reachability status.
func (e *Engine) Health(ctx context.Context) (*obs.HealthStatus, error) {
	return e.health.Check(ctx)
}

func (e *Engine) tenant(tenant string) (*tenantState, error) {
	e.mu.RLock()
	ts, ok := e.tenants[tenant]
	e.mu.RUnlock()
	if ok {
		return ts, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ts, ok := e.tenants[tenant]; ok {
		return ts, nil
	}

	tc, err := e.caches.GetOrCreate(tenant)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "hnswdb", "tenant", "building tenant caches", err)
	}
	index, err := hnsw.New(hnsw.Config{
		Tenant:         tenant,
		M:              e.cfg.M,
		EfConstruction: e.cfg.EfConstruction,
		Ef:             e.cfg.Ef,
		Metric:         e.cfg.Metric,
	}, e.store, tc)
	if err != nil {
		return nil, err
	}
	ts = &tenantState{
		index:       index,
		coordinator: build.New(tenant, e.store, index, tc).WithMetrics(e.metrics),
		tenantCache: tc,
	}
	e.tenants[tenant] = ts
	return ts, nil
}
