package hnswdb

import (
	"context"

	"github.com/dria-labs/hnswdb/internal/kv"
	"github.com/dria-labs/hnswdb/internal/obs"
)

// circuitStore wraps a kv.Store with a named circuit breaker, so that a
// struggling storage backend trips open and fails fast instead of
// piling up blocked callers across every tenant's index and build
// coordinator.
type circuitStore struct {
	kv.Store
	cb *obs.CircuitBreaker
}

func (c *circuitStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := c.cb.Execute(ctx, func() error {
		v, f, err := c.Store.Get(ctx, key)
		value, found = v, f
		return err
	})
	return value, found, err
}

func (c *circuitStore) MultiGet(ctx context.Context, keys [][]byte) ([]kv.GetResult, error) {
	var results []kv.GetResult
	err := c.cb.Execute(ctx, func() error {
		r, err := c.Store.MultiGet(ctx, keys)
		results = r
		return err
	})
	return results, err
}

func (c *circuitStore) Put(ctx context.Context, key, value []byte) error {
	return c.cb.Execute(ctx, func() error {
		return c.Store.Put(ctx, key, value)
	})
}

func (c *circuitStore) WriteBatch(ctx context.Context, entries []kv.Entry) error {
	return c.cb.Execute(ctx, func() error {
		return c.Store.WriteBatch(ctx, entries)
	})
}
