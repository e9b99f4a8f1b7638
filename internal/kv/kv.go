// Package kv defines the byte-string KV store interface every index and
// build component is layered over: single-key get/put, order-preserving
// multi-get, and an atomic write-batch. A missing key is never an error
// at this layer; it is a found=false result and the caller decides what
// that means.
package kv

import "context"

// Entry is a single key/value pair used in a WriteBatch.
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is the KV interface every backend implements. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value for key and found=true, or found=false if the
	// key does not exist. Only a connection/IO failure is returned as err.
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)

	// MultiGet returns one result per key, in the same order, each with
	// its own found flag.
	MultiGet(ctx context.Context, keys [][]byte) ([]GetResult, error)

	// Put writes key/value, atomic with respect to readers of that key.
	Put(ctx context.Context, key, value []byte) error

	// WriteBatch applies entries atomically with respect to readers.
	WriteBatch(ctx context.Context, entries []Entry) error

	// Close releases underlying resources.
	Close() error
}

// GetResult is one element of a MultiGet response.
type GetResult struct {
	Value []byte
	Found bool
}
