package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests, per the Open Question
// decision to target the embedded-KV path rather than Redis: this is the
// in-memory member of that family, not a second backend variant.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *Memory) MultiGet(_ context.Context, keys [][]byte) ([]GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GetResult, len(keys))
	for i, k := range keys {
		if v, ok := m.data[string(k)]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[i] = GetResult{Value: cp, Found: true}
		}
	}
	return out, nil
}

func (m *Memory) Put(_ context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *Memory) WriteBatch(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		cp := make([]byte, len(e.Value))
		copy(cp, e.Value)
		m.data[string(e.Key)] = cp
	}
	return nil
}

func (m *Memory) Close() error { return nil }
