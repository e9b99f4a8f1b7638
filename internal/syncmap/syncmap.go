// Package syncmap implements the synchronized node map: a concurrent
// "level:idx" -> LayerNode map with a publish/wait facility so that a
// search racing a concurrent insert blocks only when it knows a write
// is already coming. The map is guarded by sync.RWMutex plus a wait-map
// of channels; closing a channel wakes every current waiter at once.
package syncmap

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dria-labs/hnswdb/internal/keys"
	"github.com/dria-labs/hnswdb/internal/record"
)

// ResetSoftCap is the population above which Reset clears the map, so
// an idle or finished tenant's build state doesn't grow without bound.
const ResetSoftCap = 120_000

// waitPollInterval bounds how long GetOrWait/GetOrWaitOpt block on a
// single wait before re-checking the map. Each re-check that still
// finds no node (and, for GetOrWaitOpt, a registration still present)
// waits again, so the overall wait ends only when the node appears or
// ctx is done.
const waitPollInterval = 500 * time.Millisecond

var logger = log.New(log.Writer(), "[syncmap] ", log.LstdFlags)

// Map is the synchronized node map for a single tenant.
type Map struct {
	mu   sync.RWMutex
	data map[string]*record.LayerNode

	waitMu sync.Mutex
	wait   map[string]chan struct{}
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		data: make(map[string]*record.LayerNode),
		wait: make(map[string]chan struct{}),
	}
}

// InsertAndNotify writes node under an exclusive guard, then wakes any
// waiters registered on its key.
func (m *Map) InsertAndNotify(node record.LayerNode) {
	key := keys.NodeMapKey(node.Level, node.Idx)
	m.mu.Lock()
	m.data[key] = node.Clone()
	m.mu.Unlock()
	m.notify(key)
}

// InsertBatchAndNotify applies InsertAndNotify to every node, coalescing
// wake signals so each distinct key is notified at most once.
func (m *Map) InsertBatchAndNotify(nodes []record.LayerNode) {
	touched := make(map[string]struct{}, len(nodes))
	m.mu.Lock()
	for i := range nodes {
		key := keys.NodeMapKey(nodes[i].Level, nodes[i].Idx)
		m.data[key] = nodes[i].Clone()
		touched[key] = struct{}{}
	}
	m.mu.Unlock()
	for key := range touched {
		m.notify(key)
	}
}

// Get returns a clone of the node at key, if present, without consulting
// the wait map.
func (m *Map) Get(key string) (*record.LayerNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// GetOrWaitOpt returns a clone of the node at key if present. If absent
// but a writer has already announced intent via RegisterForNotification
// (typically another concurrent GetOrWait caller on the same key), it
// blocks until notified and retries; otherwise it returns immediately
// with found=false. This is the operation searches use so that a cold
// miss never blocks unless a write is already known to be coming.
func (m *Map) GetOrWaitOpt(ctx context.Context, key string) (*record.LayerNode, bool) {
	for {
		if v, ok := m.Get(key); ok {
			return v, true
		}

		m.waitMu.Lock()
		ch, exists := m.wait[key]
		m.waitMu.Unlock()
		if !exists {
			return nil, false
		}

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return nil, false
		case <-time.After(waitPollInterval):
			continue
		}
	}
}

// GetOrWait unconditionally blocks until the node at key appears,
// registering its own wait intent if none exists yet. Timeouts are
// logged and retried rather than surfaced, so a caller never panics on
// a slow or stuck writer.
func (m *Map) GetOrWait(ctx context.Context, key string) (*record.LayerNode, error) {
	for {
		if v, ok := m.Get(key); ok {
			return v, nil
		}

		ch := m.RegisterForNotification(key)

		// Second check: the node may have been inserted and the
		// registration already consumed between the first Get and
		// registering.
		if v, ok := m.Get(key); ok {
			return v, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitPollInterval):
			logger.Printf("timeout waiting for key %s, retrying", key)
		}
	}
}

// RegisterForNotification returns the wait channel for key, creating one
// if none exists. Idempotent: concurrent callers for the same key share
// one channel, which is closed (not sent on) to wake all of them at
// once.
func (m *Map) RegisterForNotification(key string) <-chan struct{} {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	if ch, ok := m.wait[key]; ok {
		return ch
	}
	ch := make(chan struct{})
	m.wait[key] = ch
	return ch
}

// notify wakes any waiters on key and removes the registration. No
// writer may call this before its insert into data is visible to
// subsequent readers; InsertAndNotify/InsertBatchAndNotify enforce that
// ordering by notifying only after releasing mu.
func (m *Map) notify(key string) {
	m.waitMu.Lock()
	ch, ok := m.wait[key]
	if ok {
		delete(m.wait, key)
	}
	m.waitMu.Unlock()
	if ok {
		close(ch)
	}
}

// Len returns the current population of the map.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Reset clears the map once its population exceeds ResetSoftCap,
// preventing unbounded growth during long batch builds.
func (m *Map) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) > ResetSoftCap {
		m.data = make(map[string]*record.LayerNode)
	}
}

// Drain returns a snapshot of every node currently held and clears the
// map unconditionally, used by the build coordinator (C7) to flush all
// dirty nodes back to the KV after a batch drains.
func (m *Map) Drain() []record.LayerNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.LayerNode, 0, len(m.data))
	for _, v := range m.data {
		out = append(out, *v.Clone())
	}
	m.data = make(map[string]*record.LayerNode)
	return out
}
