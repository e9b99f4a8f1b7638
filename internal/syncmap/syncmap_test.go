package syncmap

import (
	"context"
	"testing"
	"time"

	"github.com/dria-labs/hnswdb/internal/keys"
	"github.com/dria-labs/hnswdb/internal/record"
)

func TestGetOrWaitOptReturnsImmediatelyWithoutRegistration(t *testing.T) {
	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	_, ok := m.GetOrWaitOpt(ctx, keys.NodeMapKey(0, 1))
	if ok {
		t.Fatalf("expected not-found for an absent key with no registration")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("GetOrWaitOpt blocked for %v with no registration present", elapsed)
	}
}

func TestGetOrWaitOptWakesOnNotifyAfterRegistration(t *testing.T) {
	m := New()
	key := keys.NodeMapKey(0, 1)
	m.RegisterForNotification(key)

	done := make(chan *record.LayerNode, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, _ := m.GetOrWaitOpt(ctx, key)
		done <- n
	}()

	time.Sleep(20 * time.Millisecond)
	m.InsertAndNotify(record.LayerNode{Level: 0, Idx: 1, Neighbors: map[uint32]float32{}})

	select {
	case n := <-done:
		if n == nil || n.Idx != 1 {
			t.Fatalf("got %+v, want idx 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("GetOrWaitOpt never woke after notify")
	}
}

func TestGetOrWaitRegistersAndSucceeds(t *testing.T) {
	m := New()
	key := keys.NodeMapKey(1, 7)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := m.GetOrWait(ctx, key)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	m.InsertAndNotify(record.LayerNode{Level: 1, Idx: 7, Neighbors: map[uint32]float32{}})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("GetOrWait returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("GetOrWait never returned")
	}
}

func TestGetOrWaitRespectsContextCancellation(t *testing.T) {
	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.GetOrWait(ctx, keys.NodeMapKey(0, 99))
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestResetOnlyClearsAboveSoftCap(t *testing.T) {
	m := New()
	m.InsertAndNotify(record.LayerNode{Level: 0, Idx: 1, Neighbors: map[uint32]float32{}})
	m.Reset()
	if m.Len() != 1 {
		t.Fatalf("Reset cleared a map below the soft cap, len = %d", m.Len())
	}
}

func TestDrainSnapshotsAndClears(t *testing.T) {
	m := New()
	m.InsertBatchAndNotify([]record.LayerNode{
		{Level: 0, Idx: 1, Neighbors: map[uint32]float32{}},
		{Level: 0, Idx: 2, Neighbors: map[uint32]float32{}},
	})
	nodes := m.Drain()
	if len(nodes) != 2 {
		t.Fatalf("Drain returned %d nodes, want 2", len(nodes))
	}
	if m.Len() != 0 {
		t.Fatalf("Drain left %d nodes behind, want 0", m.Len())
	}
}

func TestGetDoesNotMutateStoredNodeOnCallerEdit(t *testing.T) {
	m := New()
	m.InsertAndNotify(record.LayerNode{Level: 0, Idx: 1, Neighbors: map[uint32]float32{2: 0.5}})

	n, ok := m.Get(keys.NodeMapKey(0, 1))
	if !ok {
		t.Fatalf("expected to find the inserted node")
	}
	n.Neighbors[3] = 9.9

	again, _ := m.Get(keys.NodeMapKey(0, 1))
	if _, tampered := again.Neighbors[3]; tampered {
		t.Fatalf("mutating a Get() result leaked into the stored node")
	}
}
