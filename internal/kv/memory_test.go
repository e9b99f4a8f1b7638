package kv

import (
	"context"
	"testing"
)

func TestMemoryGetMissingKeyIsNotAnError(t *testing.T) {
	m := NewMemory()
	_, found, err := m.Get(context.Background(), []byte("nope"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("found = true for a key never written")
	}
}

func TestMemoryPutGetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Put(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, found, err := m.Get(ctx, []byte("k"))
	if err != nil || !found {
		t.Fatalf("Get: value=%q found=%v err=%v", v, found, err)
	}
	if string(v) != "v" {
		t.Fatalf("Get = %q, want %q", v, "v")
	}
}

func TestMemoryMultiGetPreservesOrderAndFoundFlags(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, []byte("a"), []byte("1"))
	_ = m.Put(ctx, []byte("c"), []byte("3"))

	results, err := m.MultiGet(ctx, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if err != nil {
		t.Fatalf("MultiGet: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Found || string(results[0].Value) != "1" {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if results[1].Found {
		t.Fatalf("results[1].Found = true, want false")
	}
	if !results[2].Found || string(results[2].Value) != "3" {
		t.Fatalf("results[2] = %+v", results[2])
	}
}

func TestMemoryWriteBatchAppliesEveryEntry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	entries := []Entry{
		{Key: []byte("x"), Value: []byte("1")},
		{Key: []byte("y"), Value: []byte("2")},
	}
	if err := m.WriteBatch(ctx, entries); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	for _, e := range entries {
		v, found, err := m.Get(ctx, e.Key)
		if err != nil || !found || string(v) != string(e.Value) {
			t.Fatalf("Get(%q) = %q, %v, %v", e.Key, v, found, err)
		}
	}
}

func TestMemoryMutationAfterPutDoesNotAliasStoredValue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	val := []byte("original")
	_ = m.Put(ctx, []byte("k"), val)
	val[0] = 'X'

	got, _, _ := m.Get(ctx, []byte("k"))
	if string(got) != "original" {
		t.Fatalf("Get = %q, want %q (Put must copy its input)", got, "original")
	}
}
