package record

import (
	"math"
	"testing"
)

func TestPointRoundTrip(t *testing.T) {
	p := Point{Idx: 42, V: []float32{1, -2.5, 0, float32(math.Pi)}}
	got, err := DecodePointB64(EncodePointB64(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Idx != p.Idx || len(got.V) != len(p.V) {
		t.Fatalf("got %+v, want %+v", got, p)
	}
	for i := range p.V {
		if got.V[i] != p.V[i] {
			t.Fatalf("V[%d] = %v, want %v", i, got.V[i], p.V[i])
		}
	}
}

func TestPointEmptyVector(t *testing.T) {
	p := Point{Idx: 7, V: []float32{}}
	got, err := DecodePointB64(EncodePointB64(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Idx != 7 || len(got.V) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestLayerNodeRoundTrip(t *testing.T) {
	n := LayerNode{
		Level: 2,
		Idx:   10,
		Neighbors: map[uint32]float32{
			5: 0.1,
			1: 0.9,
			3: 0.4,
		},
	}
	got, err := DecodeLayerNodeB64(EncodeLayerNodeB64(n))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Level != n.Level || got.Idx != n.Idx || len(got.Neighbors) != len(n.Neighbors) {
		t.Fatalf("got %+v, want %+v", got, n)
	}
	for k, v := range n.Neighbors {
		if got.Neighbors[k] != v {
			t.Fatalf("neighbor %d = %v, want %v", k, got.Neighbors[k], v)
		}
	}
}

func TestLayerNodeDeterministicEncoding(t *testing.T) {
	n := LayerNode{Level: 0, Idx: 1, Neighbors: map[uint32]float32{9: 1, 2: 2, 5: 3}}
	a := EncodeLayerNode(n)
	b := EncodeLayerNode(n)
	if string(a) != string(b) {
		t.Fatalf("encoding is not deterministic across calls")
	}
}

func TestDecodePointRejectsTrailingGarbage(t *testing.T) {
	raw := EncodePoint(Point{Idx: 1, V: []float32{1}})
	raw = append(raw, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	if _, err := DecodePoint(raw); err == nil {
		t.Fatalf("expected error decoding truncated/garbage varint tail")
	}
}

func TestFromBase64RejectsInvalidInput(t *testing.T) {
	if _, err := FromBase64([]byte("not-valid-base64!!!")); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}
