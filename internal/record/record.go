// Package record defines the Point and LayerNode graph entities and
// their binary encoding: length-delimited tagged fields written with
// google.golang.org/protobuf's low-level wire helpers rather than a
// generated .pb.go, then base64-wrapped so the bytes survive as KV
// string values.
package record

// Point is the stored vector at global index Idx. Immutable once written.
type Point struct {
	Idx uint32
	V   []float32
}

// LayerNode is the adjacency list of point Idx at layer Level: each
// neighbor index maps to its precomputed distance to Idx.
type LayerNode struct {
	Level     uint32
	Idx       uint32
	Neighbors map[uint32]float32
}

// Clone returns a deep copy, used whenever a LayerNode crosses a
// cache/syncmap boundary so callers never share mutable state.
func (n *LayerNode) Clone() *LayerNode {
	if n == nil {
		return nil
	}
	cp := &LayerNode{Level: n.Level, Idx: n.Idx}
	if n.Neighbors != nil {
		cp.Neighbors = make(map[uint32]float32, len(n.Neighbors))
		for k, v := range n.Neighbors {
			cp.Neighbors[k] = v
		}
	}
	return cp
}
