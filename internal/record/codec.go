package record

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field tags for the wire encoding below.
const (
	pointTagIdx = protowire.Number(1)
	pointTagV   = protowire.Number(2)

	nodeTagLevel     = protowire.Number(1)
	nodeTagIdx       = protowire.Number(2)
	nodeTagNeighbors = protowire.Number(3)

	// Fields of the embedded map-entry message used for tag 3 of LayerNode.
	entryTagKey   = protowire.Number(1)
	entryTagValue = protowire.Number(2)
)

// EncodePoint serializes p as a length-delimited tagged record.
func EncodePoint(p Point) []byte {
	var b []byte
	b = protowire.AppendTag(b, pointTagIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Idx))

	vbytes := make([]byte, 4*len(p.V))
	for i, f := range p.V {
		binary.LittleEndian.PutUint32(vbytes[i*4:], math.Float32bits(f))
	}
	b = protowire.AppendTag(b, pointTagV, protowire.BytesType)
	b = protowire.AppendBytes(b, vbytes)
	return b
}

// DecodePoint parses bytes produced by EncodePoint. Trailing garbage is
// rejected.
func DecodePoint(b []byte) (Point, error) {
	var p Point
	var sawV bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Point{}, fmt.Errorf("record: point: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case pointTagIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || typ != protowire.VarintType {
				return Point{}, fmt.Errorf("record: point: bad idx field")
			}
			p.Idx = uint32(v)
			b = b[n:]
		case pointTagV:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || typ != protowire.BytesType {
				return Point{}, fmt.Errorf("record: point: bad v field")
			}
			if len(v)%4 != 0 {
				return Point{}, fmt.Errorf("record: point: vector byte length %d not a multiple of 4", len(v))
			}
			p.V = make([]float32, len(v)/4)
			for i := range p.V {
				p.V[i] = math.Float32frombits(binary.LittleEndian.Uint32(v[i*4:]))
			}
			sawV = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Point{}, fmt.Errorf("record: point: bad unknown field %d", num)
			}
			b = b[n:]
		}
	}
	if !sawV {
		p.V = []float32{}
	}
	return p, nil
}

// EncodeLayerNode serializes n as a length-delimited tagged record. Neighbor
// entries are emitted in ascending key order so that encode(decode(x)) is
// bit-exact regardless of Go's randomized map iteration order.
func EncodeLayerNode(n LayerNode) []byte {
	var b []byte
	b = protowire.AppendTag(b, nodeTagLevel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Level))
	b = protowire.AppendTag(b, nodeTagIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Idx))

	keys := make([]uint32, 0, len(n.Neighbors))
	for k := range n.Neighbors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, entryTagKey, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(k))
		entry = protowire.AppendTag(entry, entryTagValue, protowire.Fixed32Type)
		entry = protowire.AppendFixed32(entry, math.Float32bits(n.Neighbors[k]))

		b = protowire.AppendTag(b, nodeTagNeighbors, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

// DecodeLayerNode parses bytes produced by EncodeLayerNode. Trailing garbage
// is rejected.
func DecodeLayerNode(b []byte) (LayerNode, error) {
	var n LayerNode
	n.Neighbors = make(map[uint32]float32)

	for len(b) > 0 {
		num, typ, tn := protowire.ConsumeTag(b)
		if tn < 0 {
			return LayerNode{}, fmt.Errorf("record: layernode: bad tag: %w", protowire.ParseError(tn))
		}
		b = b[tn:]

		switch num {
		case nodeTagLevel:
			v, cn := protowire.ConsumeVarint(b)
			if cn < 0 || typ != protowire.VarintType {
				return LayerNode{}, fmt.Errorf("record: layernode: bad level field")
			}
			n.Level = uint32(v)
			b = b[cn:]
		case nodeTagIdx:
			v, cn := protowire.ConsumeVarint(b)
			if cn < 0 || typ != protowire.VarintType {
				return LayerNode{}, fmt.Errorf("record: layernode: bad idx field")
			}
			n.Idx = uint32(v)
			b = b[cn:]
		case nodeTagNeighbors:
			entryBytes, cn := protowire.ConsumeBytes(b)
			if cn < 0 || typ != protowire.BytesType {
				return LayerNode{}, fmt.Errorf("record: layernode: bad neighbor entry")
			}
			key, val, err := decodeMapEntry(entryBytes)
			if err != nil {
				return LayerNode{}, err
			}
			n.Neighbors[key] = val
			b = b[cn:]
		default:
			cn := protowire.ConsumeFieldValue(num, typ, b)
			if cn < 0 {
				return LayerNode{}, fmt.Errorf("record: layernode: bad unknown field %d", num)
			}
			b = b[cn:]
		}
	}
	return n, nil
}

func decodeMapEntry(b []byte) (uint32, float32, error) {
	var key uint32
	var val float32
	var sawKey, sawVal bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, fmt.Errorf("record: layernode: bad map-entry tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case entryTagKey:
			v, cn := protowire.ConsumeVarint(b)
			if cn < 0 || typ != protowire.VarintType {
				return 0, 0, fmt.Errorf("record: layernode: bad map-entry key")
			}
			key = uint32(v)
			sawKey = true
			b = b[cn:]
		case entryTagValue:
			v, cn := protowire.ConsumeFixed32(b)
			if cn < 0 || typ != protowire.Fixed32Type {
				return 0, 0, fmt.Errorf("record: layernode: bad map-entry value")
			}
			val = math.Float32frombits(v)
			sawVal = true
			b = b[cn:]
		default:
			cn := protowire.ConsumeFieldValue(num, typ, b)
			if cn < 0 {
				return 0, 0, fmt.Errorf("record: layernode: bad map-entry unknown field %d", num)
			}
			b = b[cn:]
		}
	}
	if !sawKey || !sawVal {
		return 0, 0, fmt.Errorf("record: layernode: incomplete map entry")
	}
	return key, val, nil
}

// ToBase64 wraps raw tagged-record bytes for storage as a KV string value.
func ToBase64(raw []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}

// FromBase64 reverses ToBase64, rejecting trailing garbage that is not
// valid base64.
func FromBase64(b []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(b)))
	n, err := base64.StdEncoding.Decode(out, b)
	if err != nil {
		return nil, fmt.Errorf("record: invalid base64: %w", err)
	}
	return out[:n], nil
}

// EncodePointB64 is EncodePoint followed by base64 wrapping, ready for a KV put.
func EncodePointB64(p Point) []byte { return ToBase64(EncodePoint(p)) }

// DecodePointB64 reverses EncodePointB64.
func DecodePointB64(b []byte) (Point, error) {
	raw, err := FromBase64(b)
	if err != nil {
		return Point{}, err
	}
	return DecodePoint(raw)
}

// EncodeLayerNodeB64 is EncodeLayerNode followed by base64 wrapping.
func EncodeLayerNodeB64(n LayerNode) []byte { return ToBase64(EncodeLayerNode(n)) }

// DecodeLayerNodeB64 reverses EncodeLayerNodeB64.
func DecodeLayerNodeB64(b []byte) (LayerNode, error) {
	raw, err := FromBase64(b)
	if err != nil {
		return LayerNode{}, err
	}
	return DecodeLayerNode(raw)
}
