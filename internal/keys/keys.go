// Package keys builds the byte keys used to address points, layer-nodes and
// index-wide scalars inside the KV namespace of a single tenant.
//
// Layout:
//
//	point i            -> T.value.i
//	layer-node (l,i)   -> T.value.l:i
//	metadata for i     -> T.value.m:i
//	scalar datasize    -> T.value.datasize
//	scalar num_layers  -> T.value.num_layers
//	scalar ep          -> T.value.ep
//	scalar dim         -> T.value.dim
package keys

import "strconv"

// Point returns the key for the point at global index idx.
func Point(tenant string, idx uint32) []byte {
	return buf(tenant, ".value.", strconv.FormatUint(uint64(idx), 10))
}

// Node returns the key for the layer-node (level, idx).
func Node(tenant string, level, idx uint32) []byte {
	return buf(tenant, ".value.", strconv.FormatUint(uint64(level), 10), ":", strconv.FormatUint(uint64(idx), 10))
}

// Metadata returns the key for the metadata blob of idx.
func Metadata(tenant string, idx uint32) []byte {
	return buf(tenant, ".value.m:", strconv.FormatUint(uint64(idx), 10))
}

// Datasize returns the key for the tenant's datasize scalar.
func Datasize(tenant string) []byte {
	return buf(tenant, ".value.datasize")
}

// NumLayers returns the key for the tenant's num_layers scalar.
func NumLayers(tenant string) []byte {
	return buf(tenant, ".value.num_layers")
}

// EntryPoint returns the key for the tenant's ep scalar.
func EntryPoint(tenant string) []byte {
	return buf(tenant, ".value.ep")
}

// Dimension returns the key for the tenant's fixed vector dimension,
// established on first insert and checked against every later one so a
// process restart can still reject a mismatched vector.
func Dimension(tenant string) []byte {
	return buf(tenant, ".value.dim")
}

// NodeMapKey returns the in-memory synchronized-node-map key "level:idx"
// used by internal/syncmap, distinct from the KV key above.
func NodeMapKey(level, idx uint32) string {
	b := make([]byte, 0, 24)
	b = strconv.AppendUint(b, uint64(level), 10)
	b = append(b, ':')
	b = strconv.AppendUint(b, uint64(idx), 10)
	return string(b)
}

func buf(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 0, n)
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}
