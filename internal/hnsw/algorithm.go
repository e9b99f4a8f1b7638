package hnsw

import (
	"context"

	"github.com/dria-labs/hnswdb/internal/distance"
	"github.com/dria-labs/hnswdb/internal/errs"
	"github.com/dria-labs/hnswdb/internal/record"
)

// searchLayer does a greedy best-first expansion through a single
// layer, seeded from ep, keeping at most the ef best candidates found.
func (ix *Index) searchLayer(ctx context.Context, q []float32, ep map[uint32]float32, ef int, layer uint32) (map[uint32]float32, error) {
	visited := make(map[uint32]bool, len(ep))
	c := NewMinHeap()
	w := NewMaxHeap()
	for id, d := range ep {
		visited[id] = true
		c.Push(Candidate{ID: id, Distance: d})
		w.Push(Candidate{ID: id, Distance: d})
	}

	for c.Len() > 0 {
		cur, _ := c.Pop()
		if top, ok := w.Top(); ok && cmp(cur.Distance, top.Distance) > 0 {
			break
		}

		node, found, err := ix.loadNodeOrWait(ctx, layer, cur.ID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		for _, nb := range sortedAscending(node.Neighbors) {
			if visited[nb.ID] {
				continue
			}
			visited[nb.ID] = true

			nbPoint, err := ix.loadPoint(ctx, nb.ID)
			if err != nil {
				if errs.Is(err, errs.NotFound) {
					continue
				}
				return nil, err
			}
			d := ix.distFn(q, nbPoint.V)

			top, ok := w.Top()
			if !ok || cmp(d, top.Distance) < 0 || w.Len() < ef {
				c.Push(Candidate{ID: nb.ID, Distance: d})
				w.Push(Candidate{ID: nb.ID, Distance: d})
				if w.Len() > ef {
					w.Pop()
				}
			}
		}
	}

	entries := w.Entries()
	if ef == 1 {
		if len(entries) == 0 {
			return map[uint32]float32{}, nil
		}
		best := entries[0]
		for _, e := range entries[1:] {
			if cmp(e.Distance, best.Distance) < 0 {
				best = e
			}
		}
		return map[uint32]float32{best.ID: best.Distance}, nil
	}

	out := make(map[uint32]float32, len(entries))
	for _, e := range entries {
		out[e.ID] = e.Distance
	}
	return out, nil
}

// selectNeighbors picks a layer's M' neighbors out of candidates: sort
// ascending, keep the first M' that each strictly improve on the
// current worst kept, then optionally refill from the discarded set.
func (ix *Index) selectNeighbors(candidates map[uint32]float32, layer uint32, keepPruned bool) map[uint32]float32 {
	mPrime := ix.cfg.M
	if layer == 0 {
		mPrime = ix.mMax0
	}
	return selectNeighborsN(candidates, mPrime, keepPruned)
}

// selectNeighborsN is selectNeighbors parameterized directly by M',
// reused by Insert's neighbor-repruning step, which has already
// computed M' for the layer.
func selectNeighborsN(candidates map[uint32]float32, mPrime int, keepPruned bool) map[uint32]float32 {
	sorted := sortedAscending(candidates)

	var r []Candidate
	var wd []Candidate
	for _, e := range sorted {
		if len(r) >= mPrime {
			break
		}
		if len(r) == 0 || cmp(e.Distance, r[len(r)-1].Distance) < 0 {
			r = append(r, e)
		} else {
			wd = append(wd, e)
		}
	}
	if keepPruned {
		for _, e := range wd {
			if len(r) >= mPrime {
				break
			}
			r = append(r, e)
		}
	}

	out := make(map[uint32]float32, len(r))
	for _, e := range r {
		out[e.ID] = e.Distance
	}
	return out
}

// Insert adds the point at idx to the graph, connecting it into every
// layer up to a freshly drawn level. The point at idx must already be
// persisted by the build coordinator before this is called.
func (ix *Index) Insert(ctx context.Context, idx uint32) error {
	point, err := ix.loadPoint(ctx, idx)
	if err != nil {
		return err
	}

	epIdx := ix.ep.Load()
	numLayers := ix.numLayers.Load()
	L := -1
	if numLayers > 0 {
		L = int(numLayers) - 1
	}
	l := ix.selectLayer()

	entry := map[uint32]float32{}
	if epIdx != noEntryPoint {
		epPoint, err := ix.loadPoint(ctx, uint32(epIdx))
		if err != nil {
			return err
		}
		d := ix.distFn(point.V, epPoint.V)
		entry[uint32(epIdx)] = d

		for layer := L; layer > l; layer-- {
			w, err := ix.searchLayer(ctx, point.V, entry, 1, uint32(layer))
			if err != nil {
				return err
			}
			if better(w, entry) {
				entry = w
			}
		}

		minLayer := l
		if L < minLayer {
			minLayer = L
		}
		for layer := minLayer; layer >= 0; layer-- {
			w, err := ix.searchLayer(ctx, point.V, entry, ix.cfg.EfConstruction, uint32(layer))
			if err != nil {
				return err
			}

			if ix.tenant != nil {
				ix.tenant.Nodes.InsertAndNotify(record.LayerNode{Level: uint32(layer), Idx: idx, Neighbors: map[uint32]float32{}})
			}

			n := ix.selectNeighbors(w, uint32(layer), true)

			ids := make([]uint32, 0, len(n)+1)
			for nb := range n {
				ids = append(ids, nb)
			}
			ids = append(ids, idx)

			existing, err := ix.loadNodes(ctx, uint32(layer), ids)
			if err != nil {
				return err
			}
			newNode := existing[idx]
			newNode.Level, newNode.Idx = uint32(layer), idx
			if newNode.Neighbors == nil {
				newNode.Neighbors = map[uint32]float32{}
			}

			mPrime := ix.cfg.M
			if layer == 0 {
				mPrime = ix.mMax0
			}

			toPublish := make([]record.LayerNode, 0, len(n)+1)
			for nb, d := range n {
				neighborNode, ok := existing[nb]
				if !ok {
					neighborNode = record.LayerNode{Level: uint32(layer), Idx: nb, Neighbors: map[uint32]float32{}}
				}
				if neighborNode.Neighbors == nil {
					neighborNode.Neighbors = map[uint32]float32{}
				}
				neighborNode.Neighbors[idx] = d
				newNode.Neighbors[nb] = d

				if len(neighborNode.Neighbors) > mPrime {
					neighborNode.Neighbors = selectNeighborsN(neighborNode.Neighbors, mPrime, true)
				}
				toPublish = append(toPublish, neighborNode)
			}
			toPublish = append(toPublish, newNode)

			if ix.tenant != nil {
				ix.tenant.Nodes.InsertBatchAndNotify(toPublish)
			}
			entry = w
		}
	}

	for layer := int(numLayers); layer <= l; layer++ {
		if ix.tenant != nil {
			ix.tenant.Nodes.InsertAndNotify(record.LayerNode{Level: uint32(layer), Idx: idx, Neighbors: map[uint32]float32{}})
		}
	}

	ix.raiseNumLayers(uint64(l+1), idx)
	return nil
}

// raiseNumLayers applies the monotone update rule new = max(old,
// candidate) via CAS, retrying against concurrent writers. ep only
// moves to idx inside the branch that actually wins the CAS: two
// workers racing this function with their own stale numLayers snapshot
// must not both set ep unconditionally, or the loser can leave ep
// pointing at a point that isn't on the graph's current top layer.
func (ix *Index) raiseNumLayers(candidate uint64, idx uint32) {
	for {
		old := ix.numLayers.Load()
		if candidate <= old {
			return
		}
		if ix.numLayers.CompareAndSwap(old, candidate) {
			ix.ep.Store(int64(idx))
			return
		}
	}
}

// better reports whether w's best entry is strictly closer than
// entry's, used by insert's upper-layer greedy-descent "if improved,
// adopt" step.
func better(w, entry map[uint32]float32) bool {
	wBest, wOK := bestOf(w)
	eBest, eOK := bestOf(entry)
	if !wOK {
		return false
	}
	if !eOK {
		return true
	}
	return cmp(wBest, eBest) < 0
}

func bestOf(m map[uint32]float32) (float32, bool) {
	best := float32(0)
	ok := false
	for _, d := range m {
		if !ok || cmp(d, best) < 0 {
			best = d
			ok = true
		}
	}
	return best, ok
}

// Result is one row of a Knn response.
type Result struct {
	Idx   uint32
	Score float32
}

// Knn returns the K nearest neighbors of q using the Index's configured
// Ef: descend greedily through the upper layers, then do a wide search
// at layer 0 and return the K best by score.
func (ix *Index) Knn(ctx context.Context, q []float32, k int) ([]Result, error) {
	return ix.KnnEf(ctx, q, k, ix.cfg.Ef)
}

// KnnEf is Knn parameterized by an explicit ef, letting a caller widen
// or narrow a single query's search without needing a distinct Index
// per ef value.
func (ix *Index) KnnEf(ctx context.Context, q []float32, k int, ef int) ([]Result, error) {
	if err := ix.LoadAtomics(ctx); err != nil {
		return nil, err
	}
	if ix.Empty() {
		return nil, nil
	}

	epIdx := ix.ep.Load()
	numLayers := ix.numLayers.Load()

	epPoint, err := ix.loadPoint(ctx, uint32(epIdx))
	if err != nil {
		return nil, err
	}
	entry := map[uint32]float32{uint32(epIdx): ix.distFn(q, epPoint.V)}

	for layer := int(numLayers) - 1; layer >= 1; layer-- {
		w, err := ix.searchLayer(ctx, q, entry, 1, uint32(layer))
		if err != nil {
			return nil, err
		}
		entry = w
	}

	final, err := ix.searchLayer(ctx, q, entry, ef, 0)
	if err != nil {
		return nil, err
	}

	sorted := sortedAscending(final)
	if k > len(sorted) {
		k = len(sorted)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{Idx: sorted[i].ID, Score: distance.ScoreOf(ix.cfg.Metric, sorted[i].Distance)}
	}
	return out, nil
}
