package hnsw

import "container/heap"

// distItem is one entry in a dual-purpose heap: isMax distinguishes a
// min-heap "candidates" frontier from a max-heap "results" set,
// mirroring the teacher's hnswDistItem/hnswDistHeap exactly.
type distItem struct {
	id    uint32
	dist  float64
	isMax bool
}

type distHeap []distItem

func (h distHeap) Len() int { return len(h) }
func (h distHeap) Less(i, j int) bool {
	if h[i].isMax {
		return h[i].dist > h[j].dist
	}
	return h[i].dist < h[j].dist
}
func (h distHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *distHeap) Push(x any) { *h = append(*h, x.(distItem)) }

func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// searchScratch bundles the two heaps and visited set a single
// searchLayer call needs, reused across calls via Graph.heapPool so
// Search doesn't grow the heap on every query, per spec.md §9's
// per-goroutine scratch allocation note.
type searchScratch struct {
	candidates distHeap
	results    distHeap
	visited    map[uint32]bool
}

func newSearchScratch() *searchScratch {
	return &searchScratch{
		candidates: make(distHeap, 0, 64),
		results:    make(distHeap, 0, 64),
		visited:    make(map[uint32]bool, 64),
	}
}

func (s *searchScratch) reset() {
	s.candidates = s.candidates[:0]
	s.results = s.results[:0]
	for k := range s.visited {
		delete(s.visited, k)
	}
}

// searchLayer performs a best-first beam search at level, returning up
// to ef ids ordered nearest-first. Grounded on the teacher's
// searchLayer: a min-heap frontier and a bounded max-heap of the best
// results seen so far, pruning the frontier once its best candidate is
// farther than the current worst kept result.
func (g *Graph) searchLayer(query []float32, entry uint32, ef int, level int) ([]uint32, error) {
	scratch := g.heapPool.Get().(*searchScratch)
	defer func() {
		scratch.reset()
		g.heapPool.Put(scratch)
	}()

	entryVec, err := g.vectorOf(entry)
	if err != nil {
		return nil, err
	}
	entryDist := g.dist(query, entryVec)

	scratch.visited[entry] = true
	heap.Push(&scratch.candidates, distItem{id: entry, dist: entryDist, isMax: false})
	heap.Push(&scratch.results, distItem{id: entry, dist: entryDist, isMax: true})

	for scratch.candidates.Len() > 0 {
		closest := heap.Pop(&scratch.candidates).(distItem)

		if scratch.results.Len() >= ef {
			furthest := scratch.results[0]
			if closest.dist > furthest.dist {
				break
			}
		}

		rec := g.nodes[closest.id]
		rec.mu.RLock()
		var neighbors []uint32
		if level < len(rec.neighbors) {
			neighbors = rec.neighbors[level]
		}
		rec.mu.RUnlock()

		for _, nbID := range neighbors {
			if scratch.visited[nbID] {
				continue
			}
			scratch.visited[nbID] = true

			nbVec, err := g.vectorOf(nbID)
			if err != nil {
				continue
			}
			d := g.dist(query, nbVec)

			if scratch.results.Len() < ef || d < scratch.results[0].dist {
				heap.Push(&scratch.candidates, distItem{id: nbID, dist: d, isMax: false})
				heap.Push(&scratch.results, distItem{id: nbID, dist: d, isMax: true})
				if scratch.results.Len() > ef {
					heap.Pop(&scratch.results)
				}
			}
		}
	}

	out := make([]uint32, scratch.results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&scratch.results).(distItem).id
	}
	return out, nil
}
