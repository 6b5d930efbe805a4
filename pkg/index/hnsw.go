package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"

	"docuquery/pkg/domain"
)

// hnswGraph is a small hierarchical navigable small-world index over
// the request's embedded chunks. Parameters are fixed: the index
// lives for one request and corpora are at most a few thousand
// chunks, so tuning knobs are not exposed.
type hnswGraph struct {
	entries    []domain.EmbeddedChunk
	layers     []map[int][]int // layer -> node -> neighbors
	entryPoint int
	maxLayer   int
	rng        *rand.Rand
}

const (
	hnswM              = 16
	hnswEfConstruction = 100
	hnswEfSearch       = 64
)

func buildHNSW(entries []domain.EmbeddedChunk) *hnswGraph {
	g := &hnswGraph{
		entries:    entries,
		entryPoint: -1,
		// Deterministic seed: identical corpora build identical graphs,
		// which keeps the recall-floor tests reproducible.
		rng: rand.New(rand.NewSource(int64(len(entries)))),
	}
	for i := range entries {
		g.insert(i)
	}
	return g
}

func (g *hnswGraph) randomLevel() int {
	level := 0
	for g.rng.Float64() < 1.0/float64(hnswM) && level < 16 {
		level++
	}
	return level
}

func (g *hnswGraph) neighbors(layer, node int) []int {
	if layer >= len(g.layers) {
		return nil
	}
	return g.layers[layer][node]
}

func (g *hnswGraph) dist(a int, vec []float32) float64 {
	// Negated cosine: smaller is closer.
	return -Cosine(g.entries[a].Vector, vec)
}

func (g *hnswGraph) insert(id int) {
	level := g.randomLevel()
	for len(g.layers) <= level {
		g.layers = append(g.layers, make(map[int][]int))
	}

	if g.entryPoint < 0 {
		for l := 0; l <= level; l++ {
			g.layers[l][id] = nil
		}
		g.entryPoint = id
		g.maxLayer = level
		return
	}

	vec := g.entries[id].Vector
	ep := g.entryPoint

	// Greedy descent through the layers above the insertion level.
	for l := g.maxLayer; l > level; l-- {
		ep = g.greedyClosest(l, ep, vec)
	}

	for l := min(level, g.maxLayer); l >= 0; l-- {
		candidates := g.searchLayer(l, ep, vec, hnswEfConstruction)
		m := hnswM
		if l == 0 {
			m = hnswM * 2
		}

		selected := candidates
		if len(selected) > m {
			selected = selected[:m]
		}

		g.layers[l][id] = append([]int(nil), selected...)
		for _, n := range selected {
			g.layers[l][n] = append(g.layers[l][n], id)
			if len(g.layers[l][n]) > m {
				g.layers[l][n] = g.pruneNeighbors(l, n, m)
			}
		}
		if len(selected) > 0 {
			ep = selected[0]
		}
	}

	if level > g.maxLayer {
		g.maxLayer = level
		g.entryPoint = id
	}
}

func (g *hnswGraph) pruneNeighbors(layer, node, m int) []int {
	ns := g.layers[layer][node]
	vec := g.entries[node].Vector
	sort.Slice(ns, func(a, b int) bool {
		return g.dist(ns[a], vec) < g.dist(ns[b], vec)
	})
	if len(ns) > m {
		ns = ns[:m]
	}
	return ns
}

func (g *hnswGraph) greedyClosest(layer, start int, vec []float32) int {
	current := start
	currentDist := g.dist(current, vec)
	for {
		improved := false
		for _, n := range g.neighbors(layer, current) {
			if d := g.dist(n, vec); d < currentDist {
				current, currentDist = n, d
				improved = true
			}
		}
		if !improved {
			return current
		}
	}
}

// searchLayer runs a best-first search on one layer and returns up to
// ef candidates ordered closest first.
func (g *hnswGraph) searchLayer(layer, ep int, vec []float32, ef int) []int {
	visited := map[int]bool{ep: true}

	candidates := &distHeap{}
	results := &distHeap{max: true}
	heap.Init(candidates)
	heap.Init(results)

	d := g.dist(ep, vec)
	heap.Push(candidates, distNode{ep, d})
	heap.Push(results, distNode{ep, d})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(distNode)
		worst := (*results).peek()
		if results.Len() >= ef && c.dist > worst.dist {
			break
		}

		for _, n := range g.neighbors(layer, c.id) {
			if visited[n] {
				continue
			}
			visited[n] = true
			nd := g.dist(n, vec)
			if results.Len() < ef || nd < (*results).peek().dist {
				heap.Push(candidates, distNode{n, nd})
				heap.Push(results, distNode{n, nd})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]int, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distNode).id
	}
	return out
}

func (g *hnswGraph) search(vec []float32, k int) []domain.SearchResult {
	if g.entryPoint < 0 {
		return nil
	}

	ep := g.entryPoint
	for l := g.maxLayer; l > 0; l-- {
		ep = g.greedyClosest(l, ep, vec)
	}

	ef := hnswEfSearch
	if ef < k {
		ef = k
	}
	ids := g.searchLayer(0, ep, vec, ef)
	if len(ids) > k {
		ids = ids[:k]
	}

	results := make([]domain.SearchResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, domain.SearchResult{
			Chunk: g.entries[id].Chunk,
			Score: Cosine(g.entries[id].Vector, vec),
		})
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	return results
}

type distNode struct {
	id   int
	dist float64
}

// distHeap is a min-heap by default, max-heap when max is set.
type distHeap struct {
	nodes []distNode
	max   bool
}

func (h distHeap) Len() int { return len(h.nodes) }
func (h distHeap) Less(a, b int) bool {
	if h.max {
		return h.nodes[a].dist > h.nodes[b].dist
	}
	return h.nodes[a].dist < h.nodes[b].dist
}
func (h distHeap) Swap(a, b int)       { h.nodes[a], h.nodes[b] = h.nodes[b], h.nodes[a] }
func (h *distHeap) Push(x interface{}) { h.nodes = append(h.nodes, x.(distNode)) }
func (h *distHeap) Pop() interface{} {
	old := h.nodes
	n := len(old)
	x := old[n-1]
	h.nodes = old[:n-1]
	return x
}

func (h distHeap) peek() distNode {
	if len(h.nodes) == 0 {
		return distNode{-1, math.Inf(1)}
	}
	return h.nodes[0]
}
