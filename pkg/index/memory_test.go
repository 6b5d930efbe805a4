package index

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"docuquery/pkg/domain"
)

func chunkN(n int) domain.Chunk {
	return domain.Chunk{PageNumber: n + 1, Content: fmt.Sprintf("chunk %d", n)}
}

func TestSearch_TopKSorted(t *testing.T) {
	m := NewMemory()
	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	for i, v := range vectors {
		m.Insert(chunkN(i), v)
	}

	results := m.Search([]float32{1, 0, 0}, 3)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: score[%d]=%f > score[%d]=%f",
				i, results[i].Score, i-1, results[i-1].Score)
		}
	}
	if results[0].Chunk.Content != "chunk 0" {
		t.Errorf("best match = %q, want chunk 0", results[0].Chunk.Content)
	}
}

func TestSearch_TiesByInsertionOrder(t *testing.T) {
	m := NewMemory()
	// Three identical vectors: ties must come back in insertion order.
	for i := 0; i < 3; i++ {
		m.Insert(chunkN(i), []float32{1, 1, 0})
	}

	results := m.Search([]float32{1, 1, 0}, 3)
	for i, r := range results {
		if r.Chunk.Content != fmt.Sprintf("chunk %d", i) {
			t.Errorf("position %d = %q, want chunk %d", i, r.Chunk.Content, i)
		}
	}
}

func TestSearch_KClamped(t *testing.T) {
	m := NewMemory()
	m.Insert(chunkN(0), []float32{1, 0})
	m.Insert(chunkN(1), []float32{0, 1})

	if got := len(m.Search([]float32{1, 0}, 10)); got != 2 {
		t.Errorf("got %d results, want index size 2", got)
	}
	if got := m.Search([]float32{1, 0}, 0); got != nil {
		t.Errorf("k=0 returned %d results", len(got))
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	m := NewMemory()
	if got := m.Search([]float32{1, 0}, 5); got != nil {
		t.Errorf("empty index returned %d results", len(got))
	}
}

func TestCosine(t *testing.T) {
	testCases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Cosine = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestReport(t *testing.T) {
	m := NewMemory()
	m.Insert(domain.Chunk{Content: "abcd"}, []float32{1, 2, 3})

	report := m.Report()
	if report.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d", report.ChunkCount)
	}
	want := float64(3*4+4) / 1e6
	if math.Abs(report.EstimatedMemoryMB-want) > 1e-12 {
		t.Errorf("EstimatedMemoryMB = %g, want %g", report.EstimatedMemoryMB, want)
	}
}

// TestHNSW_RecallFloor builds a seeded corpus large enough to trip the
// HNSW threshold and checks graph recall against the exact scan.
func TestHNSW_RecallFloor(t *testing.T) {
	const (
		n    = 500
		dims = 32
		k    = 10
	)
	rng := rand.New(rand.NewSource(42))

	exact := NewMemory()
	approx := NewMemory(WithHNSW(256))
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dims)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		vectors[i] = v
		exact.Insert(chunkN(i), v)
		approx.Insert(chunkN(i), v)
	}

	queries := 20
	totalRecall := 0.0
	for q := 0; q < queries; q++ {
		query := make([]float32, dims)
		for d := range query {
			query[d] = float32(rng.NormFloat64())
		}

		want := map[string]bool{}
		for _, r := range exact.Search(query, k) {
			want[r.Chunk.Content] = true
		}

		hits := 0
		for _, r := range approx.Search(query, k) {
			if want[r.Chunk.Content] {
				hits++
			}
		}
		totalRecall += float64(hits) / float64(k)
	}

	if recall := totalRecall / float64(queries); recall < 0.9 {
		t.Errorf("HNSW recall %.3f below 0.9 floor", recall)
	}
}

// TestHNSW_LayerNeighborLists builds a corpus large enough for upper
// layers to exist and checks the per-layer adjacency: every listed
// neighbor is a node on that layer and the degree bound holds.
func TestHNSW_LayerNeighborLists(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := make([]domain.EmbeddedChunk, 300)
	for i := range entries {
		v := make([]float32, 8)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		entries[i] = domain.EmbeddedChunk{ChunkID: i, Vector: v, Chunk: chunkN(i)}
	}

	g := buildHNSW(entries)
	if len(g.layers) < 2 {
		t.Fatalf("got %d layers, want upper layers for 300 entries", len(g.layers))
	}
	for layer, nodes := range g.layers {
		maxDegree := hnswM
		if layer == 0 {
			maxDegree = hnswM * 2
		}
		for node, neighbors := range nodes {
			if len(neighbors) > maxDegree {
				t.Errorf("layer %d node %d has %d neighbors, max %d",
					layer, node, len(neighbors), maxDegree)
			}
			for _, n := range neighbors {
				if _, ok := nodes[n]; !ok {
					t.Errorf("layer %d node %d lists %d, which is absent from the layer",
						layer, node, n)
				}
			}
		}
	}

	results := g.search(entries[17].Vector, 5)
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: score[%d]=%f > score[%d]=%f",
				i, results[i].Score, i-1, results[i-1].Score)
		}
	}
}

func TestHNSW_BelowThresholdUsesExact(t *testing.T) {
	m := NewMemory(WithHNSW(256))
	for i := 0; i < 10; i++ {
		m.Insert(chunkN(i), []float32{float32(i), 1})
	}
	m.Search([]float32{1, 1}, 3)
	if m.graph != nil {
		t.Error("graph built below threshold")
	}
}
