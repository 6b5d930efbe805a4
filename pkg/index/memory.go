// Package index holds the per-request in-memory vector store. It is
// built once after embedding, queried once per question, and released
// with the request; nothing here is shared across requests.
package index

import (
	"math"
	"sort"

	"docuquery/pkg/domain"
)

// Memory is an append-only collection of embedded chunks with cosine
// top-k search. Exact scan by default; when HNSW is enabled and the
// index grows past the threshold, queries go through the graph with
// the same top-k contract.
type Memory struct {
	entries []domain.EmbeddedChunk

	useHNSW       bool
	hnswThreshold int
	graph         *hnswGraph
}

// Option configures a Memory index.
type Option func(*Memory)

// WithHNSW enables approximate search once the index holds more than
// threshold entries.
func WithHNSW(threshold int) Option {
	return func(m *Memory) {
		m.useHNSW = true
		if threshold > 0 {
			m.hnswThreshold = threshold
		}
	}
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{hnswThreshold: 256}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Insert appends a chunk with its vector. Insertion order is the
// chunker's output order, which is document order.
func (m *Memory) Insert(chunk domain.Chunk, vector []float32) {
	m.entries = append(m.entries, domain.EmbeddedChunk{
		ChunkID: len(m.entries),
		Vector:  vector,
		Chunk:   chunk,
	})
	m.graph = nil // stale after any insert
}

func (m *Memory) Size() int { return len(m.entries) }

// Search returns the top-k entries by cosine similarity, ties broken
// by insertion order. k is clamped to the index size; no score
// thresholding is applied.
func (m *Memory) Search(query []float32, k int) []domain.SearchResult {
	if k > len(m.entries) {
		k = len(m.entries)
	}
	if k <= 0 || len(query) == 0 {
		return nil
	}

	if m.useHNSW && len(m.entries) > m.hnswThreshold {
		if m.graph == nil {
			m.graph = buildHNSW(m.entries)
		}
		return m.graph.search(query, k)
	}

	return m.exactSearch(query, k)
}

func (m *Memory) exactSearch(query []float32, k int) []domain.SearchResult {
	type scored struct {
		idx   int
		score float64
	}

	scores := make([]scored, 0, len(m.entries))
	for i, e := range m.entries {
		scores = append(scores, scored{idx: i, score: Cosine(query, e.Vector)})
	}

	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].score > scores[b].score
	})

	results := make([]domain.SearchResult, 0, k)
	for _, s := range scores[:k] {
		results = append(results, domain.SearchResult{
			Chunk: m.entries[s.idx].Chunk,
			Score: s.score,
		})
	}
	return results
}

// MemoryReport estimates the index footprint: four bytes per vector
// component plus the chunk text.
type MemoryReport struct {
	ChunkCount        int     `json:"chunk_count"`
	EstimatedMemoryMB float64 `json:"estimated_memory_mb"`
}

func (m *Memory) Report() MemoryReport {
	bytes := 0
	for _, e := range m.entries {
		bytes += len(e.Vector)*4 + len(e.Chunk.Content)
	}
	return MemoryReport{
		ChunkCount:        len(m.entries),
		EstimatedMemoryMB: float64(bytes) / 1e6,
	}
}

// Cosine computes cosine similarity in [-1, 1]. Mismatched or zero
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
