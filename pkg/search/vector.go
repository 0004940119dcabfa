package search

import (
	"container/heap"
	"math"
	"sync"
)

// VectorIndex is an in-memory embedding similarity index using exhaustive
// cosine scan. Safe for concurrent use.
type VectorIndex struct {
	mu   sync.RWMutex
	vecs map[string][]float32
}

// NewVectorIndex returns an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{vecs: make(map[string][]float32)}
}

// Add stores (or replaces) the embedding for id.
func (idx *VectorIndex) Add(id string, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vecs[id] = append([]float32(nil), vector...)
}

// Remove drops the embedding for id.
func (idx *VectorIndex) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vecs, id)
}

// Get returns the stored embedding for id, or nil.
func (idx *VectorIndex) Get(id string) []float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.vecs[id]
	if !ok {
		return nil
	}
	return append([]float32(nil), v...)
}

// Len returns the number of stored embeddings.
func (idx *VectorIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vecs)
}

// SearchWithScores computes cosine similarity against every stored vector
// and returns up to limit candidates sorted descending. A min-heap keeps
// the scan O(n log k).
func (idx *VectorIndex) SearchWithScores(query []float32, limit int) []ScoredID {
	if len(query) == 0 || limit <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	h := make(scoredHeap, 0, limit)
	heap.Init(&h)
	for id, vec := range idx.vecs {
		score := CosineSimilarity(query, vec)
		if h.Len() < limit {
			heap.Push(&h, ScoredID{ID: id, Score: score})
		} else if score > h[0].Score {
			heap.Pop(&h)
			heap.Push(&h, ScoredID{ID: id, Score: score})
		}
	}

	results := make([]ScoredID, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(&h).(ScoredID)
	}
	return results
}

// Reset drops all embeddings.
func (idx *VectorIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vecs = make(map[string][]float32)
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when the vectors differ
// in length, are empty, or either has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
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

// scoredHeap is a min-heap over ScoredID used for top-K selection.
type scoredHeap []ScoredID

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)         { *h = append(*h, x.(ScoredID)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
