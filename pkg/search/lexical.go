package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 defaults.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// ScoredID is one candidate produced by an index.
type ScoredID struct {
	ID    string
	Score float64
}

// BM25Index is an in-memory inverted index scoring documents with BM25.
// Safe for concurrent use.
type BM25Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]int // term -> doc id -> term frequency
	docLen   map[string]int
	totalLen int
	k1       float64
	b        float64
}

// NewBM25Index returns an empty index with default k1/b parameters.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int),
		k1:       DefaultK1,
		b:        DefaultB,
	}
}

// Add indexes the document text under id, replacing any prior postings for
// that id.
func (idx *BM25Index) Add(id, text string) {
	tokens := Tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)

	for _, tok := range tokens {
		docs, ok := idx.postings[tok]
		if !ok {
			docs = make(map[string]int)
			idx.postings[tok] = docs
		}
		docs[id]++
	}
	idx.docLen[id] = len(tokens)
	idx.totalLen += len(tokens)
}

// Remove drops the document from the index.
func (idx *BM25Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *BM25Index) removeLocked(id string) {
	length, ok := idx.docLen[id]
	if !ok {
		return
	}
	idx.totalLen -= length
	delete(idx.docLen, id)
	for term, docs := range idx.postings {
		if _, ok := docs[id]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// Len returns the number of indexed documents.
func (idx *BM25Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLen)
}

// Search tokenizes the query and returns up to limit documents sorted by
// descending BM25 score. Scores sum contributions across query terms.
func (idx *BM25Index) Search(query string, limit int) []ScoredID {
	terms := Tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docLen)
	if n == 0 {
		return nil
	}
	avgLen := float64(idx.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, term := range terms {
		docs, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := idfValue(n, len(docs))
		for id, tf := range docs {
			scores[id] += idf * bm25TF(float64(tf), float64(idx.docLen[id]), avgLen, idx.k1, idx.b)
		}
	}

	results := make([]ScoredID, 0, len(scores))
	for id, score := range scores {
		results = append(results, ScoredID{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Reset drops all postings.
func (idx *BM25Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.postings = make(map[string]map[string]int)
	idx.docLen = make(map[string]int)
	idx.totalLen = 0
}

// idfValue computes ln((N - df + 0.5)/(df + 0.5) + 1).
func idfValue(n, df int) float64 {
	return math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

// bm25TF computes the per-document term contribution
// tf*(k1+1) / (tf + k1*(1 - b + b*L/avgL)).
func bm25TF(tf, docLen, avgLen, k1, b float64) float64 {
	return tf * (k1 + 1) / (tf + k1*(1-b+b*docLen/avgLen))
}

// Tokenize lower-cases, strips punctuation, splits on whitespace, and drops
// empty tokens.
func Tokenize(text string) []string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	return strings.Fields(sb.String())
}
