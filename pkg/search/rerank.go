package search

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Reranker defaults.
const (
	DefaultRankConstant = 60
	DefaultMaxResults   = 10
	DefaultDecayRate    = 0.05
	DefaultMMRLambda    = 0.5

	// connectivityCap normalizes edge-count features: counts are divided
	// by this and clamped to 1.
	connectivityCap = 10.0
)

// Source tags which retrieval method produced a candidate list.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
)

// CandidateList is one independently-scored result list from a source.
type CandidateList struct {
	Source     Source
	Candidates []ScoredID
}

// Candidate carries the per-node signals the reranker scores. The caller
// (the engine façade) assembles these from the store and indices.
type Candidate struct {
	ID   string
	Text string
	// AgeDays is the candidate's age in days for recency decay.
	AgeDays float64
	// Embedding is used for MMR similarity; nil disables similarity
	// for this candidate.
	Embedding []float32
	// EdgeCount is the number of edges touching the node.
	EdgeCount int
	// IncomingCount is the number of edges pointing at the node.
	IncomingCount int
	// MentionCount is the number of episodes mentioning the node.
	MentionCount int
	// Distance is the shortest-path distance to the configured center
	// node set; negative means unreachable or not computed.
	Distance int
}

// Weights are the linear combination weights for the final score.
type Weights struct {
	RankFusion   float64
	CrossEncoder float64
	Recency      float64
	Connectivity float64
	Importance   float64
	// Distance and Mentions only contribute when a center node is
	// configured on the reranker.
	Distance float64
	Mentions float64
}

// DefaultWeights returns the standard weight profile.
func DefaultWeights() Weights {
	return Weights{
		RankFusion:   0.4,
		CrossEncoder: 0.3,
		Recency:      0.1,
		Connectivity: 0.15,
		Importance:   0.15,
		Distance:     0.1,
		Mentions:     0.05,
	}
}

// CrossEncoder scores query/passage relevance in [0,1]. Implementations are
// typically LLM-judged boolean classifiers.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// RerankConfig tunes a Reranker.
type RerankConfig struct {
	RankConstant int
	Weights      Weights
	// DecayRate is the per-day exponential recency decay.
	DecayRate float64
	// MinScore drops results scoring below it.
	MinScore float64
	// MaxResults truncates the final list.
	MaxResults int
	// DiversityWeight is the MMR lambda; zero disables MMR selection.
	DiversityWeight float64
	// CenterConfigured enables the graph-structural features
	// (distance, mentions).
	CenterConfigured bool
}

// WithDefaults fills zero fields with the standard values.
func (c RerankConfig) WithDefaults() RerankConfig {
	if c.RankConstant <= 0 {
		c.RankConstant = DefaultRankConstant
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.DecayRate == 0 {
		c.DecayRate = DefaultDecayRate
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	return c
}

// Reranker fuses and reorders candidate lists.
type Reranker struct {
	config  RerankConfig
	encoder CrossEncoder
}

// NewReranker builds a Reranker. encoder may be nil, in which case the
// cross-encoder feature contributes zero.
func NewReranker(config RerankConfig, encoder CrossEncoder) *Reranker {
	return &Reranker{config: config.WithDefaults(), encoder: encoder}
}

// RRF computes reciprocal-rank-fusion scores for the candidate lists: each
// candidate's fused score is the mean, over the sources in which it
// appears, of 1/(k + rank), with ranks assigned per source by native score.
func RRF(lists []CandidateList, rankConstant int) map[string]float64 {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}
	sums := make(map[string]float64)
	appearances := make(map[string]int)
	for _, list := range lists {
		ranked := append([]ScoredID(nil), list.Candidates...)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
		for i, c := range ranked {
			rank := i + 1
			sums[c.ID] += 1.0 / float64(rankConstant+rank)
			appearances[c.ID]++
		}
	}
	fused := make(map[string]float64, len(sums))
	for id, sum := range sums {
		fused[id] = sum / float64(appearances[id])
	}
	return fused
}

// Rerank fuses the source lists, scores features for each candidate, and
// returns the final ordered results. candidates supplies the per-node
// signals; ids missing from it are scored on rank fusion alone.
func (r *Reranker) Rerank(ctx context.Context, query string, lists []CandidateList, candidates map[string]*Candidate) ([]ScoredID, error) {
	fused := RRF(lists, r.config.RankConstant)
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ceScores, err := r.crossEncoderScores(ctx, query, ids, candidates)
	if err != nil {
		return nil, err
	}

	w := r.config.Weights
	results := make([]ScoredID, 0, len(ids))
	for _, id := range ids {
		score := w.RankFusion*normalizeFused(fused[id], r.config.RankConstant) + w.CrossEncoder*ceScores[id]
		if cand, ok := candidates[id]; ok && cand != nil {
			score += w.Recency * math.Exp(-r.config.DecayRate*cand.AgeDays)
			score += w.Connectivity * capRatio(cand.EdgeCount)
			score += w.Importance * capRatio(cand.IncomingCount)
			if r.config.CenterConfigured {
				score += w.Distance * distanceScore(cand.Distance)
				score += w.Mentions * capRatio(cand.MentionCount)
			}
		}
		if score < r.config.MinScore {
			continue
		}
		results = append(results, ScoredID{ID: id, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if r.config.DiversityWeight > 0 {
		return MMRSelect(results, candidates, r.config.DiversityWeight, r.config.MaxResults), nil
	}
	if len(results) > r.config.MaxResults {
		results = results[:r.config.MaxResults]
	}
	return results, nil
}

func (r *Reranker) crossEncoderScores(ctx context.Context, query string, ids []string, candidates map[string]*Candidate) (map[string]float64, error) {
	scores := make(map[string]float64, len(ids))
	if r.encoder == nil {
		return scores, nil
	}

	var withText []string
	var passages []string
	for _, id := range ids {
		if cand, ok := candidates[id]; ok && cand != nil && cand.Text != "" {
			withText = append(withText, id)
			passages = append(passages, cand.Text)
		}
	}
	if len(passages) == 0 {
		return scores, nil
	}

	raw, err := r.encoder.Score(ctx, query, passages)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder scoring failed: %w", err)
	}
	if len(raw) != len(passages) {
		return nil, fmt.Errorf("cross-encoder returned %d scores for %d passages", len(raw), len(passages))
	}
	for i, id := range withText {
		scores[id] = clamp01(raw[i])
	}
	return scores, nil
}

// MMRSelect picks results iteratively, at each step taking the remaining
// candidate maximizing lambda*relevance - (1-lambda)*maxSimilarityToSelected,
// until maxResults are chosen or candidates run out. Relevance is the
// candidate's combined score; similarity is cosine over embeddings.
func MMRSelect(ranked []ScoredID, candidates map[string]*Candidate, lambda float64, maxResults int) []ScoredID {
	if lambda <= 0 {
		lambda = DefaultMMRLambda
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	remaining := append([]ScoredID(nil), ranked...)
	selected := make([]ScoredID, 0, maxResults)

	embedding := func(id string) []float32 {
		if cand, ok := candidates[id]; ok && cand != nil {
			return cand.Embedding
		}
		return nil
	}

	for len(selected) < maxResults && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				sim := CosineSimilarity(embedding(cand.ID), embedding(sel.ID))
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*cand.Score - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// normalizeFused maps an RRF score onto [0,1] so it combines with the other
// features on a common scale. The maximum possible fused value is
// 1/(k+1) (rank 1 in every source).
func normalizeFused(fused float64, rankConstant int) float64 {
	return clamp01(fused * float64(rankConstant+1))
}

func capRatio(count int) float64 {
	return clamp01(float64(count) / connectivityCap)
}

// distanceScore converts hop distance into [0,1]; adjacent nodes score
// high, unreachable nodes zero.
func distanceScore(distance int) float64 {
	if distance < 0 {
		return 0
	}
	return 1.0 / (1.0 + float64(distance))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
