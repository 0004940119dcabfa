package graphmem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/graphmem/pkg/search"
	"github.com/soundprediction/graphmem/pkg/store"
	"github.com/soundprediction/graphmem/pkg/types"
)

// Search runs the hybrid retrieval pipeline: lexical and vector candidate
// generation, reciprocal-rank fusion, feature reranking, and post-filtering.
// Results are visible as of the options timestamp (now by default).
func (m *Manager) Search(ctx context.Context, query string, opts *types.SearchOptions) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if opts == nil {
		opts = &types.SearchOptions{}
	}
	asOf := opts.Timestamp
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = m.config.Rerank.MaxResults
	}
	pool := m.config.CandidateLimit
	if pool < limit {
		pool = limit * 2
	}

	lists := []search.CandidateList{
		{Source: search.SourceLexical, Candidates: m.lexical.Search(query, pool)},
	}
	if m.embedder != nil && m.vectors.Len() > 0 {
		qvec, err := m.embedder.EmbedSingle(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		lists = append(lists, search.CandidateList{
			Source:     search.SourceVector,
			Candidates: m.vectors.SearchWithScores(qvec, pool),
		})
	}

	nodes, candidates, err := m.assembleCandidates(ctx, lists, asOf)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	lists = pruneLists(lists, nodes)

	rerankCfg := m.config.Rerank
	rerankCfg.MaxResults = limit + len(nodes) // cut to limit after filtering
	reranker := search.NewReranker(rerankCfg, m.config.CrossEncoder)
	ranked, err := reranker.Rerank(ctx, query, lists, candidates)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, limit)
	for _, hit := range ranked {
		node := nodes[hit.ID]
		if node == nil || !node.VisibleAt(asOf) {
			continue
		}
		if !matchesSearchFilters(node, opts.Filters) {
			continue
		}
		results = append(results, types.SearchResult{
			Node:       node,
			Score:      hit.Score,
			Confidence: confidence(node, hit.Score),
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// assembleCandidates loads each candidate node and gathers the per-node
// signals the reranker scores. Ids that vanished from the store since
// indexing are dropped with a debug log.
func (m *Manager) assembleCandidates(ctx context.Context, lists []search.CandidateList, asOf time.Time) (map[string]*types.Node, map[string]*search.Candidate, error) {
	nodes := make(map[string]*types.Node)
	candidates := make(map[string]*search.Candidate)

	for _, list := range lists {
		for _, hit := range list.Candidates {
			if _, done := candidates[hit.ID]; done {
				continue
			}
			node, err := m.store.GetNode(ctx, hit.ID)
			if errors.Is(err, store.ErrNodeNotFound) {
				m.logger.Debug("dropping vanished candidate", "id", hit.ID)
				m.unindexNode(hit.ID)
				continue
			}
			if err != nil {
				return nil, nil, err
			}

			edges, err := m.store.EdgesForNode(ctx, hit.ID)
			if err != nil {
				return nil, nil, err
			}
			incoming, mentions := 0, 0
			for _, e := range edges {
				if e.TargetID == hit.ID {
					incoming++
					if e.Type == types.MentionsEdgeType {
						mentions++
					}
				}
			}

			age := asOf.Sub(nodeTime(node)).Hours() / 24
			if age < 0 {
				age = 0
			}
			nodes[hit.ID] = node
			candidates[hit.ID] = &search.Candidate{
				ID:            hit.ID,
				Text:          node.SearchText(),
				AgeDays:       age,
				Embedding:     node.Embedding,
				EdgeCount:     len(edges),
				IncomingCount: incoming,
				MentionCount:  mentions,
				Distance:      -1,
			}
		}
	}
	return nodes, candidates, nil
}

// pruneLists removes candidates whose nodes no longer exist so rank fusion
// only sees live ids.
func pruneLists(lists []search.CandidateList, nodes map[string]*types.Node) []search.CandidateList {
	out := make([]search.CandidateList, 0, len(lists))
	for _, list := range lists {
		kept := make([]search.ScoredID, 0, len(list.Candidates))
		for _, hit := range list.Candidates {
			if _, ok := nodes[hit.ID]; ok {
				kept = append(kept, hit)
			}
		}
		out = append(out, search.CandidateList{Source: list.Source, Candidates: kept})
	}
	return out
}

// matchesSearchFilters applies the post-rerank result filters.
func matchesSearchFilters(node *types.Node, f *types.SearchFilters) bool {
	if f == nil {
		return true
	}
	if f.Role != "" && node.Type == types.EpisodeNodeType && node.Actor != f.Role {
		return false
	}
	if f.TimeRange != nil {
		t := nodeTime(node)
		if t.Before(f.TimeRange.Start) || t.After(f.TimeRange.End) {
			return false
		}
	}
	if len(f.NodeTypes) > 0 {
		matched := false
		for _, want := range f.NodeTypes {
			if node.Type == want || (want == types.EntityNodeType && node.Type.IsEntity()) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// nodeTime picks the node's reference instant for recency and time-range
// filtering: episode timestamp, then valid time, then creation time.
func nodeTime(node *types.Node) time.Time {
	if node.Type == types.EpisodeNodeType && !node.Timestamp.IsZero() {
		return node.Timestamp
	}
	if node.ValidAt != nil {
		return *node.ValidAt
	}
	return node.CreatedAt
}

// confidence derives a [0,1] confidence from the combined score with a
// boost when the node's validity window is well-defined: +0.1 when both
// bounds are known, +0.05 when only the start is.
func confidence(node *types.Node, score float64) float64 {
	boost := 0.0
	if node.ValidAt != nil {
		if node.ExpiredAt != nil {
			boost = 0.1
		} else {
			boost = 0.05
		}
	}
	c := score + boost
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
