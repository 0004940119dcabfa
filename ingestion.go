package graphmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/graphmem/pkg/extraction"
	"github.com/soundprediction/graphmem/pkg/store"
	"github.com/soundprediction/graphmem/pkg/types"
)

// ProcessingLayer selects how deep ingestion goes. Each layer includes the
// ones below it.
type ProcessingLayer int

const (
	// LayerEpisodic records raw turns as episode nodes. No external calls.
	LayerEpisodic ProcessingLayer = iota + 1
	// LayerSemantic extracts, deduplicates, and relates entities.
	LayerSemantic
	// LayerCommunity additionally refreshes community clusters.
	LayerCommunity
)

// Ingest processes a batch of messages through the pipeline up to and
// including the given layer. Episode creation is idempotent; a capability
// failure aborts the remainder of its stage but leaves prior committed
// state in place.
func (m *Manager) Ingest(ctx context.Context, messages []types.Message, layer ProcessingLayer) error {
	if layer < LayerEpisodic || layer > LayerCommunity {
		return fmt.Errorf("%w: %d", ErrUnknownLayer, layer)
	}
	if len(messages) == 0 {
		return nil
	}

	episodes, err := m.ingestEpisodes(ctx, messages)
	if err != nil {
		return err
	}
	if layer >= LayerSemantic {
		if err := m.processSemantic(ctx, episodes); err != nil {
			return err
		}
	}
	if layer >= LayerCommunity {
		if err := m.refreshCommunities(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ingestEpisodes records each message as an episode node and indexes it for
// lexical search. Re-ingesting the same (session, turn) is a no-op.
func (m *Manager) ingestEpisodes(ctx context.Context, messages []types.Message) ([]*types.Node, error) {
	episodes := make([]*types.Node, 0, len(messages))
	for i := range messages {
		msg := messages[i]
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: message %d: %s", ErrInvalidMessage, i, err)
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		node := &types.Node{
			Type:      types.EpisodeNodeType,
			Actor:     msg.Role,
			Content:   msg.Body,
			SessionID: msg.SessionID,
			TurnID:    msg.ID,
			Timestamp: ts,
			CreatedAt: time.Now().UTC(),
			ValidAt:   &ts,
		}
		id, err := m.ids.NodeID(node)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %s", ErrInvalidMessage, i, err)
		}
		node.ID = id

		if err := m.store.AddNode(ctx, node); err != nil {
			if errors.Is(err, store.ErrNodeExists) {
				existing, getErr := m.store.GetNode(ctx, id)
				if getErr != nil {
					return nil, getErr
				}
				episodes = append(episodes, existing)
				continue
			}
			return nil, fmt.Errorf("failed to store episode %s: %w", id, err)
		}
		m.lexical.Add(id, node.Content)
		episodes = append(episodes, node)
	}
	m.logger.Debug("ingested episodes", "count", len(episodes))
	return episodes, nil
}

// processSemantic runs entity extraction, deduplication, mention linking,
// relationship extraction, and fact resolution over the batch.
func (m *Manager) processSemantic(ctx context.Context, episodes []*types.Node) error {
	if m.extractor == nil || m.embedder == nil {
		return errors.New("semantic processing requires extraction and embedding clients")
	}

	if err := m.embedEpisodes(ctx, episodes); err != nil {
		return err
	}

	prior, err := m.priorContext(ctx, episodes)
	if err != nil {
		return err
	}

	extracted, err := m.extractor.ExtractEntities(ctx, &extraction.ExtractEntitiesRequest{
		Episodes: episodeTexts(episodes),
		Context:  episodeTexts(prior),
	})
	if err != nil {
		return fmt.Errorf("entity extraction failed: %w", err)
	}

	refTime := batchReferenceTime(episodes)
	entities := make([]*types.Node, 0, len(extracted.Entities))
	for _, cand := range extracted.Entities {
		node, err := m.resolveEntity(ctx, cand, refTime)
		if err != nil {
			return err
		}
		entities = append(entities, node)
	}

	if err := m.linkMentions(ctx, episodes, entities); err != nil {
		return err
	}
	return m.extractRelationships(ctx, episodes, prior, entities, refTime)
}

// embedEpisodes generates and stores embeddings for episodes that lack one.
func (m *Manager) embedEpisodes(ctx context.Context, episodes []*types.Node) error {
	var pending []*types.Node
	var texts []string
	for _, ep := range episodes {
		if len(ep.Embedding) == 0 {
			pending = append(pending, ep)
			texts = append(texts, ep.Content)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("episode embedding failed: %w", err)
	}
	if len(vectors) != len(pending) {
		return fmt.Errorf("embedder returned %d vectors for %d episodes", len(vectors), len(pending))
	}
	for i, ep := range pending {
		ep.Embedding = vectors[i]
		if _, err := m.store.UpdateNode(ctx, ep.ID, &store.NodeUpdate{Embedding: vectors[i]}); err != nil {
			return fmt.Errorf("failed to store episode embedding: %w", err)
		}
		m.vectors.Add(ep.ID, vectors[i])
	}
	return nil
}

// priorContext returns the most recent episodes from sessions other than the
// batch's, oldest first, bounded by the configured context window.
func (m *Manager) priorContext(ctx context.Context, batch []*types.Node) ([]*types.Node, error) {
	sessions := make(map[string]bool, len(batch))
	inBatch := make(map[string]bool, len(batch))
	for _, ep := range batch {
		sessions[ep.SessionID] = true
		inBatch[ep.ID] = true
	}

	all, err := m.store.NodesByType(ctx, types.EpisodeNodeType)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior episodes: %w", err)
	}
	var prior []*types.Node
	for _, ep := range all {
		if sessions[ep.SessionID] || inBatch[ep.ID] || ep.ExpiredAt != nil {
			continue
		}
		prior = append(prior, ep)
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].Timestamp.After(prior[j].Timestamp) })
	if len(prior) > m.config.ContextWindow {
		prior = prior[:m.config.ContextWindow]
	}
	// Oldest first for the prompt.
	for i, j := 0, len(prior)-1; i < j; i, j = i+1, j-1 {
		prior[i], prior[j] = prior[j], prior[i]
	}
	return prior, nil
}

// resolveEntity embeds a candidate, searches for similar existing entities,
// asks the capability whether it duplicates one, and either merges into the
// duplicate or creates a new entity node. The returned node is the final
// resolved entity.
func (m *Manager) resolveEntity(ctx context.Context, cand extraction.CandidateEntity, refTime time.Time) (*types.Node, error) {
	text := strings.TrimSpace(cand.Name + " " + cand.Summary)
	vec, err := m.embedder.EmbedSingle(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed entity candidate %q: %w", cand.Name, err)
	}

	neighbors, err := m.entityNeighbors(ctx, text, vec)
	if err != nil {
		return nil, err
	}

	duplicateOf := ""
	if len(neighbors) > 0 {
		existing := make([]extraction.ExistingEntity, 0, len(neighbors))
		for _, n := range neighbors {
			existing = append(existing, extraction.ExistingEntity{
				ID:      n.ID,
				Name:    n.Name,
				Type:    n.EntityType,
				Summary: n.Summary,
			})
		}
		resp, err := m.extractor.DedupeNode(ctx, &extraction.DedupeNodeRequest{Candidate: cand, Existing: existing})
		if err != nil {
			return nil, fmt.Errorf("deduplication failed for %q: %w", cand.Name, err)
		}
		duplicateOf = resp.DuplicateOf
	}

	if duplicateOf != "" {
		return m.mergeEntity(ctx, duplicateOf, cand, vec)
	}
	return m.createEntity(ctx, cand, vec, refTime)
}

// entityNeighbors runs the hybrid lexical + vector lookup for deduplication
// candidates, returning live entity nodes.
func (m *Manager) entityNeighbors(ctx context.Context, text string, vec []float32) ([]*types.Node, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, hit := range m.lexical.Search(text, m.config.NeighborLimit) {
		if !seen[hit.ID] {
			seen[hit.ID] = true
			ids = append(ids, hit.ID)
		}
	}
	for _, hit := range m.vectors.SearchWithScores(vec, m.config.NeighborLimit) {
		if !seen[hit.ID] {
			seen[hit.ID] = true
			ids = append(ids, hit.ID)
		}
	}

	var neighbors []*types.Node
	for _, id := range ids {
		node, err := m.store.GetNode(ctx, id)
		if errors.Is(err, store.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if node.Type.IsEntity() && node.ExpiredAt == nil {
			neighbors = append(neighbors, node)
		}
	}
	return neighbors, nil
}

// mergeEntity folds a duplicate candidate into the existing node: empty
// fields are filled, alternate names are unioned, and conflicting summaries
// are merged through the capability.
func (m *Manager) mergeEntity(ctx context.Context, id string, cand extraction.CandidateEntity, vec []float32) (*types.Node, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	existing, err := m.store.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load duplicate target %s: %w", id, err)
	}

	update := &store.NodeUpdate{
		Metadata: map[string]any{"lastUpdateTime": time.Now().UTC().Format(time.RFC3339)},
	}
	if existing.EntityType == "" && cand.Type != "" {
		update.EntityType = &cand.Type
	}
	switch {
	case existing.Summary == "" && cand.Summary != "":
		update.Summary = &cand.Summary
	case cand.Summary != "" && cand.Summary != existing.Summary:
		merged, err := m.extractor.SummarizeNode(ctx, &extraction.SummarizeNodeRequest{
			Name:             existing.Name,
			ExistingSummary:  existing.Summary,
			CandidateSummary: cand.Summary,
		})
		if err != nil {
			return nil, fmt.Errorf("summary merge failed for %s: %w", id, err)
		}
		update.Summary = &merged.Summary
	}
	if alt := unionAlternateNames(existing, cand.Name); alt != nil {
		update.AlternateNames = alt
	}
	if len(existing.Embedding) == 0 {
		update.Embedding = vec
	}

	updated, err := m.store.UpdateNode(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("failed to merge entity %s: %w", id, err)
	}
	m.indexNode(updated)
	m.logger.Debug("merged duplicate entity", "id", id, "candidate", cand.Name)
	return updated, nil
}

// createEntity stores a fresh entity node for the candidate.
func (m *Manager) createEntity(ctx context.Context, cand extraction.CandidateEntity, vec []float32, refTime time.Time) (*types.Node, error) {
	validAt := refTime
	node := &types.Node{
		Type:       types.EntityNode(cand.Type),
		Name:       cand.Name,
		EntityType: strings.ToLower(cand.Type),
		Summary:    cand.Summary,
		CreatedAt:  time.Now().UTC(),
		ValidAt:    &validAt,
		Embedding:  vec,
	}
	id, err := m.ids.NodeID(node)
	if err != nil {
		return nil, fmt.Errorf("failed to derive entity id for %q: %w", cand.Name, err)
	}
	node.ID = id

	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	if err := m.store.AddNode(ctx, node); err != nil {
		if errors.Is(err, store.ErrNodeExists) {
			// Same content re-extracted; fold into the existing node.
			return m.mergeExisting(ctx, id, cand, vec)
		}
		return nil, fmt.Errorf("failed to store entity %s: %w", id, err)
	}
	m.indexNode(node)
	m.logger.Debug("created entity", "id", id, "name", cand.Name)
	return node, nil
}

// mergeExisting is the already-locked variant of mergeEntity used when
// AddNode loses the existence race.
func (m *Manager) mergeExisting(ctx context.Context, id string, cand extraction.CandidateEntity, vec []float32) (*types.Node, error) {
	existing, err := m.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	update := &store.NodeUpdate{
		Metadata: map[string]any{"lastUpdateTime": time.Now().UTC().Format(time.RFC3339)},
	}
	if existing.Summary == "" && cand.Summary != "" {
		update.Summary = &cand.Summary
	}
	if len(existing.Embedding) == 0 {
		update.Embedding = vec
	}
	updated, err := m.store.UpdateNode(ctx, id, update)
	if err != nil {
		return nil, err
	}
	m.indexNode(updated)
	return updated, nil
}

// linkMentions creates MENTIONS edges from each batch episode to each
// resolved entity. Edge ids are deterministic, so re-linking is idempotent.
func (m *Manager) linkMentions(ctx context.Context, episodes, entities []*types.Node) error {
	for _, ep := range episodes {
		for _, ent := range entities {
			validAt := ep.Timestamp
			edge := &types.Edge{
				Type:      types.MentionsEdgeType,
				SourceID:  ep.ID,
				TargetID:  ent.ID,
				CreatedAt: time.Now().UTC(),
				ValidAt:   &validAt,
			}
			edge.ID = m.ids.EdgeID(edge)
			if err := m.store.AddEdge(ctx, edge); err != nil {
				if errors.Is(err, store.ErrEdgeExists) {
					continue
				}
				return fmt.Errorf("failed to link mention %s: %w", edge.ID, err)
			}
		}
	}
	return nil
}

// extractRelationships asks the capability for temporal relationships among
// the resolved entities and applies them with fact resolution.
func (m *Manager) extractRelationships(ctx context.Context, episodes, prior, entities []*types.Node, refTime time.Time) error {
	if len(entities) == 0 {
		return nil
	}

	resolved := make([]extraction.ResolvedEntity, 0, len(entities))
	for _, ent := range entities {
		resolved = append(resolved, extraction.ResolvedEntity{ID: ent.ID, Name: ent.Name, Type: ent.EntityType})
	}
	resp, err := m.extractor.ExtractTemporal(ctx, &extraction.ExtractTemporalRequest{
		Episodes:      episodeTexts(episodes),
		Context:       episodeTexts(prior),
		Entities:      resolved,
		ReferenceTime: refTime,
	})
	if err != nil {
		return fmt.Errorf("relationship extraction failed: %w", err)
	}

	for _, rel := range resp.Relationships {
		if err := m.applyRelationship(ctx, rel, refTime); err != nil {
			return err
		}
	}
	return nil
}

// applyRelationship resolves a new fact against existing edges between the
// same endpoints, invalidates superseded facts, and inserts the edge.
// Relationships naming unknown endpoints are logged and skipped.
func (m *Manager) applyRelationship(ctx context.Context, rel extraction.ExtractedRelationship, refTime time.Time) error {
	for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
		if _, err := m.store.GetNode(ctx, endpoint); err != nil {
			if errors.Is(err, store.ErrNodeNotFound) {
				m.logger.Warn("skipping relationship with unknown endpoint",
					"endpoint", endpoint, "type", rel.Type)
				return nil
			}
			return err
		}
	}

	edge := &types.Edge{
		Type:      types.EdgeType(rel.Type),
		SourceID:  rel.SourceID,
		TargetID:  rel.TargetID,
		Fact:      relationshipFact(rel),
		CreatedAt: time.Now().UTC(),
		ValidAt:   rel.ValidAt,
		InvalidAt: rel.InvalidAt,
	}
	edge.ID = m.ids.EdgeID(edge)

	m.locks.Lock(edge.SourceID)
	defer m.locks.Unlock(edge.SourceID)

	if err := m.resolveFacts(ctx, rel, edge, refTime); err != nil {
		return err
	}

	if err := m.store.AddEdge(ctx, edge); err != nil {
		if errors.Is(err, store.ErrEdgeExists) {
			// Same fact re-extracted; refresh its validity window in place.
			update := &store.EdgeUpdate{}
			if rel.ValidAt != nil {
				update.ValidAt = rel.ValidAt
			}
			if rel.InvalidAt != nil {
				update.InvalidAt = rel.InvalidAt
			}
			if _, err := m.store.UpdateEdge(ctx, edge.ID, update); err != nil {
				return fmt.Errorf("failed to refresh edge %s: %w", edge.ID, err)
			}
			return nil
		}
		return fmt.Errorf("failed to store relationship %s: %w", edge.ID, err)
	}
	return nil
}

// resolveFacts asks the capability which live facts between the endpoints
// the new edge supersedes and closes their valid time. Superseded edges are
// never deleted.
func (m *Manager) resolveFacts(ctx context.Context, rel extraction.ExtractedRelationship, edge *types.Edge, refTime time.Time) error {
	between, err := m.store.EdgesBetween(ctx, edge.SourceID, edge.TargetID)
	if err != nil {
		return fmt.Errorf("failed to load existing facts: %w", err)
	}
	var existing []extraction.ExistingFact
	for _, e := range between {
		if e.ID == edge.ID || e.Fact == "" || e.InvalidAt != nil || e.ExpiredAt != nil {
			continue
		}
		existing = append(existing, extraction.ExistingFact{EdgeID: e.ID, Fact: e.Fact, ValidAt: e.ValidAt})
	}
	if len(existing) == 0 {
		return nil
	}

	resp, err := m.extractor.ResolveFacts(ctx, &extraction.ResolveFactsRequest{NewFact: rel, Existing: existing})
	if err != nil {
		return fmt.Errorf("fact resolution failed: %w", err)
	}
	for _, inv := range resp.Invalidations {
		invalidAt := refTime
		if inv.InvalidAt != nil {
			invalidAt = *inv.InvalidAt
		} else if rel.ValidAt != nil {
			invalidAt = *rel.ValidAt
		}
		if _, err := m.store.UpdateEdge(ctx, inv.EdgeID, &store.EdgeUpdate{InvalidAt: &invalidAt}); err != nil {
			return fmt.Errorf("failed to invalidate edge %s: %w", inv.EdgeID, err)
		}
		m.logger.Debug("invalidated superseded fact", "edge", inv.EdgeID, "invalid_at", invalidAt)
	}
	return nil
}

// refreshCommunities replaces all community nodes and membership edges with
// a fresh clustering of the live entities.
func (m *Manager) refreshCommunities(ctx context.Context) error {
	if m.extractor == nil {
		return errors.New("community refinement requires an extraction client")
	}

	all, err := m.store.NodesByType(ctx, types.EntityNodeType)
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}
	var entities []extraction.CommunityEntity
	for _, n := range all {
		if n.ExpiredAt != nil {
			continue
		}
		entities = append(entities, extraction.CommunityEntity{ID: n.ID, Name: n.Name, Summary: n.Summary})
	}
	if len(entities) == 0 {
		return m.removeCommunities(ctx)
	}

	resp, err := m.extractor.RefineCommunities(ctx, &extraction.RefineCommunitiesRequest{Entities: entities})
	if err != nil {
		return fmt.Errorf("community refinement failed: %w", err)
	}

	if err := m.removeCommunities(ctx); err != nil {
		return err
	}

	for _, community := range resp.Communities {
		members := append([]string(nil), community.MemberIDs...)
		sort.Strings(members)
		node := &types.Node{
			Type:            types.CommunityNodeType,
			Summary:         community.Summary,
			Members:         members,
			DivergenceScore: community.DivergenceScore,
			CreatedAt:       time.Now().UTC(),
		}
		id, err := m.ids.NodeID(node)
		if err != nil {
			return fmt.Errorf("failed to derive community id: %w", err)
		}
		node.ID = id
		if err := m.store.AddNode(ctx, node); err != nil {
			return fmt.Errorf("failed to store community %s: %w", id, err)
		}
		m.indexNode(node)

		for _, member := range members {
			edge := &types.Edge{
				Type:      types.HasMemberEdgeType,
				SourceID:  id,
				TargetID:  member,
				CreatedAt: time.Now().UTC(),
			}
			edge.ID = m.ids.EdgeID(edge)
			if err := m.store.AddEdge(ctx, edge); err != nil && !errors.Is(err, store.ErrEdgeExists) {
				return fmt.Errorf("failed to store membership edge %s: %w", edge.ID, err)
			}
		}
	}
	m.logger.Info("refreshed communities", "count", len(resp.Communities))
	return nil
}

// removeCommunities deletes every community node and its membership edges.
func (m *Manager) removeCommunities(ctx context.Context) error {
	communities, err := m.store.NodesByType(ctx, types.CommunityNodeType)
	if err != nil {
		return fmt.Errorf("failed to load communities: %w", err)
	}
	for _, c := range communities {
		edges, err := m.store.EdgesForNode(ctx, c.ID)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if err := m.store.DeleteEdge(ctx, e.ID); err != nil && !errors.Is(err, store.ErrEdgeNotFound) {
				return err
			}
		}
		if err := m.store.DeleteNode(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to delete community %s: %w", c.ID, err)
		}
		m.ids.Release(c.ID)
		m.unindexNode(c.ID)
	}
	return nil
}

// episodeTexts converts episode nodes to the capability's text form.
func episodeTexts(episodes []*types.Node) []extraction.EpisodeText {
	out := make([]extraction.EpisodeText, 0, len(episodes))
	for _, ep := range episodes {
		out = append(out, extraction.EpisodeText{Actor: ep.Actor, Text: ep.Content})
	}
	return out
}

// batchReferenceTime anchors relative temporal expressions at the latest
// timestamp in the batch.
func batchReferenceTime(episodes []*types.Node) time.Time {
	var ref time.Time
	for _, ep := range episodes {
		if ep.Timestamp.After(ref) {
			ref = ep.Timestamp
		}
	}
	if ref.IsZero() {
		ref = time.Now().UTC()
	}
	return ref
}

// relationshipFact picks the free-text statement an extracted relationship
// asserts.
func relationshipFact(rel extraction.ExtractedRelationship) string {
	if rel.Description != "" {
		return rel.Description
	}
	if rel.Name != "" {
		return rel.Name
	}
	return rel.Type
}

// unionAlternateNames returns the merged alternate-name list, or nil when
// nothing changes.
func unionAlternateNames(existing *types.Node, candidateName string) []string {
	if candidateName == "" || strings.EqualFold(candidateName, existing.Name) {
		return nil
	}
	for _, alt := range existing.AlternateNames {
		if strings.EqualFold(alt, candidateName) {
			return nil
		}
	}
	out := append([]string(nil), existing.AlternateNames...)
	return append(out, candidateName)
}
