// Package extraction defines the engine's extraction capability boundary:
// a task-oriented interface an external language model fulfils. Each task is
// a closed request/response pair so every contract is statically checked —
// there is no loosely-typed payload dispatch.
//
// The OpenAI-backed client validates every response shape immediately after
// the call and converts mismatches into MalformedResponseError rather than
// letting them surface as downstream field-access failures.
package extraction

import (
	"context"
	"time"
)

// Task tags identify capability tasks on the wire and in logs.
type Task string

const (
	TaskExtractEntities   Task = "EXTRACT_ENTITIES"
	TaskDedupeNodes       Task = "DEDUPE_NODES"
	TaskExtractTemporal   Task = "EXTRACT_TEMPORAL"
	TaskResolveFacts      Task = "RESOLVE_FACTS"
	TaskSummarizeNode     Task = "SUMMARIZE_NODE"
	TaskRefineCommunities Task = "REFINE_COMMUNITIES"
)

// Client is the extraction capability. One method per task.
type Client interface {
	ExtractEntities(ctx context.Context, req *ExtractEntitiesRequest) (*ExtractEntitiesResponse, error)
	DedupeNode(ctx context.Context, req *DedupeNodeRequest) (*DedupeNodeResponse, error)
	ExtractTemporal(ctx context.Context, req *ExtractTemporalRequest) (*ExtractTemporalResponse, error)
	ResolveFacts(ctx context.Context, req *ResolveFactsRequest) (*ResolveFactsResponse, error)
	SummarizeNode(ctx context.Context, req *SummarizeNodeRequest) (*SummarizeNodeResponse, error)
	RefineCommunities(ctx context.Context, req *RefineCommunitiesRequest) (*RefineCommunitiesResponse, error)
}

// EpisodeText is one conversational turn passed as task input.
type EpisodeText struct {
	Actor string `json:"actor"`
	Text  string `json:"text"`
}

// ExtractEntitiesRequest carries the current batch plus a bounded window of
// prior context from other sessions.
type ExtractEntitiesRequest struct {
	Episodes []EpisodeText `json:"episodes"`
	Context  []EpisodeText `json:"context,omitempty"`
}

// CandidateEntity is one extracted entity candidate.
type CandidateEntity struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// ExtractEntitiesResponse lists candidate entities found in the batch.
type ExtractEntitiesResponse struct {
	Entities []CandidateEntity `json:"entities"`
}

// ExistingEntity describes an already-stored entity offered as a
// deduplication neighbor.
type ExistingEntity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// DedupeNodeRequest asks whether a candidate duplicates one of its
// similar existing neighbors.
type DedupeNodeRequest struct {
	Candidate CandidateEntity  `json:"candidate"`
	Existing  []ExistingEntity `json:"existing"`
}

// DedupeNodeResponse resolves the candidate: DuplicateOf is the existing
// entity id, or empty when the candidate is new.
type DedupeNodeResponse struct {
	DuplicateOf string `json:"duplicate_of"`
}

// ResolvedEntity is an entity (with its final id) offered to relationship
// extraction.
type ResolvedEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractTemporalRequest asks for temporal relationships among the
// resolved entity set.
type ExtractTemporalRequest struct {
	Episodes []EpisodeText    `json:"episodes"`
	Context  []EpisodeText    `json:"context,omitempty"`
	Entities []ResolvedEntity `json:"entities"`
	// ReferenceTime anchors relative temporal expressions.
	ReferenceTime time.Time `json:"reference_time"`
}

// ExtractedRelationship is one temporal relationship tuple.
type ExtractedRelationship struct {
	SourceID    string     `json:"source_id"`
	TargetID    string     `json:"target_id"`
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ValidAt     *time.Time `json:"valid_at,omitempty"`
	InvalidAt   *time.Time `json:"invalid_at,omitempty"`
}

// ExtractTemporalResponse lists extracted relationships.
type ExtractTemporalResponse struct {
	Relationships []ExtractedRelationship `json:"relationships"`
}

// ExistingFact describes a stored edge between the same entities as a new
// fact under resolution.
type ExistingFact struct {
	EdgeID  string     `json:"edge_id"`
	Fact    string     `json:"fact"`
	ValidAt *time.Time `json:"valid_at,omitempty"`
}

// ResolveFactsRequest asks whether a new fact invalidates existing edges.
type ResolveFactsRequest struct {
	NewFact  ExtractedRelationship `json:"new_fact"`
	Existing []ExistingFact        `json:"existing"`
}

// FactInvalidation marks one existing edge as superseded.
type FactInvalidation struct {
	EdgeID    string     `json:"edge_id"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
}

// ResolveFactsResponse lists the edges the new fact supersedes.
type ResolveFactsResponse struct {
	Invalidations []FactInvalidation `json:"invalidations"`
}

// SummarizeNodeRequest asks for a merged summary after deduplication.
type SummarizeNodeRequest struct {
	Name             string `json:"name"`
	ExistingSummary  string `json:"existing_summary"`
	CandidateSummary string `json:"candidate_summary"`
}

// SummarizeNodeResponse carries the merged summary.
type SummarizeNodeResponse struct {
	Summary string `json:"summary"`
}

// CommunityEntity is one entity offered to community refinement.
type CommunityEntity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// RefineCommunitiesRequest asks for a fresh clustering of the entity set.
type RefineCommunitiesRequest struct {
	Entities []CommunityEntity `json:"entities"`
}

// Community is one returned cluster.
type Community struct {
	Summary         string   `json:"summary"`
	MemberIDs       []string `json:"member_ids"`
	DivergenceScore float64  `json:"divergence_score"`
}

// RefineCommunitiesResponse lists the new clusters; membership replaces
// prior assignments wholesale.
type RefineCommunitiesResponse struct {
	Communities []Community `json:"communities"`
}
