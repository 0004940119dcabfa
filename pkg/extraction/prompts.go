package extraction

import (
	"encoding/json"
	"fmt"
	"time"
)

// Prompt builders. Each task gets a system instruction plus a user message
// carrying the structured input as JSON inside tagged sections, and states
// the exact JSON shape the response must take.

func extractEntitiesPrompts(req *ExtractEntitiesRequest) (string, string, error) {
	episodes, err := promptJSON(req.Episodes)
	if err != nil {
		return "", "", err
	}
	context, err := promptJSON(req.Context)
	if err != nil {
		return "", "", err
	}

	system := `You are an AI assistant that extracts entity nodes from conversational messages.
Extract the significant real-world entities mentioned in the current messages: people, organizations, products, concepts, identifiable objects.
Do not extract the messages themselves, dates, or generic pronouns.`

	user := fmt.Sprintf(`<PREVIOUS MESSAGES>
%s
</PREVIOUS MESSAGES>
<CURRENT MESSAGES>
%s
</CURRENT MESSAGES>

For each entity provide a short canonical name, a lowercase type (person, organization, product, concept, place, event), and a one-sentence summary.

Respond with JSON only, in the form:
{"entities": [{"name": "...", "type": "...", "summary": "..."}]}`, context, episodes)

	return system, user, nil
}

func dedupeNodePrompts(req *DedupeNodeRequest) (string, string, error) {
	candidate, err := promptJSON(req.Candidate)
	if err != nil {
		return "", "", err
	}
	existing, err := promptJSON(req.Existing)
	if err != nil {
		return "", "", err
	}

	system := `You are an AI assistant that deduplicates entities in a knowledge graph.
Decide whether the candidate entity refers to the same real-world referent as one of the existing entities.`

	user := fmt.Sprintf(`<CANDIDATE>
%s
</CANDIDATE>
<EXISTING ENTITIES>
%s
</EXISTING ENTITIES>

Name variations, abbreviations, and aliases of the same referent are duplicates. Entities of clearly different types are not.

Respond with JSON only, in the form:
{"duplicate_of": "<existing id, or empty string if the candidate is new>"}`, candidate, existing)

	return system, user, nil
}

func extractTemporalPrompts(req *ExtractTemporalRequest) (string, string, error) {
	episodes, err := promptJSON(req.Episodes)
	if err != nil {
		return "", "", err
	}
	context, err := promptJSON(req.Context)
	if err != nil {
		return "", "", err
	}
	entities, err := promptJSON(req.Entities)
	if err != nil {
		return "", "", err
	}

	system := `You are an AI assistant that extracts temporal relationships between known entities from conversational messages.
Only relate entities from the provided entity list, referenced by their ids.`

	user := fmt.Sprintf(`<PREVIOUS MESSAGES>
%s
</PREVIOUS MESSAGES>
<CURRENT MESSAGES>
%s
</CURRENT MESSAGES>
<ENTITIES>
%s
</ENTITIES>
<REFERENCE TIME>
%s
</REFERENCE TIME>

Express relationship types as SCREAMING_SNAKE_CASE verbs (e.g. WORKS_AT, REFERS_TO). Set valid_at/invalid_at (RFC 3339) only when the messages state or clearly imply when the fact became true or stopped being true, resolving relative expressions against the reference time.

Respond with JSON only, in the form:
{"relationships": [{"source_id": "...", "target_id": "...", "type": "...", "name": "...", "description": "...", "valid_at": null, "invalid_at": null}]}`,
		context, episodes, entities, req.ReferenceTime.Format(time.RFC3339))

	return system, user, nil
}

func resolveFactsPrompts(req *ResolveFactsRequest) (string, string, error) {
	newFact, err := promptJSON(req.NewFact)
	if err != nil {
		return "", "", err
	}
	existing, err := promptJSON(req.Existing)
	if err != nil {
		return "", "", err
	}

	system := `You are a helpful assistant that determines which existing facts a new fact invalidates.
A fact is invalidated when the new fact contradicts it or supersedes it for the same subject.`

	user := fmt.Sprintf(`<NEW FACT>
%s
</NEW FACT>
<EXISTING FACTS>
%s
</EXISTING FACTS>

List only the edge ids that the new fact invalidates. When the new fact implies a time at which the old fact stopped holding, set invalid_at (RFC 3339); otherwise leave it null.

Respond with JSON only, in the form:
{"invalidations": [{"edge_id": "...", "invalid_at": null}]}`, newFact, existing)

	return system, user, nil
}

func summarizeNodePrompts(req *SummarizeNodeRequest) (string, string, error) {
	system := `You are an AI assistant that maintains entity summaries in a knowledge graph.
Merge the candidate information into the existing summary without losing established facts.`

	user := fmt.Sprintf(`<ENTITY>
%s
</ENTITY>
<EXISTING SUMMARY>
%s
</EXISTING SUMMARY>
<NEW INFORMATION>
%s
</NEW INFORMATION>

Respond with JSON only, in the form:
{"summary": "..."}`, req.Name, req.ExistingSummary, req.CandidateSummary)

	return system, user, nil
}

func refineCommunitiesPrompts(req *RefineCommunitiesRequest) (string, string, error) {
	entities, err := promptJSON(req.Entities)
	if err != nil {
		return "", "", err
	}

	system := `You are an AI assistant that clusters knowledge-graph entities into communities of closely related referents.
Every entity belongs to at most one community; singleton communities are allowed.`

	user := fmt.Sprintf(`<ENTITIES>
%s
</ENTITIES>

For each community provide a one-sentence summary, the member entity ids, and a divergence score in [0,1] describing how loosely related the members are (0 = tightly related).

Respond with JSON only, in the form:
{"communities": [{"summary": "...", "member_ids": ["..."], "divergence_score": 0.0}]}`, entities)

	return system, user, nil
}

func promptJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt input: %w", err)
	}
	return string(data), nil
}
