// Package identity derives stable, content-addressed identifiers for graph
// units. Given identical normalized input the generated id is identical, which
// is what makes ingestion idempotent: re-extracting the same entity maps onto
// the same node instead of creating a sibling.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/soundprediction/graphmem/pkg/types"
)

const hashLen = 16

// Generator issues content-addressed ids and tracks issued entity hashes so
// that two distinct entities normalizing to the same hash are disambiguated.
// The registry is instance state, not a package singleton: each engine owns
// its generator, and Clear on the engine resets it.
type Generator struct {
	mu     sync.Mutex
	issued map[string]string // id -> normalized content it was issued for
}

// NewGenerator returns an empty Generator.
func NewGenerator() *Generator {
	return &Generator{issued: make(map[string]string)}
}

// NodeID derives the id for a partial node. Episodes compose
// "ep_<session>_<turn>" (episodes are events, not deduplication targets).
// Entities hash normalized (name, type) into "<subtype>_<hash>" and
// disambiguate collisions by rehashing with an appended counter.
func (g *Generator) NodeID(node *types.Node) (string, error) {
	switch {
	case node.Type == types.EpisodeNodeType:
		if node.SessionID == "" || node.TurnID == "" {
			return "", fmt.Errorf("episode id requires session and turn: %w", types.ErrEmptySession)
		}
		return fmt.Sprintf("ep_%s_%s", node.SessionID, node.TurnID), nil
	case node.Type.IsEntity():
		if node.Name == "" {
			return "", types.ErrEmptyName
		}
		content := NormalizeContent(map[string]any{
			"name": node.Name,
			"type": node.EntityType,
		})
		prefix := node.Type.Subtype()
		if prefix == "" {
			prefix = "entity"
		}
		return g.issue(prefix, content), nil
	case node.Type == types.CommunityNodeType:
		content := NormalizeContent(map[string]any{"members": strings.Join(node.Members, ",")})
		return g.issue("community", content), nil
	}
	return "", fmt.Errorf("cannot derive id for node type %q", node.Type)
}

// EdgeID derives the id for a partial edge from (source, target, type, fact).
func (g *Generator) EdgeID(edge *types.Edge) string {
	content := NormalizeContent(map[string]any{
		"source": edge.SourceID,
		"target": edge.TargetID,
		"type":   string(edge.Type),
		"fact":   edge.Fact,
	})
	return "rel_" + digest(content)
}

// issue returns "<prefix>_<hash>" for content, rehashing with a counter when
// the hash was already issued for different content.
func (g *Generator) issue(prefix, content string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := digest(content)
	for counter := 1; ; counter++ {
		id := prefix + "_" + h
		prior, taken := g.issued[id]
		if !taken || prior == content {
			g.issued[id] = content
			return id
		}
		h = digest(h + "_" + fmt.Sprint(counter))
	}
}

// Release forgets an issued id so its hash can be reassigned. Called when the
// corresponding node is deleted.
func (g *Generator) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.issued, id)
}

// Reset clears the issued-hash registry.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued = make(map[string]string)
}

// NormalizeContent flattens a string-keyed map into a canonical
// "key:value|key:value" form: keys sorted, strings lower-cased and trimmed,
// nested maps normalized recursively.
func NormalizeContent(content map[string]any) string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.ToLower(strings.TrimSpace(k))+":"+normalizeValue(content[k]))
	}
	return strings.Join(parts, "|")
}

func normalizeValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(val))
	case map[string]any:
		return NormalizeContent(val)
	case nil:
		return ""
	default:
		return strings.ToLower(fmt.Sprint(val))
	}
}

func digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:hashLen]
}
