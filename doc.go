// Package graphmem provides a temporal knowledge-graph memory engine for
// LLM agents.
//
// Conversational turns are ingested as immutable episode nodes and, at
// deeper processing layers, distilled into deduplicated entity nodes,
// temporal relationship edges, and community clusters. Nodes and edges are
// bitemporal: transaction time records when the engine learned something,
// valid time records when it held in the world. Superseded facts are
// invalidated, never deleted, so the graph can be queried as of any past
// instant.
//
// # Basic Usage
//
//	graphStore := store.NewMemoryStore()
//	llm := openai.NewClient("your-api-key")
//	extractor := extraction.NewOpenAIClient(llm, extraction.OpenAIConfig{}, nil)
//	embed := embedder.NewOpenAIClient(llm, embedder.Config{})
//
//	mgr, err := graphmem.NewManager(graphStore, extractor, embed, nil, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	err = mgr.Ingest(ctx, []types.Message{
//		{Role: "user", Body: "I ordered a laptop yesterday", SessionID: "s1"},
//	}, graphmem.LayerSemantic)
//
//	results, err := mgr.Search(ctx, "laptop order", nil)
//
// # Processing Layers
//
//   - LayerEpisodic: record raw turns, no external calls
//   - LayerSemantic: extract, deduplicate, and relate entities
//   - LayerCommunity: additionally recluster entities into communities
//
// # Architecture
//
//   - pkg/store: pluggable graph storage (in-memory, Badger)
//   - pkg/identity: content-addressed id derivation
//   - pkg/search: BM25, vector similarity, rank fusion, reranking
//   - pkg/extraction: typed LLM extraction capability
//   - pkg/embedder: embedding capability
//   - pkg/server: HTTP surface
package graphmem
