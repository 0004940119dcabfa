// Package search implements the retrieval side of the engine: a BM25
// inverted index over node text, a cosine-similarity vector index over node
// embeddings, and a reranker that fuses the two candidate lists with
// reciprocal rank fusion, scores multi-signal features, and optionally
// applies maximal-marginal-relevance selection for diversity.
package search
