// Package embedder produces fixed-dimensionality text embeddings for
// entity names and relationship facts. Vectors from one configuration
// are only comparable with each other, so the dimensionality is pinned
// per deployment.
package embedder
