// Package retrieval blends web-search snippets and local knowledge into a
// bounded context string for prompt construction.
//
// This file implements the deterministic chained-SHA-256 hash embedding
// used to rank candidate snippets by similarity when no sentence-embedding
// model is available, which keeps ranking dependency-free and identical
// across storage backends.
package retrieval

import (
	"crypto/sha256"
	"math"
)

// EmbeddingDim is the dimensionality of the hash embedding vectors.
const EmbeddingDim = 256

// HashEmbedding maps text to a deterministic unit-range vector by chaining
// SHA-256 digests until EmbeddingDim bytes are produced.
func HashEmbedding(text string) []float64 {
	digest := sha256.Sum256([]byte(text))
	buf := make([]byte, 0, EmbeddingDim)
	for len(buf) < EmbeddingDim {
		digest = sha256.Sum256(digest[:])
		buf = append(buf, digest[:]...)
	}
	vec := make([]float64, EmbeddingDim)
	for i := 0; i < EmbeddingDim; i++ {
		vec[i] = float64(buf[i]) / 255.0
	}
	return vec
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors. Zero-magnitude vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
