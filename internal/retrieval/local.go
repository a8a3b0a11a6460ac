// Package retrieval blends web-search snippets and local knowledge into a
// bounded context string for prompt construction.
//
// This file implements local retrieval over the stored SFBT knowledge
// corpus using hash embeddings and cosine similarity.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// DefaultLocalTopK is how many knowledge documents a local retrieval joins.
const DefaultLocalTopK = 3

// LocalRetriever is the capability contract for local knowledge retrieval.
// Implementations may fail or return an empty string; callers tolerate either.
type LocalRetriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// KnowledgeStore is the narrow store view the knowledge retriever needs.
type KnowledgeStore interface {
	ListKnowledge() ([]models.KnowledgeEntry, error)
}

// indexedDoc is one embedded knowledge document.
type indexedDoc struct {
	content string
	vec     []float64
}

// KnowledgeRetriever retrieves from the knowledge corpus by embedding
// similarity. The index is built lazily on first use and rebuilt whenever
// it is empty, so a corpus seeded after startup is picked up.
type KnowledgeRetriever struct {
	store KnowledgeStore
	topK  int

	mu    sync.Mutex
	index []indexedDoc
}

// NewKnowledgeRetriever creates a retriever over the given knowledge store.
func NewKnowledgeRetriever(store KnowledgeStore) *KnowledgeRetriever {
	return &KnowledgeRetriever{store: store, topK: DefaultLocalTopK}
}

// Retrieve returns the top-K most similar knowledge documents joined with
// blank lines, or an empty string when the corpus is empty.
func (r *KnowledgeRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	docs, err := r.ensureIndex()
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}

	queryVec := HashEmbedding(query)
	type scored struct {
		content string
		score   float64
	}
	ranked := make([]scored, 0, len(docs))
	for _, d := range docs {
		ranked = append(ranked, scored{content: d.content, score: CosineSimilarity(queryVec, d.vec)})
	}
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].score > ranked[i].score {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}

	parts := make([]string, 0, len(ranked))
	for _, s := range ranked {
		parts = append(parts, s.content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// ensureIndex builds the embedding index from the knowledge corpus when it
// is missing.
func (r *KnowledgeRetriever) ensureIndex() ([]indexedDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.index) > 0 {
		return r.index, nil
	}

	entries, err := r.store.ListKnowledge()
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge corpus: %w", err)
	}
	if len(entries) == 0 {
		slog.Debug("KnowledgeRetriever.ensureIndex: knowledge corpus is empty")
		return nil, nil
	}

	index := make([]indexedDoc, 0, len(entries))
	for _, e := range entries {
		content := e.Content
		if e.Title != "" {
			content = e.Title + "\n" + e.Content
		}
		index = append(index, indexedDoc{content: content, vec: HashEmbedding(content)})
	}
	r.index = index
	slog.Debug("KnowledgeRetriever.ensureIndex: index built", "documents", len(index))
	return r.index, nil
}

// Invalidate drops the index so the next retrieval rebuilds it.
func (r *KnowledgeRetriever) Invalidate() {
	r.mu.Lock()
	r.index = nil
	r.mu.Unlock()
}
