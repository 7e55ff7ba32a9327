// Package vector stores embedded documents and answers nearest-neighbour
// queries by cosine similarity.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned by Upsert when a collection already holds
// vectors of a different length.
var ErrDimensionMismatch = errors.New("vector: embedding dimension mismatch")

// Document is a piece of text with its embedding.
type Document struct {
	ID         string
	Collection string
	Content    string
	Metadata   map[string]string
	Embedding  []float32
}

// Result is a search hit. Score is the cosine similarity in [-1, 1].
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Store is the contract the vector search handler depends on.
type Store interface {
	// Search returns up to topK documents of collection whose similarity to
	// vec is at least threshold, best first.
	Search(ctx context.Context, vec []float32, collection string, topK int, threshold float64) ([]Result, error)
	Upsert(ctx context.Context, doc Document) error
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Ingest embeds content and upserts it into collection under id.
func Ingest(ctx context.Context, s Store, e Embedder, collection, id, content string, meta map[string]string) error {
	vec, err := e.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("vector: embed %s/%s: %w", collection, id, err)
	}
	return s.Upsert(ctx, Document{
		ID:         id,
		Collection: collection,
		Content:    content,
		Metadata:   meta,
		Embedding:  vec,
	})
}
