// Package knowledge is the full-text knowledge base consulted by the
// knowledge search handler. Documents belong to a corpus; queries may be
// restricted to a set of corpora.
package knowledge

import "context"

// DefaultCorpus is used when a query or document names no corpus.
const DefaultCorpus = "default"

// Document is an indexable unit of text.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// Result is a search hit. Score is normalised into [0, 1] relative to the
// best hit of the same query.
type Result struct {
	ID      string  `json:"id"`
	Corpus  string  `json:"corpus"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// Store is the contract the knowledge search handler depends on.
type Store interface {
	Search(ctx context.Context, query string, corpusIDs []string, topK int, threshold float64) ([]Result, error)
	Index(ctx context.Context, corpusID string, doc Document) error
}
