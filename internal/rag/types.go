package rag

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned by an index when an inserted vector does not
// match the index dimension. It is a configuration error, never a per-record one.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Passage is one indexed chunk of source content with attribution metadata.
type Passage struct {
	Content    string `json:"content" yaml:"content" validate:"required"`
	SourceURL  string `json:"url" yaml:"url" validate:"required,url"`
	Title      string `json:"title" yaml:"title"`
	ChunkIndex int    `json:"chunk_index" yaml:"chunk_index" validate:"gte=0"`
}

// EmbeddedPassage is a Passage with its embedding and the id assigned at insert time.
type EmbeddedPassage struct {
	Passage
	ID     string
	Vector []float32
}

// ScoredPassage is a per-query candidate. RerankScore is nil until reranked.
type ScoredPassage struct {
	Passage
	VectorScore float64
	RerankScore *float64
}

// ConversationTurn is a read-only history entry.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrievalResult is the sole output of the orchestrator.
type RetrievalResult struct {
	ContextText string
	SourceURLs  []string
}

// IsEmpty reports whether no context was found.
func (r RetrievalResult) IsEmpty() bool {
	return r.ContextText == ""
}

// SearchHit is a single nearest-neighbor match returned by a VectorIndex.
type SearchHit struct {
	Content    string
	URL        string
	Title      string
	ChunkIndex int
	Score      float64
}

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores embedded passages and answers cosine nearest-neighbor queries.
// Search must return an empty slice, not an error, when the index is empty.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]SearchHit, error)
	Insert(ctx context.Context, passages []EmbeddedPassage) error
	DeleteBySource(ctx context.Context, url string) error
	Count(ctx context.Context) (int, error)
}

// Reranker scores (query, passage) pairs. Scores are in [0,1] and follow input order.
type Reranker interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
	IsEnabled() bool
}
