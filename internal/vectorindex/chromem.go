package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/internal/rag"
)

const (
	metaURL        = "url"
	metaTitle      = "title"
	metaChunkIndex = "chunk_index"
)

// ChromemIndex is an in-process cosine index backed by chromem-go.
// chromem locks each call internally. queryMu keeps deletes out from
// between a search's count and its query, since chromem rejects asking
// for more results than the collection holds.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger

	queryMu sync.RWMutex

	mu        sync.RWMutex
	dimension int
}

// NewChromemIndex opens (or creates) the collection. An empty persistPath keeps everything in memory.
// A dimension of 0 is fixed by the first insert.
func NewChromemIndex(persistPath, collection string, compress bool, dimension int, logger *zap.Logger) (*ChromemIndex, error) {
	var db *chromem.DB
	if persistPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(persistPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection %s: %w", collection, err)
	}

	logger.Info("chromem index ready",
		zap.String("collection", collection),
		zap.Bool("persistent", persistPath != ""),
		zap.Int("documents", col.Count()),
	)
	return &ChromemIndex{db: db, collection: col, logger: logger, dimension: dimension}, nil
}

// Search returns up to limit hits ordered by cosine similarity
func (c *ChromemIndex) Search(ctx context.Context, vector []float32, limit int) ([]rag.SearchHit, error) {
	if err := c.checkDimension(len(vector)); err != nil {
		return nil, err
	}

	c.queryMu.RLock()
	n := min(limit, c.collection.Count())
	if n <= 0 {
		c.queryMu.RUnlock()
		return []rag.SearchHit{}, nil
	}
	results, err := c.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	c.queryMu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}

	hits := make([]rag.SearchHit, 0, len(results))
	for _, r := range results {
		chunk, _ := strconv.Atoi(r.Metadata[metaChunkIndex])
		hits = append(hits, rag.SearchHit{
			Content:    r.Content,
			URL:        r.Metadata[metaURL],
			Title:      r.Metadata[metaTitle],
			ChunkIndex: chunk,
			Score:      float64(r.Similarity),
		})
	}
	return hits, nil
}

// Insert adds passages. A dimension mismatch rejects the whole batch.
func (c *ChromemIndex) Insert(ctx context.Context, passages []rag.EmbeddedPassage) error {
	if len(passages) == 0 {
		return nil
	}

	c.mu.Lock()
	if c.dimension == 0 {
		c.dimension = len(passages[0].Vector)
	}
	dim := c.dimension
	c.mu.Unlock()

	docs := make([]chromem.Document, len(passages))
	for i, p := range passages {
		if len(p.Vector) != dim {
			return fmt.Errorf("%w: passage %s has %d, index has %d", rag.ErrDimensionMismatch, p.ID, len(p.Vector), dim)
		}
		docs[i] = chromem.Document{
			ID:      p.ID,
			Content: p.Content,
			Metadata: map[string]string{
				metaURL:        p.SourceURL,
				metaTitle:      p.Title,
				metaChunkIndex: strconv.Itoa(p.ChunkIndex),
			},
			Embedding: p.Vector,
		}
	}

	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// DeleteBySource removes every passage with the given source URL
func (c *ChromemIndex) DeleteBySource(ctx context.Context, url string) error {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	if err := c.collection.Delete(ctx, map[string]string{metaURL: url}, nil); err != nil {
		return fmt.Errorf("failed to delete passages for %s: %w", url, err)
	}
	return nil
}

// Count returns the number of stored passages
func (c *ChromemIndex) Count(_ context.Context) (int, error) {
	return c.collection.Count(), nil
}

func (c *ChromemIndex) checkDimension(n int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dimension != 0 && n != c.dimension {
		return fmt.Errorf("%w: query has %d, index has %d", rag.ErrDimensionMismatch, n, c.dimension)
	}
	return nil
}
