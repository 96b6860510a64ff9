package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/repositories"
)

// PassageRepository is a pgvector-backed rag.VectorIndex
type PassageRepository struct {
	db        *DB
	txMgr     repositories.TransactionManager
	dimension int
	logger    *zap.Logger
}

var _ rag.VectorIndex = (*PassageRepository)(nil)

// NewPassageRepository creates a passage index over the passages table
func NewPassageRepository(db *DB, dimension int, logger *zap.Logger) *PassageRepository {
	return &PassageRepository{
		db:        db,
		txMgr:     NewTransactionManager(db, logger),
		dimension: dimension,
		logger:    logger,
	}
}

// Search returns the nearest passages by cosine similarity, highest first
func (r *PassageRepository) Search(ctx context.Context, vector []float32, limit int) ([]rag.SearchHit, error) {
	if len(vector) != r.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", rag.ErrDimensionMismatch, len(vector), r.dimension)
	}
	if limit <= 0 {
		return []rag.SearchHit{}, nil
	}

	query := `
		SELECT content, url, title, chunk_index, 1 - (embedding <=> $1) AS score
		FROM passages
		ORDER BY embedding <=> $1
		LIMIT $2
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search passages: %w", err)
	}
	defer rows.Close()

	hits := []rag.SearchHit{}
	for rows.Next() {
		var h rag.SearchHit
		if err := rows.Scan(&h.Content, &h.URL, &h.Title, &h.ChunkIndex, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passage rows: %w", err)
	}
	return hits, nil
}

// Insert stores passages in one transaction. Any dimension mismatch rejects the batch.
func (r *PassageRepository) Insert(ctx context.Context, passages []rag.EmbeddedPassage) error {
	if len(passages) == 0 {
		return nil
	}
	for _, p := range passages {
		if len(p.Vector) != r.dimension {
			return fmt.Errorf("%w: passage %s has %d, index has %d", rag.ErrDimensionMismatch, p.ID, len(p.Vector), r.dimension)
		}
	}

	query := `
		INSERT INTO passages (id, content, url, title, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	return r.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)
		for _, p := range passages {
			id := p.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := executor.ExecContext(ctx, query,
				id,
				p.Content,
				p.SourceURL,
				p.Title,
				p.ChunkIndex,
				pgvector.NewVector(p.Vector),
			); err != nil {
				return fmt.Errorf("failed to insert passage: %w", err)
			}
		}
		r.logger.Debug("passages inserted", zap.Int("count", len(passages)))
		return nil
	})
}

// DeleteBySource removes all passages for a source URL
func (r *PassageRepository) DeleteBySource(ctx context.Context, url string) error {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM passages WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		r.logger.Debug("passages deleted", zap.String("url", url), zap.Int64("count", n))
	}
	return nil
}

// Count returns the number of stored passages
func (r *PassageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := GetExecutor(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return n, nil
}
