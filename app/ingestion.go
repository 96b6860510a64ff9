package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/config"
	"github.com/upb/org-rag-assistant/internal/ingest"
	"github.com/upb/org-rag-assistant/repositories/postgres"
)

// NewIngestion wires only what corpus loading needs: the index and the embedder.
// The database is opened only for the pgvector backend.
func NewIngestion(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg, Logger: logger}

	if cfg.VectorIndex.Backend == config.IndexPgvector {
		factory, err := postgres.NewRepositoryFactory(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		deps.RepoFactory = factory
		deps.DB = factory.GetDB()
	}

	if err := deps.initIndex(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if err := deps.initEmbedder(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}
	return deps, nil
}

// Loader returns a corpus loader over the wired index and embedder
func (d *Dependencies) Loader(batchSize, concurrency int) *ingest.Loader {
	return ingest.NewLoader(d.Embedder, d.Index, batchSize, concurrency, d.Logger)
}
