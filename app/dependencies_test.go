package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/org-rag-assistant/config"
	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/repositories/postgres"
	"github.com/upb/org-rag-assistant/services/providers"
)

func TestNewDependenciesWithDB(t *testing.T) {
	t.Run("wires every component over an in-memory index", func(t *testing.T) {
		ctx := context.Background()
		logger := zaptest.NewLogger(t)
		cfg := testConfig()

		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversations").WillReturnResult(sqlmock.NewResult(0, 0))

		deps, err := NewDependenciesWithDB(ctx, cfg, postgres.WrapDB(sqlDB, logger), logger)
		require.NoError(t, err)

		assert.NotNil(t, deps.Metrics)
		assert.NotNil(t, deps.Repositories)
		assert.NotNil(t, deps.Repositories.Conversations)
		assert.NotNil(t, deps.Repositories.Messages)
		assert.NotNil(t, deps.Repositories.QueryLogs)
		assert.NotNil(t, deps.TxManager)
		assert.NotNil(t, deps.Index)
		assert.NotNil(t, deps.Embedder)
		assert.NotNil(t, deps.Orchestrator)
		assert.NotNil(t, deps.Guard)
		assert.NotNil(t, deps.Composer)
		assert.NotNil(t, deps.Conversations)
		assert.False(t, deps.Reranker.IsEnabled())

		assert.Equal(t, []string{config.ProviderOpenAI}, deps.ProviderRegistry.ListProviders())
		assert.Contains(t, deps.Generator.String(), "gpt-4o-mini")

		n, err := deps.Index.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		mock.ExpectClose()
		require.NoError(t, deps.Close(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("metrics are optional", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		cfg := testConfig()
		cfg.Observability.MetricsEnabled = false

		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversations").WillReturnResult(sqlmock.NewResult(0, 0))

		deps, err := NewDependenciesWithDB(context.Background(), cfg, postgres.WrapDB(sqlDB, logger), logger)
		require.NoError(t, err)
		assert.Nil(t, deps.Metrics)
	})

	t.Run("schema failure", func(t *testing.T) {
		logger := zaptest.NewLogger(t)

		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversations").WillReturnError(errors.New("permission denied"))

		deps, err := NewDependenciesWithDB(context.Background(), testConfig(), postgres.WrapDB(sqlDB, logger), logger)
		assert.Nil(t, deps)
		assert.ErrorContains(t, err, "failed to initialize database")
	})

	t.Run("unknown vector index backend", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		cfg := testConfig()
		cfg.VectorIndex.Backend = "faiss"

		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversations").WillReturnResult(sqlmock.NewResult(0, 0))

		_, err = NewDependenciesWithDB(context.Background(), cfg, postgres.WrapDB(sqlDB, logger), logger)
		assert.ErrorContains(t, err, "failed to initialize vector index")
	})

	t.Run("pgvector backend creates the passages schema", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		cfg := testConfig()
		cfg.VectorIndex.Backend = config.IndexPgvector

		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))

		deps, err := NewDependenciesWithDB(context.Background(), cfg, postgres.WrapDB(sqlDB, logger), logger)
		require.NoError(t, err)
		assert.IsType(t, &postgres.PassageRepository{}, deps.Index)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNewIngestion(t *testing.T) {
	ctx := context.Background()
	deps, err := NewIngestion(ctx, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Nil(t, deps.DB, "chromem needs no database")
	assert.NotNil(t, deps.Index)
	assert.NotNil(t, deps.Embedder)
	assert.NotNil(t, deps.Loader(0, 0))
	assert.NoError(t, deps.Close(ctx))
}

func TestBuildBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		want    string
		wantErr bool
	}{
		{name: "openai", backend: config.ProviderOpenAI, want: "openai"},
		{name: "unknown", backend: "anthropic", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := buildBackend(tt.backend, providers.ProviderConfig{APIKey: "test-key"})
			if tt.wantErr {
				assert.ErrorIs(t, err, providers.ErrProviderNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name())
			var _ rag.EmbeddingProvider = b
		})
	}
}

func TestProviderConfig(t *testing.T) {
	cfg := testConfig()

	openai := providerConfig(cfg, config.ProviderOpenAI)
	assert.Equal(t, "test-key", openai.APIKey)
	assert.Equal(t, "gpt-4o-mini", openai.Model)
	assert.Equal(t, "text-embedding-3-small", openai.EmbeddingModel)
	assert.Equal(t, 2, openai.MaxRetries)
	assert.Equal(t, defaultRetryDelay, openai.RetryDelay)

	ollama := providerConfig(cfg, config.ProviderOllama)
	assert.Equal(t, "http://localhost:11434", ollama.BaseURL)
	assert.Equal(t, "llama3.1", ollama.Model)
	assert.Equal(t, "nomic-embed-text", ollama.EmbeddingModel)
	assert.Empty(t, ollama.APIKey)
}

// Test helpers

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Providers: config.ProvidersConfig{
			Generation:  config.ProviderOpenAI,
			Temperature: 0.7,
			OpenAI: config.OpenAIConfig{
				APIKey:     "test-key",
				BaseURL:    "http://127.0.0.1:0",
				Model:      "gpt-4o-mini",
				Timeout:    5 * time.Second,
				MaxRetries: 2,
			},
			Ollama: config.OllamaConfig{
				ServerURL:      "http://localhost:11434",
				Model:          "llama3.1",
				EmbeddingModel: "nomic-embed-text",
			},
		},
		Embedding: config.EmbeddingConfig{
			Provider:  config.ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 3,
			CacheSize: 16,
		},
		VectorIndex: config.VectorIndexConfig{
			Backend:    config.IndexChromem,
			Collection: "test_docs",
		},
		RAG: config.RAGConfig{
			OrganizationName:         "Zibtek",
			SimilarityThreshold:      0.7,
			TopKInitial:              20,
			FallbackVectorScoreFloor: 0.5,
			HistoryTurns:             6,
		},
		Reranker: config.RerankerConfig{Enabled: false},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
	}
}
