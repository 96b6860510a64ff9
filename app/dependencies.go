package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/config"
	"github.com/upb/org-rag-assistant/internal/embedding"
	"github.com/upb/org-rag-assistant/internal/observability"
	"github.com/upb/org-rag-assistant/internal/prompt"
	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/internal/rerank"
	"github.com/upb/org-rag-assistant/internal/vectorindex"
	"github.com/upb/org-rag-assistant/repositories"
	"github.com/upb/org-rag-assistant/repositories/postgres"
	"github.com/upb/org-rag-assistant/services/chat"
	"github.com/upb/org-rag-assistant/services/conversation"
	"github.com/upb/org-rag-assistant/services/providers"
	"github.com/upb/org-rag-assistant/services/providers/langchain"
	"github.com/upb/org-rag-assistant/services/providers/openai"
)

const defaultRetryDelay = time.Second

// backend is what every generation and embedding backend provides
type backend interface {
	providers.Provider
	rag.EmbeddingProvider
}

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager

	// Retrieval
	Index        rag.VectorIndex
	Embedder     *embedding.CachedProvider
	Reranker     *rerank.Scorer
	Orchestrator *rag.Orchestrator

	// Generation
	ProviderRegistry *providers.Registry
	Generator        *providers.ChatGenerator

	// Chat
	Guard         *prompt.ScopeGuard
	Composer      *chat.Composer
	Conversations *conversation.Service
}

// NewDependencies opens the database and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithDB(ctx, cfg, factory.GetDB(), logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithDB wires everything over an already open database
func NewDependenciesWithDB(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		DB:          db,
		Logger:      logger,
		RepoFactory: postgres.NewRepositoryFactoryFromDB(db, logger),
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initIndex(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	if err := deps.initEmbedder(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initGuard(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize scope guard: %w", err)
	}

	deps.initRetrieval(ctx, cfg)
	deps.initChat(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase creates the chat persistence schema
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if err := d.DB.InitSchema(ctx); err != nil {
		return err
	}
	d.Logger.Info("database schema ready")
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repositories = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

// initIndex opens the configured vector index
func (d *Dependencies) initIndex(ctx context.Context, cfg *config.Config) error {
	switch cfg.VectorIndex.Backend {
	case config.IndexPgvector:
		if err := d.DB.InitVectorSchema(ctx, cfg.Embedding.Dimension); err != nil {
			return err
		}
		d.Index = d.RepoFactory.NewPassageIndex(cfg.Embedding.Dimension)
	case config.IndexChromem:
		idx, err := vectorindex.NewChromemIndex(
			cfg.VectorIndex.PersistPath,
			cfg.VectorIndex.Collection,
			cfg.VectorIndex.Compress,
			cfg.Embedding.Dimension,
			d.Logger,
		)
		if err != nil {
			return err
		}
		d.Index = idx
	default:
		return fmt.Errorf("unknown vector index backend %q", cfg.VectorIndex.Backend)
	}

	d.Logger.Info("vector index initialized", zap.String("backend", cfg.VectorIndex.Backend))
	return nil
}

// initEmbedder builds the embedding backend behind the query cache
func (d *Dependencies) initEmbedder(cfg *config.Config) error {
	pcfg := providerConfig(cfg, cfg.Embedding.Provider)
	b, err := buildBackend(cfg.Embedding.Provider, pcfg)
	if err != nil {
		return err
	}

	cached, err := embedding.NewCachedProvider(b, cfg.Embedding.CacheSize)
	if err != nil {
		return err
	}
	// the shared call budget covers every backend retry
	d.Embedder = cached.WithTimeout(pcfg.Timeout * time.Duration(pcfg.MaxRetries+1))

	d.Logger.Info("embedding provider initialized",
		zap.String("provider", b.Name()),
		zap.Int("cache_size", cfg.Embedding.CacheSize))
	return nil
}

// initProviders registers the generation backend and builds the generator over it
func (d *Dependencies) initProviders(cfg *config.Config) error {
	name := cfg.Providers.Generation
	pcfg := providerConfig(cfg, name)

	registry, err := providers.NewRegistryBuilder().
		WithProviderBuilder(config.ProviderOpenAI, builderFor(config.ProviderOpenAI)).
		WithProviderBuilder(config.ProviderLangchainOpenAI, builderFor(config.ProviderLangchainOpenAI)).
		WithProviderBuilder(config.ProviderOllama, builderFor(config.ProviderOllama)).
		Build(map[string]providers.ProviderConfig{name: pcfg})
	if err != nil {
		return err
	}

	// builders register under the backend's own name, which is the config name
	provider, err := registry.GetProvider(name)
	if err != nil {
		return err
	}

	d.ProviderRegistry = registry
	d.Generator = providers.NewChatGenerator(provider, pcfg.Model, cfg.Providers.Temperature)

	d.Logger.Info("generation provider registered", zap.String("generator", d.Generator.String()))
	return nil
}

// initGuard compiles the built-in injection rules plus any configured extras
func (d *Dependencies) initGuard(cfg *config.Config) error {
	rules := append([]prompt.InjectionRule(nil), prompt.DefaultInjectionRules...)
	if cfg.Guard.RulesPath != "" {
		extra, err := prompt.LoadInjectionRules(cfg.Guard.RulesPath)
		if err != nil {
			return err
		}
		rules = append(rules, extra...)
		d.Logger.Info("loaded extra injection rules",
			zap.String("path", cfg.Guard.RulesPath),
			zap.Int("count", len(extra)))
	}

	guard, err := prompt.NewScopeGuard(rules, nil)
	if err != nil {
		return err
	}
	d.Guard = guard
	return nil
}

// initRetrieval builds the reranker and the orchestrator
func (d *Dependencies) initRetrieval(ctx context.Context, cfg *config.Config) {
	var client rerank.Client
	if cfg.Reranker.Enabled {
		client = rerank.NewHTTPClient(cfg.Reranker.URL, cfg.Reranker.Model, cfg.Reranker.Timeout, nil, d.Logger)
	}
	d.Reranker = rerank.NewScorer(ctx, client, cfg.Reranker, d.Logger)

	d.Orchestrator = rag.NewOrchestrator(
		d.Embedder,
		d.Index,
		d.Reranker,
		rag.OptionsFromConfig(cfg.RAG, cfg.Reranker),
		d.Metrics,
		d.Logger,
	)
}

// initChat builds the composer and the conversation service
func (d *Dependencies) initChat(cfg *config.Config) {
	d.Composer = chat.NewComposer(
		d.Guard,
		d.Orchestrator,
		d.Generator,
		cfg.RAG.OrganizationName,
		cfg.RAG.HistoryTurns,
		d.Metrics,
		d.Logger,
	)
	d.Conversations = conversation.NewService(
		d.Repositories,
		d.TxManager,
		d.Composer,
		cfg.RAG.HistoryTurns,
		d.Logger,
	)
	if cfg.Guard.RedactQueryLogs {
		d.Conversations.WithRedaction(prompt.RedactPII)
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Embedder != nil {
		stats := d.Embedder.Stats()
		d.Logger.Info("embedding cache stats",
			zap.Int("size", stats.Size),
			zap.Uint64("hits", stats.Hits),
			zap.Uint64("misses", stats.Misses))
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

// providerConfig maps the config section of a backend onto a ProviderConfig
func providerConfig(cfg *config.Config, name string) providers.ProviderConfig {
	pcfg := providers.DefaultProviderConfig()
	switch name {
	case config.ProviderOllama:
		pcfg.BaseURL = cfg.Providers.Ollama.ServerURL
		pcfg.Model = cfg.Providers.Ollama.Model
		pcfg.EmbeddingModel = cfg.Providers.Ollama.EmbeddingModel
	default:
		pcfg.APIKey = cfg.Providers.OpenAI.APIKey
		pcfg.BaseURL = cfg.Providers.OpenAI.BaseURL
		pcfg.Model = cfg.Providers.OpenAI.Model
		pcfg.EmbeddingModel = cfg.Embedding.Model
		pcfg.Timeout = cfg.Providers.OpenAI.Timeout
		pcfg.MaxRetries = cfg.Providers.OpenAI.MaxRetries
		pcfg.RetryDelay = defaultRetryDelay
	}
	return pcfg
}

// buildBackend constructs a backend by config name
func buildBackend(name string, pcfg providers.ProviderConfig) (backend, error) {
	switch name {
	case config.ProviderOpenAI:
		return openai.NewOpenAIAdapter(pcfg), nil
	case config.ProviderLangchainOpenAI:
		return langchain.NewOpenAI(pcfg)
	case config.ProviderOllama:
		return langchain.NewOllama(pcfg.BaseURL, pcfg.Model, pcfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("%w: %s", providers.ErrProviderNotFound, name)
	}
}

func builderFor(name string) providers.ProviderBuilder {
	return func(pcfg providers.ProviderConfig) (providers.Provider, error) {
		return buildBackend(name, pcfg)
	}
}
