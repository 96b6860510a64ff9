package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Providers     ProvidersConfig
	Embedding     EmbeddingConfig
	VectorIndex   VectorIndexConfig
	RAG           RAGConfig
	Reranker      RerankerConfig
	Guard         GuardConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	CORSOrigins     []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// Generation backends
const (
	ProviderOpenAI          = "openai"
	ProviderLangchainOpenAI = "langchain-openai"
	ProviderOllama          = "ollama"
)

// ProvidersConfig selects and configures the generation backend
type ProvidersConfig struct {
	Generation  string
	Temperature float64
	OpenAI      OpenAIConfig
	Ollama      OllamaConfig
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// OllamaConfig holds configuration for a local Ollama server
type OllamaConfig struct {
	ServerURL      string
	Model          string
	EmbeddingModel string
}

// EmbeddingConfig configures the embedding backend
type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
	CacheSize int
}

// Vector index backends
const (
	IndexChromem  = "chromem"
	IndexPgvector = "pgvector"
)

// VectorIndexConfig selects the vector index implementation
type VectorIndexConfig struct {
	Backend     string
	Collection  string
	PersistPath string // chromem only; empty keeps the index in memory
	Compress    bool
}

// RAGConfig holds the retrieval and composition knobs
type RAGConfig struct {
	OrganizationName         string
	SimilarityThreshold      float64
	TopKInitial              int
	FallbackVectorScoreFloor float64
	HistoryTurns             int
	DebugProbeQuery          string
}

// RerankerConfig configures the cross-encoder reranker
type RerankerConfig struct {
	Enabled   bool
	URL       string
	Model     string
	TopN      int
	Threshold float64
	BatchSize int
	Normalize string // "logistic" when the model returns raw logits, "none" otherwise
	Timeout   time.Duration
}

// GuardConfig configures the scope guard
type GuardConfig struct {
	RulesPath       string
	RedactQueryLogs bool
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		Database: loadDatabaseConfig(),
		Providers: ProvidersConfig{
			Generation:  getEnv("GENERATION_PROVIDER", ProviderOpenAI),
			Temperature: getEnvAsFloat("GENERATION_TEMPERATURE", 0.7),
			OpenAI: OpenAIConfig{
				APIKey:     getEnv("OPENAI_API_KEY", ""),
				BaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:      getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
				Timeout:    getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
				MaxRetries: getEnvAsInt("OPENAI_MAX_RETRIES", 3),
			},
			Ollama: OllamaConfig{
				ServerURL:      getEnv("OLLAMA_URL", "http://localhost:11434"),
				Model:          getEnv("OLLAMA_MODEL", "llama3.1"),
				EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", ProviderOpenAI),
			Model:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvAsInt("VECTOR_SIZE", 1536),
			CacheSize: getEnvAsInt("EMBEDDING_CACHE_SIZE", 1024),
		},
		VectorIndex: VectorIndexConfig{
			Backend:     getEnv("VECTOR_INDEX", IndexChromem),
			Collection:  getEnv("VECTOR_COLLECTION", "org_docs"),
			PersistPath: getEnv("CHROMEM_PATH", "data/chromem"),
			Compress:    getEnvAsBool("CHROMEM_COMPRESS", false),
		},
		RAG: RAGConfig{
			OrganizationName:         getEnv("ORGANIZATION_NAME", "Zibtek"),
			SimilarityThreshold:      getEnvAsFloat("SIMILARITY_THRESHOLD", 0.7),
			TopKInitial:              getEnvAsInt("TOP_K_INITIAL", 20),
			FallbackVectorScoreFloor: getEnvAsFloat("FALLBACK_VECTOR_SCORE_FLOOR", 0.5),
			HistoryTurns:             getEnvAsInt("HISTORY_TURNS", 6),
			DebugProbeQuery:          getEnv("DEBUG_PROBE_QUERY", ""),
		},
		Reranker: RerankerConfig{
			Enabled:   getEnvAsBool("RERANK_ENABLED", true),
			URL:       getEnv("RERANK_URL", "http://localhost:8001"),
			Model:     getEnv("RERANK_MODEL", "cross-encoder/ms-marco-MiniLM-L-6-v2"),
			TopN:      getEnvAsInt("RERANK_TOP_N", 5),
			Threshold: getEnvAsFloat("RERANK_THRESHOLD", 0.5),
			BatchSize: getEnvAsInt("RERANK_BATCH_SIZE", 16),
			Normalize: getEnv("RERANK_NORMALIZE", "logistic"),
			Timeout:   getEnvAsDuration("RERANK_TIMEOUT", 10*time.Second),
		},
		Guard: GuardConfig{
			RulesPath:       getEnv("GUARD_RULES_PATH", ""),
			RedactQueryLogs: getEnvAsBool("REDACT_QUERY_LOGS", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if cfg.RAG.DebugProbeQuery == "" {
		cfg.RAG.DebugProbeQuery = fmt.Sprintf("What services does %s offer?", cfg.RAG.OrganizationName)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	switch c.Providers.Generation {
	case ProviderOpenAI, ProviderLangchainOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown generation provider %q", c.Providers.Generation)
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderLangchainOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.IsProduction() && c.usesOpenAI() && c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required in production")
	}

	if c.VectorIndex.Backend != IndexChromem && c.VectorIndex.Backend != IndexPgvector {
		return fmt.Errorf("unknown vector index backend %q", c.VectorIndex.Backend)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("vector size must be positive")
	}

	if err := c.RAG.validate(); err != nil {
		return err
	}
	if err := c.Reranker.validate(); err != nil {
		return err
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (r *RAGConfig) validate() error {
	if r.TopKInitial <= 0 {
		return fmt.Errorf("TOP_K_INITIAL must be positive")
	}
	if r.SimilarityThreshold < -1 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be within [-1, 1]")
	}
	if r.FallbackVectorScoreFloor < -1 || r.FallbackVectorScoreFloor > 1 {
		return fmt.Errorf("FALLBACK_VECTOR_SCORE_FLOOR must be within [-1, 1]")
	}
	if r.HistoryTurns < 0 {
		return fmt.Errorf("HISTORY_TURNS cannot be negative")
	}
	return nil
}

func (r *RerankerConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.TopN <= 0 {
		return fmt.Errorf("RERANK_TOP_N must be positive")
	}
	if r.BatchSize <= 0 {
		return fmt.Errorf("RERANK_BATCH_SIZE must be positive")
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("RERANK_THRESHOLD must be within [0, 1]")
	}
	if r.Normalize != "logistic" && r.Normalize != "none" {
		return fmt.Errorf("RERANK_NORMALIZE must be logistic or none")
	}
	return nil
}

func (c *Config) usesOpenAI() bool {
	isOpenAI := func(p string) bool { return p == ProviderOpenAI || p == ProviderLangchainOpenAI }
	return isOpenAI(c.Providers.Generation) || isOpenAI(c.Embedding.Provider)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "dev_password"),
		Database:        getEnv("DB_NAME", "assistant"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
