// Package langchain adapts langchaingo chat models and embedders to the
// provider interfaces used by the RAG pipeline.
package langchain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/services/providers"
)

// Backend serves chat completions and embeddings through langchaingo
type Backend struct {
	name     string
	model    string
	llm      llms.Model
	embedder embeddings.Embedder
}

var (
	_ providers.Provider    = (*Backend)(nil)
	_ rag.EmbeddingProvider = (*Backend)(nil)
)

// New wraps an existing model and embedder. embedder may be nil for generation-only use.
func New(name, model string, llm llms.Model, embedder embeddings.Embedder) *Backend {
	return &Backend{name: name, model: model, llm: llm, embedder: embedder}
}

// NewOpenAI builds an OpenAI-compatible backend (OpenAI, OpenRouter, vLLM)
func NewOpenAI(cfg providers.ProviderConfig) (*Backend, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai embedder: %w", err)
	}
	return New("langchain-openai", cfg.Model, llm, embedder), nil
}

// NewOllama builds a backend on a local Ollama server. Chat and embedding use separate models.
func NewOllama(serverURL, model, embeddingModel string) (*Backend, error) {
	llm, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	embedLLM, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(embeddingModel))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}
	return New("ollama", model, llm, embedder), nil
}

// Name returns the backend name
func (b *Backend) Name() string {
	return b.name
}

// ChatCompletion maps the unified request onto llms.Model.GenerateContent
func (b *Backend) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	start := time.Now()

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content = append(content, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	var opts []llms.CallOption
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := b.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, providers.NewProviderError(b.name, "GENERATION_ERROR", "generate content failed", 0, false, err)
	}

	out := &providers.ChatResponse{
		Model:    b.model,
		Provider: b.name,
		Choices:  make([]providers.Choice, 0, len(resp.Choices)),
		Latency:  time.Since(start),
		Created:  start,
	}
	for i, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		out.Choices = append(out.Choices, providers.Choice{
			Index:        i,
			Message:      providers.Message{Role: providers.RoleAssistant, Content: choice.Content},
			FinishReason: choice.StopReason,
		})
	}
	return out, nil
}

// IsAvailable reports whether a model is configured; langchaingo exposes no health probe
func (b *Backend) IsAvailable(context.Context) bool {
	return b.llm != nil
}

// Embed embeds a single query text
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	if b.embedder == nil {
		return nil, fmt.Errorf("%s: no embedder configured", b.name)
	}
	vec, err := b.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, providers.NewProviderError(b.name, "EMBEDDING_ERROR", "embed query failed", 0, false, err)
	}
	return vec, nil
}

// EmbedBatch embeds documents in input order
func (b *Backend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if b.embedder == nil {
		return nil, fmt.Errorf("%s: no embedder configured", b.name)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, providers.NewProviderError(b.name, "EMBEDDING_ERROR", "embed documents failed", 0, false, err)
	}
	if len(vecs) != len(texts) {
		return nil, providers.NewProviderError(b.name, "MALFORMED_RESPONSE",
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(vecs)), 0, false, nil)
	}
	return vecs, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case providers.RoleSystem:
		return llms.ChatMessageTypeSystem
	case providers.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
