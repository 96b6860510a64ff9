package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/org-rag-assistant/services/providers"
)

func TestNewOpenAIAdapter_Defaults(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"})

	assert.Equal(t, "openai", adapter.Name())
	assert.Equal(t, defaultBaseURL, adapter.config.BaseURL)
	assert.Equal(t, defaultModel, adapter.config.Model)
	assert.Equal(t, defaultEmbeddingModel, adapter.config.EmbeddingModel)
	assert.Equal(t, 30*time.Second, adapter.httpClient.Timeout)
}

func TestOpenAIAdapter_ChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req OpenAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.7, *req.Temperature)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(OpenAIChatResponse{
			ID:      "chatcmpl-test123",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []OpenAIChoice{{
				Message:      OpenAIMessage{Role: "assistant", Content: "Zibtek offers custom software development."},
				FinishReason: "stop",
			}},
			Usage: OpenAIUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		})
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})

	resp, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "You are the Zibtek assistant."},
			{Role: providers.RoleUser, Content: "What do you do?"},
		},
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Zibtek offers custom software development.", resp.Choices[0].Message.Content)
	assert.Equal(t, 30, resp.Usage.TotalTokens)
}

func TestOpenAIAdapter_ChatCompletion_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(OpenAIErrorResponse{Error: OpenAIError{
			Message: "Incorrect API key provided",
			Type:    "invalid_request_error",
			Code:    "invalid_api_key",
		}})
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "bad", BaseURL: server.URL})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "test"}},
	})
	var provErr *providers.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
	assert.Equal(t, "invalid_request_error", provErr.Code)
	assert.False(t, provErr.Retryable)
}

func TestOpenAIAdapter_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OpenAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req), "body is resent on every attempt")

		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(OpenAIChatResponse{
			Choices: []OpenAIChoice{{Message: OpenAIMessage{Role: "assistant", Content: "Success after retry"}}},
		})
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		BaseURL:    server.URL,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	})

	resp, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "test"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Success after retry", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestOpenAIAdapter_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL, MaxRetries: 1, RetryDelay: time.Millisecond})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{})
	require.Error(t, err)
	assert.True(t, providers.IsRetryable(err))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestOpenAIAdapter_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req OpenAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		// out of order on purpose
		_ = json.NewEncoder(w).Encode(OpenAIEmbeddingResponse{Data: []OpenAIEmbedding{
			{Index: 1, Embedding: []float32{0, 1}},
			{Index: 0, Embedding: []float32{1, 0}},
		}})
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL})

	vectors, err := adapter.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)

	empty, err := adapter.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenAIAdapter_Embed(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(OpenAIEmbeddingResponse{Data: []OpenAIEmbedding{{Embedding: []float32{0.5, 0.5}}}})
		}))
		defer server.Close()

		vec, err := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL}).Embed(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5}, vec)
	})

	t.Run("count mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(OpenAIEmbeddingResponse{})
		}))
		defer server.Close()

		_, err := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL}).Embed(context.Background(), "q")
		var provErr *providers.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "MALFORMED_RESPONSE", provErr.Code)
	})
}

func TestOpenAIAdapter_IsAvailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "available", status: http.StatusOK, want: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/models", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL})
			assert.Equal(t, tt.want, adapter.IsAvailable(context.Background()))
		})
	}
}

func TestBuildOpenAIRequest_OmitsZeroOptions(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{})

	req := adapter.buildOpenAIRequest(&providers.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})
	assert.Nil(t, req.Temperature)
	assert.Nil(t, req.MaxTokens)

	body, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "temperature")
}
