package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rerankServer(t *testing.T, results []Result) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what does zibtek build", req.Query)
		assert.Equal(t, "bge-reranker-v2-m3", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Results: results, Model: req.Model})
	}))
}

func TestHTTPClient_Score_MapsByIndex(t *testing.T) {
	server := rerankServer(t, []Result{
		{Index: 2, Score: 3.5},
		{Index: 0, Score: -1.25},
		{Index: 1, Score: 0.5},
	})
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "bge-reranker-v2-m3", 5*time.Second, nil, zap.NewNop())
	scores, err := client.Score(context.Background(), "what does zibtek build", []string{"a", "b", "c"})

	require.NoError(t, err)
	assert.Equal(t, []float64{-1.25, 0.5, 3.5}, scores)
}

func TestHTTPClient_Score_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
	}{
		{"index out of range", []Result{{Index: 0, Score: 1}, {Index: 5, Score: 1}}},
		{"negative index", []Result{{Index: -1, Score: 1}, {Index: 0, Score: 1}}},
		{"duplicate index", []Result{{Index: 0, Score: 1}, {Index: 0, Score: 2}}},
		{"missing result", []Result{{Index: 0, Score: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rerankServer(t, tt.results)
			defer server.Close()

			client := NewHTTPClient(server.URL, "bge-reranker-v2-m3", 5*time.Second, nil, zap.NewNop())
			_, err := client.Score(context.Background(), "what does zibtek build", []string{"a", "b"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestHTTPClient_Score_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "m", 5*time.Second, nil, zap.NewNop())
	_, err := client.Score(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPClient_Score_Empty(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", "m", time.Second, nil, zap.NewNop())
	scores, err := client.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestHTTPClient_Ping(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	assert.NoError(t, NewHTTPClient(healthy.URL, "m", time.Second, nil, zap.NewNop()).Ping(context.Background()))
	assert.Error(t, NewHTTPClient(unhealthy.URL, "m", time.Second, nil, zap.NewNop()).Ping(context.Background()))
}
