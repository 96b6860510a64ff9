package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/internal/observability"
	"github.com/upb/org-rag-assistant/services"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if v := args.Get(0); v != nil {
		return v.([]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Search(ctx context.Context, vector []float32, limit int) ([]SearchHit, error) {
	args := m.Called(ctx, vector, limit)
	if v := args.Get(0); v != nil {
		return v.([]SearchHit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockIndex) Insert(ctx context.Context, passages []EmbeddedPassage) error {
	return m.Called(ctx, passages).Error(0)
}

func (m *mockIndex) DeleteBySource(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockIndex) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockReranker struct {
	mock.Mock
	enabled bool
}

func (m *mockReranker) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	args := m.Called(ctx, query, passages)
	if v := args.Get(0); v != nil {
		return v.([]float64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReranker) IsEnabled() bool { return m.enabled }

var queryVec = []float32{0.1, 0.2, 0.3}

func defaultOptions() Options {
	return Options{
		TopKInitial:         20,
		SimilarityThreshold: 0.7,
		FallbackScoreFloor:  0.5,
		RerankTopN:          5,
		RerankThreshold:     0.5,
	}
}

func hit(content, url string, score float64) SearchHit {
	return SearchHit{Content: content, URL: url, Score: score}
}

func TestRetrieve_PrimaryPassWithoutReranker(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)

	emb.On("Embed", ctx, "what does zibtek do").Return(queryVec, nil).Once()
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{
		hit("Zibtek builds software.", "https://zibtek.com/about", 0.75),
		hit("Zibtek offers QA.", "https://zibtek.com/services", 0.91),
		hit("Unrelated footer.", "https://zibtek.com/about", 0.40),
		hit("Zibtek team.", "https://zibtek.com/about", 0.82),
	}, nil).Once()

	o := NewOrchestrator(emb, idx, nil, defaultOptions(), nil, zap.NewNop())
	res, err := o.Retrieve(ctx, "what does zibtek do")

	require.NoError(t, err)
	assert.Equal(t, "[1] Zibtek offers QA.\n\n[2] Zibtek team.\n\n[3] Zibtek builds software.", res.ContextText)
	assert.Equal(t, []string{"https://zibtek.com/services", "https://zibtek.com/about"}, res.SourceURLs)
	emb.AssertNumberOfCalls(t, "Embed", 1)
	idx.AssertNumberOfCalls(t, "Search", 1)
}

func TestRetrieve_RerankOrdersFiltersAndTruncates(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	rr := &mockReranker{enabled: true}

	emb.On("Embed", ctx, "q").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{
		hit("a", "u1", 0.95),
		hit("b", "u2", 0.90),
		hit("c", "u3", 0.85),
		hit("d", "u4", 0.80),
		hit("e", "u5", 0.79),
		hit("f", "u6", 0.78),
		hit("g", "u7", 0.77),
	}, nil)
	rr.On("Score", ctx, "q", []string{"a", "b", "c", "d", "e", "f", "g"}).
		Return([]float64{0.2, 0.9, 0.6, 0.7, 0.6, 0.55, 0.8}, nil).Once()

	opts := defaultOptions()
	o := NewOrchestrator(emb, idx, rr, opts, nil, zap.NewNop())
	passages, trace, err := o.RetrieveDetailed(ctx, "q")

	require.NoError(t, err)
	require.Len(t, passages, opts.RerankTopN)

	got := make([]string, len(passages))
	for i, p := range passages {
		got[i] = p.Content
		require.NotNil(t, p.RerankScore)
		assert.GreaterOrEqual(t, *p.RerankScore, opts.RerankThreshold)
	}
	// ties keep vector order: c before e
	assert.Equal(t, []string{"b", "g", "d", "c", "e"}, got)
	assert.False(t, trace.FallbackUsed)
	assert.Equal(t, 5, trace.PrimaryCandidates)
}

func TestRetrieve_RepeatedCallsAreIdentical(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	rr := &mockReranker{enabled: true}

	emb.On("Embed", ctx, "q").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{
		hit("a", "u1", 0.90),
		hit("b", "u2", 0.85),
		hit("c", "u3", 0.80),
		hit("d", "u4", 0.75),
	}, nil)
	rr.On("Score", ctx, "q", []string{"a", "b", "c", "d"}).Return([]float64{0.8, 0.6, 0.8, 0.3}, nil)

	o := NewOrchestrator(emb, idx, rr, defaultOptions(), nil, zap.NewNop())
	first, _, err := o.RetrieveDetailed(ctx, "q")
	require.NoError(t, err)
	second, _, err := o.RetrieveDetailed(ctx, "q")
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	for i, p := range first {
		assert.Equal(t, p.Content, second[i].Content)
		assert.Equal(t, p.VectorScore, second[i].VectorScore)
		require.NotNil(t, second[i].RerankScore)
		assert.Equal(t, *p.RerankScore, *second[i].RerankScore)
	}
	// a and c tie on rerank score and keep vector order
	assert.Equal(t, []string{"a", "c", "b"}, []string{first[0].Content, first[1].Content, first[2].Content})
	rr.AssertNumberOfCalls(t, "Score", 2)
}

func TestRetrieve_RerankFailureFallsBackToVectorOrder(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	rr := &mockReranker{enabled: true}
	metrics := observability.NewMetrics()

	emb.On("Embed", ctx, "q").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{
		hit("low", "u1", 0.72),
		hit("high", "u2", 0.93),
	}, nil)
	rr.On("Score", ctx, "q", mock.Anything).Return(nil, errors.New("connection reset")).Once()

	o := NewOrchestrator(emb, idx, rr, defaultOptions(), metrics, zap.NewNop())
	passages, trace, err := o.RetrieveDetailed(ctx, "q")

	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "high", passages[0].Content)
	assert.Nil(t, passages[0].RerankScore)
	assert.True(t, trace.RerankFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RerankFailuresTotal))
}

func TestRetrieve_RerankScoreCountMismatchIsFailure(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	rr := &mockReranker{enabled: true}

	emb.On("Embed", ctx, "q").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{hit("a", "u1", 0.8), hit("b", "u2", 0.9)}, nil)
	rr.On("Score", ctx, "q", mock.Anything).Return([]float64{0.9}, nil)

	o := NewOrchestrator(emb, idx, rr, defaultOptions(), nil, zap.NewNop())
	passages, trace, err := o.RetrieveDetailed(ctx, "q")

	require.NoError(t, err)
	assert.True(t, trace.RerankFailed)
	assert.Equal(t, []string{"b", "a"}, []string{passages[0].Content, passages[1].Content})
}

func TestRetrieve_FallbackPassRunsOnce(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	metrics := observability.NewMetrics()

	emb.On("Embed", ctx, "q").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{
		hit("close enough", "https://zibtek.com/a", 0.62),
		hit("too far", "https://zibtek.com/b", 0.31),
	}, nil)

	o := NewOrchestrator(emb, idx, nil, defaultOptions(), metrics, zap.NewNop())
	passages, trace, err := o.RetrieveDetailed(ctx, "q")

	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "close enough", passages[0].Content)
	assert.True(t, trace.FallbackUsed)
	assert.Equal(t, 0, trace.PrimaryCandidates)
	assert.Equal(t, 1, trace.FallbackCandidates)
	emb.AssertNumberOfCalls(t, "Embed", 2)
	idx.AssertNumberOfCalls(t, "Search", 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RetrievalFallbackTotal))
}

func TestRetrieve_FallbackAlsoEmpty(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	rr := &mockReranker{enabled: true}

	emb.On("Embed", ctx, "weather in paris").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{hit("noise", "u", 0.2)}, nil)

	o := NewOrchestrator(emb, idx, rr, defaultOptions(), nil, zap.NewNop())
	res, err := o.Retrieve(ctx, "weather in paris")

	require.NoError(t, err)
	assert.True(t, res.IsEmpty())
	assert.Empty(t, res.SourceURLs)
	idx.AssertNumberOfCalls(t, "Search", 2)
	rr.AssertNotCalled(t, "Score", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetrieve_FallbackRerankedUnderSameRules(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	rr := &mockReranker{enabled: true}

	emb.On("Embed", ctx, "q").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{hit("x", "u1", 0.6), hit("y", "u2", 0.55)}, nil)
	rr.On("Score", ctx, "q", []string{"x", "y"}).Return([]float64{0.1, 0.3}, nil).Once()

	o := NewOrchestrator(emb, idx, rr, defaultOptions(), nil, zap.NewNop())
	res, err := o.Retrieve(ctx, "q")

	require.NoError(t, err)
	assert.True(t, res.IsEmpty(), "fallback candidates below rerank threshold are dropped")
	rr.AssertNumberOfCalls(t, "Score", 1)
}

func TestRetrieve_EmbeddingFailureIsRetrievalFailure(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)
	metrics := observability.NewMetrics()

	emb.On("Embed", ctx, "q").Return(nil, errors.New("401 unauthorized"))

	o := NewOrchestrator(emb, idx, nil, defaultOptions(), metrics, zap.NewNop())
	res, err := o.Retrieve(ctx, "q")

	require.Error(t, err)
	assert.True(t, services.IsRetrievalFailure(err))
	assert.True(t, res.IsEmpty())
	idx.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetrievalFailuresTotal))
}

func TestRetrieve_SearchFailureThenFallbackSucceeds(t *testing.T) {
	ctx := context.Background()
	emb := new(mockEmbedder)
	idx := new(mockIndex)

	emb.On("Embed", ctx, "q").Return(queryVec, nil)
	idx.On("Search", ctx, queryVec, 20).Return(nil, errors.New("connection refused")).Once()
	idx.On("Search", ctx, queryVec, 20).Return([]SearchHit{hit("found", "u", 0.58)}, nil).Once()

	o := NewOrchestrator(emb, idx, nil, defaultOptions(), nil, zap.NewNop())
	res, err := o.Retrieve(ctx, "q")

	require.NoError(t, err)
	assert.Equal(t, "[1] found", res.ContextText)
}

func TestFormatContext(t *testing.T) {
	tests := []struct {
		name        string
		passages    []ScoredPassage
		wantContext string
		wantSources []string
	}{
		{
			name:        "empty",
			passages:    nil,
			wantContext: "",
			wantSources: nil,
		},
		{
			name: "dedup preserves first seen order and skips empty urls",
			passages: []ScoredPassage{
				{Passage: Passage{Content: "one", SourceURL: "b"}},
				{Passage: Passage{Content: "two", SourceURL: ""}},
				{Passage: Passage{Content: "three", SourceURL: "a"}},
				{Passage: Passage{Content: "four", SourceURL: "b"}},
			},
			wantContext: "[1] one\n\n[2] two\n\n[3] three\n\n[4] four",
			wantSources: []string{"b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FormatContext(tt.passages)
			assert.Equal(t, tt.wantContext, res.ContextText)
			assert.Equal(t, tt.wantSources, res.SourceURLs)
		})
	}
}
