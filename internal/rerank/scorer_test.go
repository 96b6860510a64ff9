package rerank

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/config"
)

// fakeClient returns len(passage) as the raw score and records batch sizes
type fakeClient struct {
	mu       sync.Mutex
	batches  []int
	longest  int
	pingErr  error
	scoreErr error
	scoreFn  func(string) float64
}

func (f *fakeClient) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scoreErr != nil {
		return nil, f.scoreErr
	}
	f.batches = append(f.batches, len(passages))
	out := make([]float64, len(passages))
	for i, p := range passages {
		if n := utf8.RuneCountInString(p); n > f.longest {
			f.longest = n
		}
		if f.scoreFn != nil {
			out[i] = f.scoreFn(p)
		}
	}
	return out, nil
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }

func enabledConfig() config.RerankerConfig {
	return config.RerankerConfig{Enabled: true, BatchSize: 4, Normalize: NormalizeLogistic}
}

func TestNewScorer_ProbeFailureDisables(t *testing.T) {
	client := &fakeClient{pingErr: errors.New("connection refused")}
	s := NewScorer(context.Background(), client, enabledConfig(), zap.NewNop())

	assert.False(t, s.IsEnabled())
	_, err := s.Score(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, ErrRerankerDisabled)
	assert.Empty(t, client.batches)
}

func TestNewScorer_DisabledByConfig(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	s := NewScorer(context.Background(), &fakeClient{}, cfg, zap.NewNop())
	assert.False(t, s.IsEnabled())
}

func TestScorer_Batching(t *testing.T) {
	client := &fakeClient{}
	s := NewScorer(context.Background(), client, enabledConfig(), zap.NewNop())
	require.True(t, s.IsEnabled())

	passages := make([]string, 10)
	for i := range passages {
		passages[i] = "passage"
	}

	scores, err := s.Score(context.Background(), "q", passages)
	require.NoError(t, err)
	assert.Len(t, scores, 10)
	assert.Equal(t, []int{4, 4, 2}, client.batches)
}

func TestScorer_TruncatesPassages(t *testing.T) {
	client := &fakeClient{}
	s := NewScorer(context.Background(), client, enabledConfig(), zap.NewNop())

	_, err := s.Score(context.Background(), "q", []string{strings.Repeat("é", 2000)})
	require.NoError(t, err)
	assert.Equal(t, MaxPassageChars, client.longest)
}

func TestScorer_ScoresInUnitInterval(t *testing.T) {
	raw := map[string]float64{
		"very relevant": 12.0,
		"relevant":      0.8,
		"neutral":       0,
		"irrelevant":    -9.5,
		"extreme":       math.Inf(-1),
	}
	client := &fakeClient{scoreFn: func(p string) float64 { return raw[p] }}
	s := NewScorer(context.Background(), client, enabledConfig(), zap.NewNop())

	passages := []string{"very relevant", "relevant", "neutral", "irrelevant", "extreme"}
	scores, err := s.Score(context.Background(), "q", passages)
	require.NoError(t, err)

	for i, sc := range scores {
		assert.GreaterOrEqual(t, sc, 0.0, passages[i])
		assert.LessOrEqual(t, sc, 1.0, passages[i])
	}
	assert.InDelta(t, 0.5, scores[2], 1e-9)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[1], scores[3])
}

func TestScorer_BatchBoundaryIndependence(t *testing.T) {
	fn := func(p string) float64 { return float64(len(p)) - 5 }
	passages := []string{"a", "bbbbbbb", "cc", "ddddddddd", "eeee", "ffffff", "g"}

	small := enabledConfig()
	small.BatchSize = 2
	large := enabledConfig()
	large.BatchSize = 16

	a, err := NewScorer(context.Background(), &fakeClient{scoreFn: fn}, small, zap.NewNop()).Score(context.Background(), "q", passages)
	require.NoError(t, err)
	b, err := NewScorer(context.Background(), &fakeClient{scoreFn: fn}, large, zap.NewNop()).Score(context.Background(), "q", passages)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestScorer_NoNormalizationClamps(t *testing.T) {
	cfg := enabledConfig()
	cfg.Normalize = NormalizeNone
	client := &fakeClient{scoreFn: func(p string) float64 {
		switch p {
		case "high":
			return 1.7
		case "low":
			return -0.3
		default:
			return 0.42
		}
	}}
	s := NewScorer(context.Background(), client, cfg, zap.NewNop())

	scores, err := s.Score(context.Background(), "q", []string{"high", "low", "mid"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0.42}, scores)
}

func TestScorer_ClientError(t *testing.T) {
	client := &fakeClient{}
	s := NewScorer(context.Background(), client, enabledConfig(), zap.NewNop())
	client.scoreErr = errors.New("timeout")

	_, err := s.Score(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
