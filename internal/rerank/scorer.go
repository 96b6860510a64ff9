package rerank

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/config"
)

// MaxPassageChars bounds the passage text sent to the cross-encoder
const MaxPassageChars = 512

// Normalization modes
const (
	NormalizeLogistic = "logistic"
	NormalizeNone     = "none"
)

// ErrRerankerDisabled is returned by Score when reranking is off or the probe failed
var ErrRerankerDisabled = errors.New("reranker is disabled")

// Scorer batches passages through a Client and maps scores into [0,1].
// It is immutable after construction and safe for concurrent use.
type Scorer struct {
	client      Client
	batchSize   int
	normalize   string
	enabled     bool
	initialized bool
	logger      *zap.Logger
}

// NewScorer builds a Scorer and probes the client when reranking is enabled.
// A failed probe leaves the scorer disabled rather than failing startup.
func NewScorer(ctx context.Context, client Client, cfg config.RerankerConfig, logger *zap.Logger) *Scorer {
	s := &Scorer{
		client:    client,
		batchSize: cfg.BatchSize,
		normalize: cfg.Normalize,
		enabled:   cfg.Enabled,
		logger:    logger,
	}
	if s.batchSize <= 0 {
		s.batchSize = 16
	}
	if !s.enabled || client == nil {
		logger.Info("reranker disabled")
		return s
	}

	if err := client.Ping(ctx); err != nil {
		logger.Warn("reranker probe failed, continuing without reranking", zap.Error(err))
		return s
	}
	s.initialized = true
	logger.Info("reranker ready", zap.Int("batch_size", s.batchSize), zap.String("normalize", s.normalize))
	return s
}

// IsEnabled reports whether Score will call the model
func (s *Scorer) IsEnabled() bool {
	return s.enabled && s.initialized
}

// Score returns a relevance score in [0,1] for each passage, in input order
func (s *Scorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if !s.IsEnabled() {
		return nil, ErrRerankerDisabled
	}

	out := make([]float64, 0, len(passages))
	for start := 0; start < len(passages); start += s.batchSize {
		end := min(start+s.batchSize, len(passages))

		batch := make([]string, end-start)
		for i, p := range passages[start:end] {
			batch[i] = truncateRunes(p, MaxPassageChars)
		}

		raw, err := s.client.Score(ctx, query, batch)
		if err != nil {
			return nil, fmt.Errorf("rerank batch %d-%d: %w", start, end, err)
		}
		if len(raw) != len(batch) {
			return nil, fmt.Errorf("%w: %d scores for batch of %d", ErrMalformedResponse, len(raw), len(batch))
		}
		for _, r := range raw {
			out = append(out, s.normalizeScore(r))
		}
	}
	return out, nil
}

func (s *Scorer) normalizeScore(raw float64) float64 {
	v := raw
	if s.normalize != NormalizeNone {
		v = sigmoid(raw)
	}
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
