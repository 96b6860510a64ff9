package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/config"
	"github.com/upb/org-rag-assistant/internal/observability"
	"github.com/upb/org-rag-assistant/services"
)

// Options are the retrieval knobs
type Options struct {
	TopKInitial         int
	SimilarityThreshold float64
	FallbackScoreFloor  float64
	RerankTopN          int
	RerankThreshold     float64
}

// OptionsFromConfig assembles Options from the RAG and reranker sections
func OptionsFromConfig(ragCfg config.RAGConfig, rerankCfg config.RerankerConfig) Options {
	return Options{
		TopKInitial:         ragCfg.TopKInitial,
		SimilarityThreshold: ragCfg.SimilarityThreshold,
		FallbackScoreFloor:  ragCfg.FallbackVectorScoreFloor,
		RerankTopN:          rerankCfg.TopN,
		RerankThreshold:     rerankCfg.Threshold,
	}
}

// RetrievalTrace describes how a retrieval was answered
type RetrievalTrace struct {
	PrimaryCandidates  int
	FallbackUsed       bool
	FallbackCandidates int
	RerankFailed       bool
}

// Orchestrator runs the two-stage retrieval with a single lowered-threshold fallback
type Orchestrator struct {
	embedder EmbeddingProvider
	index    VectorIndex
	reranker Reranker
	opts     Options
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. reranker and metrics may be nil.
func NewOrchestrator(
	embedder EmbeddingProvider,
	index VectorIndex,
	reranker Reranker,
	opts Options,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// Retrieve returns the formatted context and sources for query.
// On embedding or index failure the result is empty and the RetrievalFailure is returned with it.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) (RetrievalResult, error) {
	passages, _, err := o.RetrieveDetailed(ctx, query)
	return FormatContext(passages), err
}

// RetrieveDetailed returns the ranked passages and a trace of the passes that ran
func (o *Orchestrator) RetrieveDetailed(ctx context.Context, query string) ([]ScoredPassage, RetrievalTrace, error) {
	logger := observability.WithRequestID(ctx, o.logger)
	var trace RetrievalTrace

	logger.Debug("step 1: primary retrieval pass", zap.Float64("threshold", o.opts.SimilarityThreshold))
	passages, primaryErr := o.pass(ctx, logger, query, o.opts.SimilarityThreshold, &trace)
	trace.PrimaryCandidates = len(passages)
	if len(passages) > 0 {
		return passages, trace, nil
	}

	logger.Debug("step 2: fallback retrieval pass", zap.Float64("threshold", o.opts.FallbackScoreFloor))
	trace.FallbackUsed = true
	o.metrics.RecordFallback()

	passages, fallbackErr := o.pass(ctx, logger, query, o.opts.FallbackScoreFloor, &trace)
	trace.FallbackCandidates = len(passages)
	if len(passages) > 0 {
		return passages, trace, nil
	}

	if fallbackErr != nil {
		return nil, trace, fallbackErr
	}
	return nil, trace, primaryErr
}

// pass runs embed, search, filter and rank once. Errors yield zero candidates.
func (o *Orchestrator) pass(ctx context.Context, logger *zap.Logger, query string, floor float64, trace *RetrievalTrace) ([]ScoredPassage, error) {
	start := time.Now()
	vec, err := o.embedder.Embed(ctx, query)
	o.metrics.ObserveStage(observability.StageEmbed, time.Since(start))
	if err != nil {
		o.metrics.RecordRetrievalFailure()
		logger.Warn("query embedding failed", zap.Error(err))
		return nil, services.WrapRetrieval("failed to embed query", err)
	}

	start = time.Now()
	hits, err := o.index.Search(ctx, vec, o.opts.TopKInitial)
	o.metrics.ObserveStage(observability.StageSearch, time.Since(start))
	if err != nil {
		o.metrics.RecordRetrievalFailure()
		logger.Warn("vector search failed", zap.Error(err))
		return nil, services.WrapRetrieval("vector search failed", err)
	}

	candidates := make([]ScoredPassage, 0, len(hits))
	for _, h := range hits {
		if h.Score < floor {
			continue
		}
		candidates = append(candidates, ScoredPassage{
			Passage: Passage{
				Content:    h.Content,
				SourceURL:  h.URL,
				Title:      h.Title,
				ChunkIndex: h.ChunkIndex,
			},
			VectorScore: h.Score,
		})
	}
	logger.Debug("candidates above threshold",
		zap.Int("hits", len(hits)),
		zap.Int("candidates", len(candidates)),
		zap.Float64("threshold", floor),
	)
	if len(candidates) == 0 {
		return nil, nil
	}
	return o.rank(ctx, logger, query, candidates, trace), nil
}

// rank reranks when enabled, falling back to vector order on reranker failure
func (o *Orchestrator) rank(ctx context.Context, logger *zap.Logger, query string, candidates []ScoredPassage, trace *RetrievalTrace) []ScoredPassage {
	if o.reranker == nil || !o.reranker.IsEnabled() {
		sortByVectorScore(candidates)
		return candidates
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	start := time.Now()
	scores, err := o.reranker.Score(ctx, query, texts)
	o.metrics.ObserveStage(observability.StageRerank, time.Since(start))
	if err == nil && len(scores) != len(candidates) {
		err = fmt.Errorf("got %d scores for %d candidates", len(scores), len(candidates))
	}
	if err != nil {
		rerankErr := services.WrapRerank("rerank failed, using vector order", err)
		logger.Warn("reranking failed", zap.Error(rerankErr))
		o.metrics.RecordRerankFailure()
		trace.RerankFailed = true
		sortByVectorScore(candidates)
		return candidates
	}

	for i := range candidates {
		s := scores[i]
		candidates[i].RerankScore = &s
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].RerankScore > *candidates[j].RerankScore
	})

	kept := candidates[:0]
	for _, c := range candidates {
		if *c.RerankScore >= o.opts.RerankThreshold {
			kept = append(kept, c)
		}
	}
	if o.opts.RerankTopN > 0 && len(kept) > o.opts.RerankTopN {
		kept = kept[:o.opts.RerankTopN]
	}

	logger.Debug("reranked candidates",
		zap.Int("scored", len(candidates)),
		zap.Int("kept", len(kept)),
		zap.Float64("threshold", o.opts.RerankThreshold),
	)
	return kept
}

func sortByVectorScore(passages []ScoredPassage) {
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].VectorScore > passages[j].VectorScore
	})
}

// FormatContext numbers passages from 1 in rank order and collects unique non-empty source URLs
func FormatContext(passages []ScoredPassage) RetrievalResult {
	if len(passages) == 0 {
		return RetrievalResult{}
	}

	parts := make([]string, len(passages))
	seen := make(map[string]struct{}, len(passages))
	var sources []string
	for i, p := range passages {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, p.Content)
		if p.SourceURL == "" {
			continue
		}
		if _, ok := seen[p.SourceURL]; ok {
			continue
		}
		seen[p.SourceURL] = struct{}{}
		sources = append(sources, p.SourceURL)
	}

	return RetrievalResult{
		ContextText: strings.Join(parts, "\n\n"),
		SourceURLs:  sources,
	}
}
