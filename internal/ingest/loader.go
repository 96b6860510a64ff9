// Package ingest loads pre-chunked passages into a vector index.
package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/utils"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// Corpus is the on-disk passage file format
type Corpus struct {
	Passages []rag.Passage `yaml:"passages"`
}

// LoadCorpus reads a YAML passage file
func LoadCorpus(path string) ([]rag.Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}

	var corpus Corpus
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	return corpus.Passages, nil
}

// Validate checks every passage and reports the first invalid one by position
func Validate(passages []rag.Passage) error {
	for i := range passages {
		if err := utils.ValidateStruct(&passages[i]); err != nil {
			if fields := utils.GetValidationFields(err); fields != nil {
				return fmt.Errorf("passage %d: %w (%v)", i, err, fields)
			}
			return fmt.Errorf("passage %d: %w", i, err)
		}
	}
	return nil
}

// Stats summarizes one ingestion run
type Stats struct {
	Passages int
	Sources  int
	Batches  int
	Duration time.Duration
}

// Loader embeds passages and writes them to an index
type Loader struct {
	embedder    rag.EmbeddingProvider
	index       rag.VectorIndex
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewLoader creates a loader. Non-positive sizes fall back to the defaults.
func NewLoader(embedder rag.EmbeddingProvider, index rag.VectorIndex, batchSize, concurrency int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Loader{
		embedder:    embedder,
		index:       index,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger,
	}
}

// WithRateLimit caps embedding requests per second. Non-positive disables the cap.
func (l *Loader) WithRateLimit(perSecond float64) *Loader {
	if perSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	} else {
		l.limiter = nil
	}
	return l
}

// Ingest replaces every source present in passages: existing passages of
// those sources are deleted, then the new ones are embedded and inserted.
// Nothing is deleted when validation or embedding fails.
func (l *Loader) Ingest(ctx context.Context, passages []rag.Passage) (Stats, error) {
	start := time.Now()
	if len(passages) == 0 {
		return Stats{}, nil
	}
	if err := Validate(passages); err != nil {
		return Stats{}, err
	}

	batches := split(passages, l.batchSize)
	embedded := make([][]rag.EmbeddedPassage, len(batches))

	l.logger.Info("step 1: embedding passages",
		zap.Int("passages", len(passages)),
		zap.Int("batches", len(batches)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			if l.limiter != nil {
				if err := l.limiter.Wait(gctx); err != nil {
					return fmt.Errorf("embedding batch %d: %w", i, err)
				}
			}
			texts := make([]string, len(batch))
			for j, p := range batch {
				texts[j] = p.Content
			}
			vectors, err := l.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch %d: %w", i, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding batch %d: expected %d vectors, got %d", i, len(batch), len(vectors))
			}

			out := make([]rag.EmbeddedPassage, len(batch))
			for j, p := range batch {
				out[j] = rag.EmbeddedPassage{Passage: p, ID: uuid.NewString(), Vector: vectors[j]}
			}
			embedded[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	sources := distinctSources(passages)
	l.logger.Info("step 2: deleting previous passages", zap.Int("sources", len(sources)))
	for _, url := range sources {
		if err := l.index.DeleteBySource(ctx, url); err != nil {
			return Stats{}, fmt.Errorf("deleting source %s: %w", url, err)
		}
	}

	l.logger.Info("step 3: inserting passages")
	for i, batch := range embedded {
		if err := l.index.Insert(ctx, batch); err != nil {
			return Stats{}, fmt.Errorf("inserting batch %d: %w", i, err)
		}
	}

	stats := Stats{
		Passages: len(passages),
		Sources:  len(sources),
		Batches:  len(batches),
		Duration: time.Since(start),
	}
	l.logger.Info("ingestion completed",
		zap.Int("passages", stats.Passages),
		zap.Int("sources", stats.Sources),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func split(passages []rag.Passage, size int) [][]rag.Passage {
	batches := make([][]rag.Passage, 0, (len(passages)+size-1)/size)
	for i := 0; i < len(passages); i += size {
		batches = append(batches, passages[i:min(i+size, len(passages))])
	}
	return batches
}

func distinctSources(passages []rag.Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	out := make([]string, 0)
	for _, p := range passages {
		if _, ok := seen[p.SourceURL]; ok {
			continue
		}
		seen[p.SourceURL] = struct{}{}
		out = append(out, p.SourceURL)
	}
	return out
}
