package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/app"
	"github.com/upb/org-rag-assistant/config"
	"github.com/upb/org-rag-assistant/internal/ingest"
	"github.com/upb/org-rag-assistant/internal/observability"
)

func main() {
	file := flag.String("file", "", "Path to the YAML passage corpus")
	batchSize := flag.Int("batch-size", ingest.DefaultBatchSize, "Passages per embedding request")
	concurrency := flag.Int("concurrency", ingest.DefaultConcurrency, "Embedding requests in flight")
	rps := flag.Float64("rps", 0, "Maximum embedding requests per second, 0 for no limit")
	dryRun := flag.Bool("dry-run", false, "Validate the corpus without embedding or writing")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -file corpus.yaml [-batch-size n] [-concurrency n] [-rps n] [-dry-run]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger, *file, *batchSize, *concurrency, *rps, *dryRun); err != nil {
		logger.Error("ingestion failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, file string, batchSize, concurrency int, rps float64, dryRun bool) error {
	passages, err := ingest.LoadCorpus(file)
	if err != nil {
		return err
	}
	if err := ingest.Validate(passages); err != nil {
		return err
	}
	logger.Info("corpus loaded", zap.String("file", file), zap.Int("passages", len(passages)))

	if dryRun {
		logger.Info("dry run, nothing written")
		return nil
	}

	deps, err := app.NewIngestion(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.Background()) }()

	stats, err := deps.Loader(batchSize, concurrency).WithRateLimit(rps).Ingest(ctx, passages)
	if err != nil {
		return err
	}

	total, err := deps.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count indexed passages: %w", err)
	}

	logger.Info("ingestion complete",
		zap.Int("passages", stats.Passages),
		zap.Int("sources", stats.Sources),
		zap.Int("batches", stats.Batches),
		zap.Duration("duration", stats.Duration),
		zap.Int("index_total", total))
	return nil
}
