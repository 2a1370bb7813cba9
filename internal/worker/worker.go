// Package worker executes queued mirror runs.
package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
	"github.com/JakeFAU/catalog-mirror/internal/metrics"
)

// Runner performs one mirror run. *crawler.Mirror satisfies it.
type Runner interface {
	Run(ctx context.Context, runID, baseURL, outputPath string) crawler.Result
}

// Archiver uploads a finished mirror tree. *archive.Uploader satisfies it.
type Archiver interface {
	Upload(ctx context.Context, runID, root string) (string, int, error)
}

// Config controls Worker behavior.
type Config struct {
	// OutputRoot holds runs whose request has no output directory, and
	// anchors relative ones.
	OutputRoot string
	// Topic receives one RunSummary per finished run. Empty disables publishing.
	Topic string
}

// Worker consumes queue items and executes the mirror pipeline.
type Worker struct {
	queue     crawler.Queue
	runs      crawler.RunStore
	runner    Runner
	archiver  Archiver
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. archiver and publisher may be nil.
func New(
	queue crawler.Queue,
	runs crawler.RunStore,
	runner Runner,
	archiver Archiver,
	publisher crawler.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "mirrors"
	}
	metrics.Init()
	return &Worker{
		queue:     queue,
		runs:      runs,
		runner:    runner,
		archiver:  archiver,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.processRun(ctx, item)
	}
}

func (w *Worker) processRun(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("run_id", item.RunID), zap.String("base_url", item.Request.BaseURL))
	if err := w.runs.MarkRunning(ctx, item.RunID); err != nil {
		logger.Error("mark run running failed", zap.Error(err))
		return
	}

	var result crawler.Result
	if w.runner == nil {
		result = crawler.Result{
			RunID:   item.RunID,
			BaseURL: item.Request.BaseURL,
			Aborted: "no runner configured",
		}
	} else {
		result = w.runner.Run(ctx, item.RunID, item.Request.BaseURL, w.outputDir(item))
	}

	// The run may have ended because ctx was canceled; its bookkeeping still
	// has to land.
	finishCtx := context.WithoutCancel(ctx)
	archiveURI := w.archive(finishCtx, logger, result)

	if err := w.runs.Finish(finishCtx, item.RunID, result); err != nil {
		logger.Error("finish run failed", zap.Error(err))
	}
	if err := w.publishSummary(finishCtx, result, archiveURI); err != nil {
		logger.Error("publish run summary failed", zap.Error(err))
	}
}

func (w *Worker) outputDir(item crawler.QueueItem) string {
	dir := item.Request.OutputPath
	switch {
	case dir == "":
		return filepath.Join(w.cfg.OutputRoot, item.RunID)
	case filepath.IsAbs(dir):
		return dir
	default:
		return filepath.Join(w.cfg.OutputRoot, dir)
	}
}

func (w *Worker) archive(ctx context.Context, logger *zap.Logger, result crawler.Result) string {
	if w.archiver == nil || !result.Succeeded() {
		return ""
	}
	uri, n, err := w.archiver.Upload(ctx, result.RunID, result.OutputPath)
	if err != nil {
		logger.Error("archive upload failed", zap.Error(err))
		return ""
	}
	logger.Info("mirror archived", zap.String("uri", uri), zap.Int("objects", n))
	return uri
}

func (w *Worker) publishSummary(ctx context.Context, result crawler.Result, archiveURI string) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, Summarize(result, archiveURI)); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

// Summarize condenses a Result into the event published for it.
func Summarize(result crawler.Result, archiveURI string) crawler.RunSummary {
	status := crawler.RunStatusSucceeded
	if !result.Succeeded() {
		status = crawler.RunStatusFailed
	}
	return crawler.RunSummary{
		RunID:      result.RunID,
		BaseURL:    result.BaseURL,
		OutputPath: result.OutputPath,
		Status:     string(status),
		Counters:   result.Counters,
		DurationMs: result.Duration().Milliseconds(),
		ArchiveURI: archiveURI,
	}
}
