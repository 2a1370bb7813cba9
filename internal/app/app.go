// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/archive"
	"github.com/JakeFAU/catalog-mirror/internal/config"
	"github.com/JakeFAU/catalog-mirror/internal/crawler"
	collyfetcher "github.com/JakeFAU/catalog-mirror/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-mirror/internal/hash/sha256"
	"github.com/JakeFAU/catalog-mirror/internal/htmldoc"
	"github.com/JakeFAU/catalog-mirror/internal/logging"
	"github.com/JakeFAU/catalog-mirror/internal/policy/ratelimit"
	pspub "github.com/JakeFAU/catalog-mirror/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-mirror/internal/storage/gcs"
	"github.com/JakeFAU/catalog-mirror/internal/storage/local"
	"github.com/JakeFAU/catalog-mirror/internal/storage/memory"
	"github.com/JakeFAU/catalog-mirror/internal/storage/postgres"
)

// App holds the shared services built from one Config. Optional services
// (Postgres manifest, Pub/Sub, archive) are nil when unconfigured.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Runs      *memory.RunStore
	Mirror    *crawler.Mirror
	Publisher crawler.Publisher
	Archiver  *archive.Uploader

	closers []func() error
}

// New builds every service the config asks for, failing fast on the first one
// that cannot start.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Runs: memory.NewRunStore()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	sinks := []crawler.ManifestSink{a.Runs}
	if cfg.Manifest.DSN != "" {
		store, err := postgres.NewManifestStore(ctx, postgres.ManifestStoreConfig{
			DSN:   cfg.Manifest.DSN,
			Table: cfg.Manifest.Table,
		})
		if err != nil {
			return fmt.Errorf("init manifest store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("init manifest schema: %w", err)
		}
		logger.Info("postgres manifest enabled", zap.String("table", cfg.Manifest.Table))
		sinks = append(sinks, store)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	})
	opts := []crawler.Option{
		crawler.WithManifest(crawler.TeeManifest(sinks...)),
		crawler.WithHasher(sha256.New()),
		crawler.WithLogger(logger.Named("crawler")),
	}
	if cfg.Crawler.RequestsPerSecond > 0 {
		opts = append(opts, crawler.WithPacer(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.RequestsPerSecond,
			DefaultBurst: cfg.Crawler.Burst,
		})))
	}
	mirror, err := crawler.New(cfg.Crawl(), fetcher, htmldoc.New(), local.Open, opts...)
	if err != nil {
		return fmt.Errorf("init mirror: %w", err)
	}
	a.Mirror = mirror

	if cfg.PubSub.Topic != "" {
		pub, err := pspub.Open(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.Publisher = pub
		logger.Info("run summaries enabled", zap.String("topic", cfg.PubSub.Topic))
	}

	if cfg.Archive.GCSBucket != "" {
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init archive bucket: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		a.Archiver = archive.New(blobs, cfg.Archive.Prefix, cfg.Archive.Parallelism, logger.Named("archive"))
		logger.Info("archive upload enabled", zap.String("bucket", cfg.Archive.GCSBucket))
	} else if cfg.Archive.Dir != "" {
		blobs, err := local.New(local.Config{BaseDir: cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("init archive dir: %w", err)
		}
		a.Archiver = archive.New(blobs, cfg.Archive.Prefix, cfg.Archive.Parallelism, logger.Named("archive"))
		logger.Info("archive copy enabled", zap.String("dir", cfg.Archive.Dir))
	}
	return nil
}

// Close releases services in reverse start order and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	// Sync fails on terminals (ENOTTY); there is nothing to do about it.
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
