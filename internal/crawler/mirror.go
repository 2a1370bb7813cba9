package crawler

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/clock/system"
	idgen "github.com/JakeFAU/catalog-mirror/internal/id/uuid"
	"github.com/JakeFAU/catalog-mirror/internal/metrics"
)

// Mirror drives the home → categories → catalogue → books → resources crawl
// and the final link rewrite. One Mirror may serve many runs; all per-run state
// (registry, limiter, store) is created inside Run.
type Mirror struct {
	cfg       Config
	fetcher   Fetcher
	parser    Parser
	openStore PageStoreFactory
	manifest  ManifestSink
	pacer     Pacer
	hasher    Hasher
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// Option customizes a Mirror.
type Option func(*Mirror)

// WithManifest sends one entry per written file to sink.
func WithManifest(sink ManifestSink) Option {
	return func(m *Mirror) { m.manifest = sink }
}

// WithPacer delays every request through p before it takes a permit.
func WithPacer(p Pacer) Option {
	return func(m *Mirror) { m.pacer = p }
}

// WithHasher sets the digest used for manifest entries.
func WithHasher(h Hasher) Option {
	return func(m *Mirror) { m.hasher = h }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(m *Mirror) { m.clock = c }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Mirror) { m.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

// New constructs a Mirror.
func New(cfg Config, fetcher Fetcher, parser Parser, openStore PageStoreFactory, opts ...Option) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	if fetcher == nil || parser == nil || openStore == nil {
		return nil, fmt.Errorf("fetcher, parser and store factory are required")
	}
	m := &Mirror{
		cfg:       cfg,
		fetcher:   fetcher,
		parser:    parser,
		openStore: openStore,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.clock == nil {
		m.clock = system.New()
	}
	if m.ids == nil {
		m.ids = idgen.New()
	}
	metrics.Init()
	return m, nil
}

// MirrorSite mirrors baseURL into outputPath under a fresh run ID. It never
// fails: errors are logged and summarized in the Result.
func (m *Mirror) MirrorSite(ctx context.Context, baseURL, outputPath string) Result {
	runID, err := m.ids.NewID()
	if err != nil {
		m.logger.Warn("run id generation failed", zap.Error(err))
		runID = fmt.Sprintf("run-%d", m.clock.Now().UnixNano())
	}
	return m.Run(ctx, runID, baseURL, outputPath)
}

// Run mirrors baseURL into outputPath under runID.
func (m *Mirror) Run(ctx context.Context, runID, baseURL, outputPath string) (result Result) {
	logger := m.logger.With(zap.String("run_id", runID), zap.String("base_url", baseURL))
	result = Result{
		RunID:      runID,
		BaseURL:    baseURL,
		OutputPath: outputPath,
		StartedAt:  m.clock.Now(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("mirror panicked", zap.Any("panic", rec))
			result.Aborted = fmt.Sprintf("panic: %v", rec)
		}
		result.FinishedAt = m.clock.Now()
		status := "succeeded"
		if !result.Succeeded() {
			status = "failed"
		}
		metrics.ObserveRun(status)
		logger.Info("mirror finished",
			zap.String("status", status),
			zap.Int("pages", result.Counters.Pages),
			zap.Int("books", result.Counters.Books),
			zap.Int("resources", result.Counters.Resources),
			zap.Int("failed", result.Counters.Failed),
			zap.Duration("elapsed", result.Duration()),
		)
	}()

	base, err := parseBase(baseURL)
	if err != nil {
		logger.Error("invalid base url", zap.Error(err))
		result.Aborted = err.Error()
		return result
	}
	store, err := m.openStore(outputPath)
	if err != nil {
		logger.Error("open output directory failed", zap.String("path", outputPath), zap.Error(err))
		result.Aborted = (&FilesystemError{Path: outputPath, Err: err}).Error()
		return result
	}

	r := &run{
		m:        m,
		id:       runID,
		base:     base,
		registry: NewRegistry(),
		limiter:  NewLimiter(m.cfg.Concurrency),
		store:    store,
		rewriter: NewRewriter(store, m.parser, logger.Named("rewrite")),
		logger:   logger,
	}
	r.execute(ctx)

	counters, failures := r.summary()
	result.Counters = counters
	result.Failures = failures
	if r.aborted != "" {
		result.Aborted = r.aborted
	} else if err := ctx.Err(); err != nil {
		result.Aborted = err.Error()
	}
	return result
}

func parseBase(raw string) (*url.URL, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url: unsupported scheme %q", u.Scheme)
	}
	return u, nil
}
