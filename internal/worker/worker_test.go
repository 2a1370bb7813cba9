package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
	pubmemory "github.com/JakeFAU/catalog-mirror/internal/publisher/memory"
	"github.com/JakeFAU/catalog-mirror/internal/storage/memory"
)

func submit(t *testing.T, runs *memory.RunStore, id, baseURL, out string) crawler.QueueItem {
	t.Helper()
	req := crawler.RunRequest{BaseURL: baseURL, OutputPath: out}
	require.NoError(t, runs.CreateRun(context.Background(), crawler.Run{ID: id, Request: req, Submitted: time.Now()}))
	return crawler.QueueItem{RunID: id, Request: req, Submitted: time.Now().Unix()}
}

func waitForStatus(t *testing.T, runs *memory.RunStore, id string, want crawler.RunStatus) crawler.Run {
	t.Helper()
	var run crawler.Run
	require.Eventually(t, func() bool {
		got, err := runs.GetRun(context.Background(), id)
		if err != nil {
			return false
		}
		run = got
		return got.Status == want
	}, time.Second, 10*time.Millisecond)
	return run
}

func TestWorker_ProcessRun_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := memory.NewRunStore()
	queue := &fakeQueue{items: []crawler.QueueItem{submit(t, runs, "run-ok", "http://site/", "")}}
	runner := &fakeRunner{counters: crawler.Counters{Pages: 3, Books: 20}}
	archiver := &fakeArchiver{uri: "gs://bucket/mirrors/run-ok"}
	publisher := pubmemory.New()

	w := New(queue, runs, runner, archiver, publisher,
		Config{OutputRoot: "/data/mirrors", Topic: "mirror-runs"}, zap.NewNop())
	go w.Run(ctx)

	run := waitForStatus(t, runs, "run-ok", crawler.RunStatusSucceeded)
	require.NotNil(t, run.Result)
	require.Equal(t, 20, run.Result.Counters.Books)
	require.Equal(t, []string{filepath.Join("/data/mirrors", "run-ok")}, runner.outputs())
	require.Equal(t, []string{filepath.Join("/data/mirrors", "run-ok")}, archiver.roots())

	require.Eventually(t, func() bool { return len(publisher.Summaries()) == 1 }, time.Second, 10*time.Millisecond)
	summary := publisher.Summaries()[0]
	require.Equal(t, "run-ok", summary.RunID)
	require.Equal(t, "succeeded", summary.Status)
	require.Equal(t, "gs://bucket/mirrors/run-ok", summary.ArchiveURI)
	require.Equal(t, "mirror-runs", publisher.Messages()[0].Topic)
}

func TestWorker_ProcessRun_AbortedRunSkipsArchive(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := memory.NewRunStore()
	queue := &fakeQueue{items: []crawler.QueueItem{submit(t, runs, "run-bad", "http://site/", "out")}}
	runner := &fakeRunner{aborted: "fetch http://site/: status 500"}
	archiver := &fakeArchiver{}
	publisher := pubmemory.New()

	w := New(queue, runs, runner, archiver, publisher, Config{OutputRoot: "root", Topic: "runs"}, zap.NewNop())
	go w.Run(ctx)

	run := waitForStatus(t, runs, "run-bad", crawler.RunStatusFailed)
	require.Contains(t, run.Result.Aborted, "status 500")
	require.Empty(t, archiver.roots())
	require.Equal(t, []string{filepath.Join("root", "out")}, runner.outputs())

	require.Eventually(t, func() bool { return len(publisher.Summaries()) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, "failed", publisher.Summaries()[0].Status)
	require.Empty(t, publisher.Summaries()[0].ArchiveURI)
}

func TestWorker_ProcessRun_ArchiveAndPublishFailuresKeepResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := memory.NewRunStore()
	queue := &fakeQueue{items: []crawler.QueueItem{submit(t, runs, "run-x", "http://site/", "/abs/out")}}
	archiver := &fakeArchiver{err: errors.New("bucket missing")}
	publisher := pubmemory.New()
	publisher.FailWith(errors.New("pub failure"))

	w := New(queue, runs, &fakeRunner{}, archiver, publisher, Config{Topic: "runs"}, zap.NewNop())
	go w.Run(ctx)

	waitForStatus(t, runs, "run-x", crawler.RunStatusSucceeded)
	require.Equal(t, []string{"/abs/out"}, archiver.roots())
	require.Empty(t, publisher.Messages())
}

func TestWorker_NoRunnerFailsRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := memory.NewRunStore()
	queue := &fakeQueue{items: []crawler.QueueItem{submit(t, runs, "run-none", "http://site/", "")}}

	w := New(queue, runs, nil, nil, nil, Config{}, nil)
	go w.Run(ctx)

	run := waitForStatus(t, runs, "run-none", crawler.RunStatusFailed)
	require.Equal(t, "no runner configured", run.Result.Aborted)
}

func TestWorker_UnknownRunIsSkipped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := memory.NewRunStore()
	runner := &fakeRunner{}
	queue := &fakeQueue{items: []crawler.QueueItem{{RunID: "ghost"}}}

	w := New(queue, runs, runner, nil, nil, Config{}, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, queue.empty, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, runner.outputs())
}

func TestWorkerOutputDir(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, nil, nil, Config{}, zap.NewNop())
	require.Equal(t, filepath.Join("mirrors", "r1"), w.outputDir(crawler.QueueItem{RunID: "r1"}))
	require.Equal(t, filepath.Join("mirrors", "books"),
		w.outputDir(crawler.QueueItem{RunID: "r1", Request: crawler.RunRequest{OutputPath: "books"}}))
	require.Equal(t, "/srv/books",
		w.outputDir(crawler.QueueItem{RunID: "r1", Request: crawler.RunRequest{OutputPath: "/srv/books"}}))
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0)
	got := Summarize(crawler.Result{
		RunID:      "r",
		BaseURL:    "http://site/",
		OutputPath: "out",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Counters:   crawler.Counters{Books: 2},
	}, "gs://b/r")
	require.Equal(t, crawler.RunSummary{
		RunID:      "r",
		BaseURL:    "http://site/",
		OutputPath: "out",
		Status:     "succeeded",
		Counters:   crawler.Counters{Books: 2},
		DurationMs: 1500,
		ArchiveURI: "gs://b/r",
	}, got)
}

// --- fakes ---

type fakeQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func (q *fakeQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

type fakeRunner struct {
	mu       sync.Mutex
	outs     []string
	counters crawler.Counters
	aborted  string
}

func (r *fakeRunner) Run(_ context.Context, runID, baseURL, outputPath string) crawler.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs = append(r.outs, outputPath)
	now := time.Now()
	return crawler.Result{
		RunID:      runID,
		BaseURL:    baseURL,
		OutputPath: outputPath,
		StartedAt:  now,
		FinishedAt: now.Add(time.Millisecond),
		Counters:   r.counters,
		Aborted:    r.aborted,
	}
}

func (r *fakeRunner) outputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outs...)
}

type fakeArchiver struct {
	mu      sync.Mutex
	uploads []string
	uri     string
	err     error
}

func (a *fakeArchiver) Upload(_ context.Context, _ string, root string) (string, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads = append(a.uploads, root)
	if a.err != nil {
		return "", 0, a.err
	}
	return a.uri, 1, nil
}

func (a *fakeArchiver) roots() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.uploads...)
}
