package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := crawler.Run{ID: "run-1", Submitted: time.Unix(10, 0).UTC()}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Fatal("expected duplicate run error")
	}
	got, err := store.GetRun(ctx, run.ID)
	if err != nil || got.Status != crawler.RunStatusQueued {
		t.Fatalf("expected queued run, got %+v err=%v", got, err)
	}
	if err := store.MarkRunning(ctx, run.ID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	result := crawler.Result{
		RunID:      run.ID,
		FinishedAt: time.Unix(20, 0).UTC(),
		Counters:   crawler.Counters{Books: 3},
		Failures:   []crawler.Failure{{URL: "http://site/x", Stage: "fetch"}},
	}
	if err := store.Finish(ctx, run.ID, result); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	result.Failures[0].URL = "modified"

	final, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if final.Status != crawler.RunStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.Result == nil || final.Result.Counters.Books != 3 {
		t.Fatalf("expected result to persist, got %+v", final.Result)
	}
	if final.Result.Failures[0].URL != "http://site/x" {
		t.Fatal("expected Finish to keep its own copy of failures")
	}
}

func TestRunStoreFailedResult(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	if err := store.CreateRun(ctx, crawler.Run{ID: "run-2"}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.Finish(ctx, "run-2", crawler.Result{Aborted: "home page failed"}); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	run, _ := store.GetRun(ctx, "run-2")
	if run.Status != crawler.RunStatusFailed {
		t.Fatalf("expected failed status, got %s", run.Status)
	}
}

func TestRunStoreMissingRun(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	if _, err := store.GetRun(ctx, "nope"); !errors.Is(err, crawler.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.MarkRunning(ctx, "nope"); !errors.Is(err, crawler.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.Finish(ctx, "nope", crawler.Result{}); !errors.Is(err, crawler.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		if err := store.CreateRun(ctx, crawler.Run{ID: id, Submitted: time.Unix(int64(i), 0)}); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "c" || runs[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", runs)
	}
}

func TestRunStoreManifest(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	if err := store.RecordEntry(ctx, crawler.ManifestEntry{RunID: "r", URL: "http://site/"}); err != nil {
		t.Fatalf("RecordEntry() error = %v", err)
	}
	entries := store.Entries("r")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entries[0].URL = "modified"
	if store.Entries("r")[0].URL != "http://site/" {
		t.Fatal("expected Entries to return a copy")
	}
}
