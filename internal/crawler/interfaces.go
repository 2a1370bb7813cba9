package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Implementations
// issue exactly one request per call and never retry.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser turns raw HTML into a queryable Document.
type Parser interface {
	Parse(body []byte) (Document, error)
}

// Document is a parsed HTML page.
type Document interface {
	Select(tag string) []Element
	SelectByAttribute(tag, attr string) []Element
	Query(selector string) []Element
}

// Element is one node of a Document.
type Element interface {
	Attr(name string) (string, bool)
	Text() string
}

// PageStore persists mirrored files below an output root.
type PageStore interface {
	Write(ctx context.Context, relPath string, data []byte) (string, error)
	Read(ctx context.Context, relPath string) ([]byte, error)
	Root() string
}

// PageStoreFactory opens a PageStore rooted at dir.
type PageStoreFactory func(dir string) (PageStore, error)

// ManifestSink receives one entry per written file.
type ManifestSink interface {
	RecordEntry(ctx context.Context, entry ManifestEntry) error
}

// Pacer delays requests to keep a fixed pace per host.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists run metadata for the API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	MarkRunning(ctx context.Context, runID string) error
	Finish(ctx context.Context, runID string, result Result) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
}

// Queue provides enqueue/dequeue semantics for mirror runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for manifest entries.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
