package crawler

import (
	"net/http"
	"time"
)

// Kind classifies a URL by its role in the catalogue site.
type Kind string

// Kinds recognised by Classify.
const (
	KindHome          Kind = "home"
	KindCategory      Kind = "category"
	KindCataloguePage Kind = "catalogue_page"
	KindBook          Kind = "book"
	KindResource      Kind = "resource"
)

// CrawlTarget is a URL discovered in a parent document.
type CrawlTarget struct {
	URL       string
	Kind      Kind
	Page      int
	LocalPath string
}

// Cursor drives "next page" traversal of a listing. An empty Current ends it.
type Cursor struct {
	Current string
}

// Done reports whether the traversal has no further page.
func (c Cursor) Done() bool {
	return c.Current == ""
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL  string
	Kind Kind
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ManifestEntry describes one file written during a run.
type ManifestEntry struct {
	RunID       string    `json:"run_id"`
	URL         string    `json:"url"`
	LocalPath   string    `json:"local_path"`
	Kind        Kind      `json:"kind"`
	ContentHash string    `json:"content_hash"`
	Bytes       int       `json:"bytes"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Failure records one skipped item.
type Failure struct {
	URL   string `json:"url"`
	Kind  Kind   `json:"kind"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Counters tallies the work done by a run.
type Counters struct {
	Pages      int `json:"pages"`
	Categories int `json:"categories"`
	Books      int `json:"books"`
	Resources  int `json:"resources"`
	Rewritten  int `json:"rewritten"`
	Failed     int `json:"failed"`
}

// Result summarises a finished mirror run.
type Result struct {
	RunID      string    `json:"run_id"`
	BaseURL    string    `json:"base_url"`
	OutputPath string    `json:"output_path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Counters   Counters  `json:"counters"`
	Failures   []Failure `json:"failures,omitempty"`
	Aborted    string    `json:"aborted,omitempty"`
}

// Succeeded reports whether the run reached the rewrite stage.
func (r Result) Succeeded() bool {
	return r.Aborted == ""
}

// Duration is the wall time of the run.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStatus represents the lifecycle state of a mirror run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRequest captures a mirror the API asked for.
type RunRequest struct {
	BaseURL    string `json:"base_url"`
	OutputPath string `json:"output_dir"`
}

// Run is the metadata tracked for a submitted mirror.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Request   RunRequest `json:"request"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	Result    *Result    `json:"result,omitempty"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Request   RunRequest
	Submitted int64
}

// RunSummary is published once a run finishes.
type RunSummary struct {
	RunID      string   `json:"run_id"`
	BaseURL    string   `json:"base_url"`
	OutputPath string   `json:"output_path"`
	Status     string   `json:"status"`
	Counters   Counters `json:"counters"`
	DurationMs int64    `json:"duration_ms"`
	ArchiveURI string   `json:"archive_uri,omitempty"`
}
