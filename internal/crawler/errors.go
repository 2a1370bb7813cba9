package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTitle is returned when a book page has no h1 node.
	ErrMissingTitle = errors.New("missing title node")
	// ErrBodyTooLarge is returned by fetchers for responses over their size cap.
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
	// ErrPathEscapesRoot is returned by stores for paths that leave the output root.
	ErrPathEscapesRoot = errors.New("path escapes output root")
	// ErrRunNotFound is returned by run stores for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
)

// FetchError reports a transport failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports HTML that could not be parsed or lacks an expected node.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// FilesystemError reports a failed directory or file write.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// stageOf names the error class for failure records and metrics.
func stageOf(err error) string {
	var (
		fetchErr *FetchError
		parseErr *ParseError
		fsErr    *FilesystemError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &fsErr):
		return "write"
	default:
		return "other"
	}
}
