package crawler

import (
	"context"
	"errors"
)

type teeSink []ManifestSink

// TeeManifest fans every entry out to all non-nil sinks. Every sink sees the
// entry even when an earlier one fails; the errors are joined.
func TeeManifest(sinks ...ManifestSink) ManifestSink {
	var out teeSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t teeSink) RecordEntry(ctx context.Context, entry ManifestEntry) error {
	var errs []error
	for _, s := range t {
		if err := s.RecordEntry(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
