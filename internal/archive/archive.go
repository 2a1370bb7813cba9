// Package archive uploads a finished mirror tree to a blob store.
package archive

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
)

const defaultUploads = 8

// Uploader copies every file below a mirror root into prefix/<run_id>/.
type Uploader struct {
	blobs       crawler.BlobStore
	prefix      string
	parallelism int
	logger      *zap.Logger
}

// New builds an Uploader. parallelism <= 0 uses a small default.
func New(blobs crawler.BlobStore, prefix string, parallelism int, logger *zap.Logger) *Uploader {
	if parallelism <= 0 {
		parallelism = defaultUploads
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		blobs:       blobs,
		prefix:      strings.Trim(prefix, "/"),
		parallelism: parallelism,
		logger:      logger,
	}
}

// Upload walks root and uploads each regular file. It returns the URI of the
// run folder and the number of objects written.
func (u *Uploader) Upload(ctx context.Context, runID, root string) (string, int, error) {
	if u == nil || u.blobs == nil {
		return "", 0, fmt.Errorf("archive uploader is not configured")
	}
	if runID == "" {
		return "", 0, fmt.Errorf("run id is required")
	}
	base := path.Join(u.prefix, runID)

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("walk %s: %w", root, err)
	}

	var (
		uploaded atomic.Int64
		firstURI atomic.Value
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism)
	for _, file := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(root, file)
			if err != nil {
				return fmt.Errorf("relative path for %s: %w", file, err)
			}
			object := path.Join(base, filepath.ToSlash(rel))
			uri, err := u.put(gctx, object, file)
			if err != nil {
				return err
			}
			firstURI.CompareAndSwap(nil, strings.TrimSuffix(uri, "/"+filepath.ToSlash(rel)))
			uploaded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", int(uploaded.Load()), err
	}

	uri, _ := firstURI.Load().(string)
	if uri == "" {
		uri = base
	}
	u.logger.Info("mirror archived",
		zap.String("run_id", runID),
		zap.String("uri", uri),
		zap.Int64("objects", uploaded.Load()),
	)
	return uri, int(uploaded.Load()), nil
}

func (u *Uploader) put(ctx context.Context, object, file string) (string, error) {
	// #nosec G304 -- file comes from walking the run's own output directory.
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			u.logger.Warn("close archived file", zap.String("path", file), zap.Error(cerr))
		}
	}()
	uri, err := u.blobs.PutObject(ctx, object, contentType(file), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return uri, nil
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
