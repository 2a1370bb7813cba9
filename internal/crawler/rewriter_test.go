package crawler_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
	"github.com/JakeFAU/catalog-mirror/internal/htmldoc"
	"github.com/JakeFAU/catalog-mirror/internal/storage/local"
)

func TestRewriterRewritePage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	pagePath := filepath.Join("catalogue", "book_1", "index.html")
	doc := `<html><body><a href="../../index.html">Home</a>` +
		`<img src=../../media/cache/c.jpg alt=cover>` +
		`<a href="https://elsewhere.example/">away</a>` +
		`<a href="missing.html">gone</a></body></html>`
	_, err = store.Write(ctx, pagePath, []byte(doc))
	require.NoError(t, err)

	snapshot := map[string]string{
		"http://site/index.html":        "index.html",
		"http://site/media/cache/c.jpg": filepath.Join("catalogue", "book_1", "c.jpg"),
	}
	rw := crawler.NewRewriter(store, htmldoc.New(), nil)
	n, err := rw.RewritePage(ctx, crawler.SavedPage{
		URL:       "http://site/catalogue/book_1/index.html",
		Kind:      crawler.KindBook,
		LocalPath: pagePath,
	}, snapshot)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out, err := store.Read(ctx, pagePath)
	require.NoError(t, err)
	require.Contains(t, string(out), `<img src=c.jpg alt=cover>`)
	require.Contains(t, string(out), `href="../../index.html"`)
	require.Contains(t, string(out), `href="https://elsewhere.example/"`)
	require.Contains(t, string(out), `href="missing.html"`)
}

func TestRewriterMissingPage(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	rw := crawler.NewRewriter(store, htmldoc.New(), nil)
	_, err = rw.RewritePage(context.Background(), crawler.SavedPage{
		URL:       "http://site/catalogue/page-2.html",
		Kind:      crawler.KindCataloguePage,
		LocalPath: filepath.Join("catalogue", "page-2.html"),
	}, nil)
	var fsErr *crawler.FilesystemError
	require.ErrorAs(t, err, &fsErr)
}
