package crawler

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-mirror/internal/metrics"
)

const (
	bookLinkSelector = "h3 > a"
	nextLinkSelector = "li.next > a"
	titleTag         = "h1"
)

// errSeen stops a traversal that reached a page some other cursor already owns.
var errSeen = errors.New("page already claimed")

// listing is a parsed listing page (home, catalogue or category).
type listing struct {
	url  string
	path string
	doc  Document
}

// run holds the state of one MirrorSite call.
type run struct {
	m        *Mirror
	id       string
	base     *url.URL
	registry *Registry
	limiter  *Limiter
	store    PageStore
	rewriter *Rewriter
	logger   *zap.Logger

	mu       sync.Mutex
	counters Counters
	failures []Failure
	pages    []savedPage
	images   map[string]map[string]struct{}
	aborted  string
}

func (r *run) execute(ctx context.Context) {
	r.logger.Info("mirror started", zap.Int("concurrency", r.limiter.Size()))
	home, err := r.home(ctx)
	if err != nil {
		r.logger.Error("home page failed, nothing to mirror", zap.Error(err))
		r.fail(r.base.String(), KindHome, err)
		r.aborted = err.Error()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.categories(ctx, home)
	}()
	go func() {
		defer wg.Done()
		r.catalogue(ctx, home)
	}()
	wg.Wait()

	r.bookImages(ctx)
	r.rewrite(ctx)
}

// home fetches the base URL and saves it as the output index.
func (r *run) home(ctx context.Context) (listing, error) {
	homeURL := r.base.String()
	r.registry.TryClaim(homeURL)
	resp, err := r.fetch(ctx, homeURL, KindHome)
	if err != nil {
		return listing{}, err
	}
	doc, err := r.m.parser.Parse(resp.Body)
	if err != nil {
		return listing{}, &ParseError{URL: homeURL, Err: err}
	}
	path := r.registry.Reserve(homeURL, indexFileName)
	if err := r.save(ctx, homeURL, KindHome, path, resp.Body); err != nil {
		return listing{}, err
	}
	r.count(func(c *Counters) { c.Pages++ })

	// The root and the first catalogue page are the same listing.
	for _, alias := range []string{"/" + indexFileName, "/catalogue/page-1.html"} {
		if aliasURL, aerr := Resolve(homeURL, alias); aerr == nil {
			if canonical, cerr := Canonicalize(aliasURL); cerr == nil {
				r.registry.Alias(canonical, path)
			}
		}
	}

	page := listing{url: homeURL, path: path, doc: doc}
	r.listingResources(ctx, page)
	return page, nil
}

// categories discovers category roots on the home page and paginates each.
func (r *run) categories(ctx context.Context, home listing) {
	var roots []string
	seen := make(map[string]struct{})
	for _, el := range home.doc.Query("a[href]") {
		href, _ := el.Attr("href")
		target, ok := r.target(home.url, href)
		if !ok {
			continue
		}
		if kind, _ := Classify(target); kind != KindCategory {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		roots = append(roots, target)
	}
	r.logger.Info("discovered categories", zap.Int("count", len(roots)))

	var g errgroup.Group
	g.SetLimit(r.m.cfg.CategoryParallelism)
	for _, root := range roots {
		g.Go(func() error {
			pages := r.paginate(ctx, KindCategory, Cursor{Current: root}, 0, nil)
			if pages > 0 {
				r.count(func(c *Counters) { c.Categories++ })
			}
			return nil
		})
	}
	_ = g.Wait()
}

// catalogue walks the main listing. Page one is the home document.
func (r *run) catalogue(ctx context.Context, home listing) {
	pages := r.paginate(ctx, KindCataloguePage, Cursor{Current: home.url}, r.m.cfg.MaxCataloguePages, &home)
	r.logger.Info("catalogue traversed", zap.Int("pages", pages))
}

// paginate follows "next" links from cursor, fanning out the books of every
// page before moving on. It returns the number of pages processed.
func (r *run) paginate(ctx context.Context, kind Kind, cursor Cursor, maxPages int, first *listing) int {
	pages := 0
	for !cursor.Done() {
		if ctx.Err() != nil {
			return pages
		}
		if maxPages > 0 && pages >= maxPages {
			r.logger.Debug("page limit reached", zap.String("kind", string(kind)), zap.Int("pages", pages))
			return pages
		}

		var page listing
		if pages == 0 && first != nil {
			page = *first
		} else {
			var err error
			page, err = r.listing(ctx, cursor.Current, kind)
			if errors.Is(err, errSeen) {
				return pages
			}
			if err != nil {
				r.fail(cursor.Current, kind, err)
				return pages
			}
		}
		pages++

		r.books(ctx, page)
		cursor = r.next(page)
	}
	return pages
}

// listing fetches and saves one listing page at its URL-mirrored path.
func (r *run) listing(ctx context.Context, pageURL string, kind Kind) (listing, error) {
	if !r.registry.TryClaim(pageURL) {
		return listing{}, errSeen
	}
	resp, err := r.fetch(ctx, pageURL, kind)
	if err != nil {
		return listing{}, err
	}
	doc, err := r.m.parser.Parse(resp.Body)
	if err != nil {
		return listing{}, &ParseError{URL: pageURL, Err: err}
	}
	path := r.registry.Reserve(pageURL, LocalPath(pageURL))
	if err := r.save(ctx, pageURL, kind, path, resp.Body); err != nil {
		return listing{}, err
	}
	r.count(func(c *Counters) { c.Pages++ })

	page := listing{url: pageURL, path: path, doc: doc}
	r.listingResources(ctx, page)
	return page, nil
}

func (r *run) next(page listing) Cursor {
	for _, el := range page.doc.Query(nextLinkSelector) {
		href, ok := el.Attr("href")
		if !ok {
			continue
		}
		if target, ok := r.target(page.url, href); ok {
			return Cursor{Current: target}
		}
	}
	return Cursor{}
}

// books downloads every book linked from page and waits for all of them.
func (r *run) books(ctx context.Context, page listing) {
	var g errgroup.Group
	for _, el := range page.doc.Query(bookLinkSelector) {
		href, ok := el.Attr("href")
		if !ok {
			continue
		}
		target, ok := r.target(page.url, href)
		if !ok || !r.registry.TryClaim(target) {
			continue
		}
		g.Go(func() error {
			r.book(ctx, target)
			return nil
		})
	}
	_ = g.Wait()
}

// book mirrors one product page into its own folder with its images. The URL
// must already be claimed.
func (r *run) book(ctx context.Context, bookURL string) {
	resp, err := r.fetch(ctx, bookURL, KindBook)
	if err != nil {
		r.fail(bookURL, KindBook, err)
		return
	}
	doc, err := r.m.parser.Parse(resp.Body)
	if err != nil {
		r.fail(bookURL, KindBook, &ParseError{URL: bookURL, Err: err})
		return
	}
	title := ""
	if titles := doc.Select(titleTag); len(titles) > 0 {
		title = strings.TrimSpace(titles[0].Text())
	}
	if title == "" {
		r.fail(bookURL, KindBook, &ParseError{URL: bookURL, Err: ErrMissingTitle})
		return
	}

	folder := BookFolder(bookURL)
	path := r.registry.Reserve(bookURL, filepath.Join(folder, indexFileName))
	if err := r.save(ctx, bookURL, KindBook, path, resp.Body); err != nil {
		r.fail(bookURL, KindBook, err)
		return
	}
	r.count(func(c *Counters) { c.Books++ })
	r.logger.Debug("mirrored book", zap.String("url", bookURL), zap.String("title", title))

	folder = filepath.Dir(path)
	for _, el := range doc.SelectByAttribute("img", "src") {
		src, _ := el.Attr("src")
		if target, ok := r.target(bookURL, src); ok {
			r.noteBookImage(target, folder)
		}
	}
	r.resources(ctx, bookURL, doc, false)
}

func (r *run) listingResources(ctx context.Context, page listing) {
	r.resources(ctx, page.url, page.doc, true)
}

func (r *run) noteBookImage(imageURL, folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.images == nil {
		r.images = make(map[string]map[string]struct{})
	}
	folders, ok := r.images[imageURL]
	if !ok {
		folders = make(map[string]struct{})
		r.images[imageURL] = folders
	}
	folders[folder] = struct{}{}
}

// bookImages downloads the images found on book pages once every book is
// known. An image used by a single book lands flat in that book's folder; a
// shared one keeps its URL path. Paths are reserved in URL order, so the tree
// does not depend on download timing.
func (r *run) bookImages(ctx context.Context) {
	r.mu.Lock()
	images := r.images
	r.images = nil
	r.mu.Unlock()

	urls := make([]string, 0, len(images))
	for u := range images {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var g errgroup.Group
	for _, imageURL := range urls {
		if !r.registry.TryClaim(imageURL) {
			if path, ok := r.registry.Lookup(imageURL); ok {
				r.logger.Debug("book image already mirrored", zap.String("url", imageURL), zap.String("path", path))
			}
			continue
		}
		want := LocalPath(imageURL)
		if folders := images[imageURL]; len(folders) == 1 {
			for folder := range folders {
				want = filepath.Join(folder, LocalFileName(imageURL))
			}
		}
		path := r.registry.Reserve(imageURL, want)
		g.Go(func() error {
			r.resource(ctx, imageURL, path)
			return nil
		})
	}
	_ = g.Wait()
}

// resources downloads the stylesheets and scripts of a page when assets are
// enabled, plus its images when withImages is set. Each lands at its
// URL-mirrored path.
func (r *run) resources(ctx context.Context, pageURL string, doc Document, withImages bool) {
	type asset struct {
		url  string
		path string
	}
	var assets []asset
	add := func(ref string, place func(string) string) {
		target, ok := r.target(pageURL, ref)
		if !ok || !r.registry.TryClaim(target) {
			return
		}
		assets = append(assets, asset{url: target, path: place(target)})
	}

	if withImages {
		for _, el := range doc.SelectByAttribute("img", "src") {
			src, _ := el.Attr("src")
			add(src, LocalPath)
		}
	}
	if r.m.cfg.IncludeAssets {
		for _, el := range doc.SelectByAttribute("link", "href") {
			rel, _ := el.Attr("rel")
			if !strings.EqualFold(strings.TrimSpace(rel), "stylesheet") {
				continue
			}
			href, _ := el.Attr("href")
			add(href, LocalPath)
		}
		for _, el := range doc.SelectByAttribute("script", "src") {
			src, _ := el.Attr("src")
			add(src, LocalPath)
		}
	}
	if len(assets) == 0 {
		return
	}

	var g errgroup.Group
	for _, a := range assets {
		g.Go(func() error {
			r.resource(ctx, a.url, a.path)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) resource(ctx context.Context, resourceURL, want string) {
	resp, err := r.fetch(ctx, resourceURL, KindResource)
	if err != nil {
		r.fail(resourceURL, KindResource, err)
		return
	}
	path := r.registry.Reserve(resourceURL, want)
	if err := r.save(ctx, resourceURL, KindResource, path, resp.Body); err != nil {
		r.fail(resourceURL, KindResource, err)
		return
	}
	r.count(func(c *Counters) { c.Resources++ })
}

// target resolves ref against pageURL and keeps it only when it is an
// http(s) URL on the mirrored host.
func (r *run) target(pageURL, ref string) (string, bool) {
	if skipRef(ref) {
		return "", false
	}
	abs, err := Resolve(pageURL, ref)
	if err != nil {
		return "", false
	}
	canonical, err := Canonicalize(abs)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(canonical, "http://") && !strings.HasPrefix(canonical, "https://") {
		return "", false
	}
	if !SameHost(r.base, canonical) {
		r.logger.Debug("skipping off-site url", zap.String("url", canonical))
		return "", false
	}
	return canonical, true
}

// fetch issues one request while holding a permit. Non-2xx responses become
// a *FetchError.
func (r *run) fetch(ctx context.Context, target string, kind Kind) (FetchResponse, error) {
	if r.m.pacer != nil {
		if err := r.m.pacer.Wait(ctx, target); err != nil {
			return FetchResponse{}, &FetchError{URL: target, Err: err}
		}
	}

	var resp FetchResponse
	err := r.limiter.Do(ctx, func(ctx context.Context) error {
		metrics.IncInflight()
		defer metrics.DecInflight()
		r.logger.Debug("fetching",
			zap.String("url", target),
			zap.String("kind", string(kind)),
			zap.Int("in_flight", r.limiter.InFlight()),
		)
		var ferr error
		resp, ferr = r.m.fetcher.Fetch(ctx, FetchRequest{URL: target, Kind: kind})
		return ferr
	})
	if err != nil {
		metrics.ObserveFetch(string(kind), "error", 0, resp.Duration)
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return FetchResponse{}, err
		}
		return FetchResponse{}, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveFetch(string(kind), "status", 0, resp.Duration)
		return FetchResponse{}, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}
	metrics.ObserveFetch(string(kind), "ok", len(resp.Body), resp.Duration)
	return resp, nil
}

// save writes data, records the mapping and emits a manifest entry.
func (r *run) save(ctx context.Context, sourceURL string, kind Kind, path string, data []byte) error {
	if _, err := r.store.Write(ctx, path, data); err != nil {
		return &FilesystemError{Path: path, Err: err}
	}
	r.registry.Record(sourceURL, path)
	metrics.ObserveFileWritten(string(kind))

	if kind != KindResource {
		r.mu.Lock()
		r.pages = append(r.pages, savedPage{URL: sourceURL, Kind: kind, LocalPath: path})
		r.mu.Unlock()
	}

	if r.m.manifest == nil {
		return nil
	}
	entry := ManifestEntry{
		RunID:     r.id,
		URL:       sourceURL,
		LocalPath: filepath.ToSlash(path),
		Kind:      kind,
		Bytes:     len(data),
		FetchedAt: r.m.clock.Now(),
	}
	if r.m.hasher != nil {
		if digest, err := r.m.hasher.Hash(data); err == nil {
			entry.ContentHash = digest
		}
	}
	if err := r.m.manifest.RecordEntry(ctx, entry); err != nil {
		r.logger.Warn("manifest entry dropped", zap.String("url", sourceURL), zap.Error(err))
	}
	return nil
}

// rewrite points every saved page at the local copies of its targets.
func (r *run) rewrite(ctx context.Context) {
	snapshot := r.registry.Snapshot()
	r.mu.Lock()
	pages := append([]savedPage(nil), r.pages...)
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(r.m.cfg.Concurrency)
	for _, page := range pages {
		g.Go(func() error {
			n, err := r.rewriter.RewritePage(ctx, page, snapshot)
			if err != nil {
				r.fail(page.URL, page.Kind, err)
				return nil
			}
			metrics.ObserveLinksRewritten(n)
			r.count(func(c *Counters) { c.Rewritten += n })
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("links rewritten", zap.Int("pages", len(pages)), zap.Int("mapped_urls", len(snapshot)))
}

func (r *run) fail(target string, kind Kind, err error) {
	stage := stageOf(err)
	r.logger.Warn("skipping item",
		zap.String("url", target),
		zap.String("kind", string(kind)),
		zap.String("stage", stage),
		zap.Error(err),
	)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{URL: target, Kind: kind, Stage: stage, Error: err.Error()})
	r.counters.Failed++
}

func (r *run) count(update func(*Counters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(&r.counters)
}

func (r *run) summary() (Counters, []Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters, append([]Failure(nil), r.failures...)
}
