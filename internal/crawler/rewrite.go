package crawler

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// linkAttributes lists the tag/attribute pairs whose values are rewritten.
var linkAttributes = []struct{ tag, attr string }{
	{"a", "href"},
	{"link", "href"},
	{"img", "src"},
	{"script", "src"},
}

// linkValue matches an href or src attribute and its value, which may be
// double quoted, single quoted or bare, with optional spaces around "=".
var linkValue = regexp.MustCompile(`(?i)([\s/](?:href|src)\s*=\s*)(?:"([^"]*)"|'([^']*)'|([^\s"'=<>` + "`" + `]+))`)

// RewriteLinks replaces every href or src value equal to a mapping key with its
// local path. Matching is exact on the decoded value: a relative href is only
// replaced when that literal string is the attribute value. The quoting style
// of each attribute is kept. It returns the rewritten document and the number
// of replacements.
func RewriteLinks(doc string, mapping map[string]string) (string, int) {
	if len(mapping) == 0 {
		return doc, 0
	}
	var (
		b     strings.Builder
		count int
		last  int
	)
	for _, m := range linkValue.FindAllStringSubmatchIndex(doc, -1) {
		quote, vs, ve := "", m[8], m[9]
		switch {
		case m[4] >= 0:
			quote, vs, ve = `"`, m[4], m[5]
		case m[6] >= 0:
			quote, vs, ve = `'`, m[6], m[7]
		}
		local, ok := mapping[html.UnescapeString(doc[vs:ve])]
		if !ok || local == "" {
			continue
		}
		if quote == "" && strings.ContainsAny(local, " \t\n\r\f\"'=<>`") {
			quote = `"`
		}
		b.WriteString(doc[last:m[3]])
		b.WriteString(quote)
		b.WriteString(escapeAttr(local, quote))
		b.WriteString(quote)
		last = m[1]
		count++
	}
	if count == 0 {
		return doc, 0
	}
	b.WriteString(doc[last:])
	return b.String(), count
}

func escapeAttr(value, quote string) string {
	value = strings.ReplaceAll(value, "&", "&amp;")
	switch quote {
	case `"`:
		return strings.ReplaceAll(value, `"`, "&#34;")
	case `'`:
		return strings.ReplaceAll(value, `'`, "&#39;")
	}
	return value
}

// savedPage is an HTML document already written to the store.
type savedPage struct {
	URL       string
	Kind      Kind
	LocalPath string
}

// Rewriter points the links of saved pages at their downloaded copies.
type Rewriter struct {
	store  PageStore
	parser Parser
	logger *zap.Logger
}

// NewRewriter builds a Rewriter over store.
func NewRewriter(store PageStore, parser Parser, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{store: store, parser: parser, logger: logger}
}

// RewritePage rewrites one saved page against snapshot (canonical URL to
// local path) and returns the number of replaced links.
func (rw *Rewriter) RewritePage(ctx context.Context, page savedPage, snapshot map[string]string) (int, error) {
	data, err := rw.store.Read(ctx, page.LocalPath)
	if err != nil {
		return 0, &FilesystemError{Path: page.LocalPath, Err: err}
	}
	doc, err := rw.parser.Parse(data)
	if err != nil {
		return 0, &ParseError{URL: page.URL, Err: err}
	}

	mapping := make(map[string]string)
	for _, token := range collectRefs(doc) {
		if _, seen := mapping[token]; seen {
			continue
		}
		local, ok := rw.localFor(page, token, snapshot)
		if ok && local != token {
			mapping[token] = local
		}
	}

	out, n := RewriteLinks(string(data), mapping)
	if n == 0 {
		return 0, nil
	}
	if _, err := rw.store.Write(ctx, page.LocalPath, []byte(out)); err != nil {
		return 0, &FilesystemError{Path: page.LocalPath, Err: err}
	}
	rw.logger.Debug("rewrote links",
		zap.String("path", page.LocalPath),
		zap.Int("links", n),
	)
	return n, nil
}

func (rw *Rewriter) localFor(page savedPage, token string, snapshot map[string]string) (string, bool) {
	if skipRef(token) {
		return "", false
	}
	abs, err := Resolve(page.URL, token)
	if err != nil {
		return "", false
	}
	canonical, err := Canonicalize(abs)
	if err != nil {
		return "", false
	}
	target, ok := snapshot[canonical]
	if !ok {
		return "", false
	}
	rel, err := RelativeLink(page.LocalPath, target)
	if err != nil {
		return "", false
	}
	if parsed, perr := url.Parse(token); perr == nil && parsed.Fragment != "" {
		rel += "#" + parsed.Fragment
	}
	return rel, true
}

func collectRefs(doc Document) []string {
	var refs []string
	for _, la := range linkAttributes {
		for _, el := range doc.SelectByAttribute(la.tag, la.attr) {
			if v, ok := el.Attr(la.attr); ok {
				refs = append(refs, v)
			}
		}
	}
	return refs
}

func skipRef(token string) bool {
	t := strings.TrimSpace(strings.ToLower(token))
	if t == "" || strings.HasPrefix(t, "#") {
		return true
	}
	for _, prefix := range []string{"mailto:", "javascript:", "data:", "tel:"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}
