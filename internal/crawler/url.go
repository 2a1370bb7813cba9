package crawler

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const indexFileName = "index.html"

var cataloguePagePattern = regexp.MustCompile(`^/catalogue/page-(\d+)\.html$`)

// Resolve turns ref into an absolute URL. An absolute ref is returned as is;
// anything else is resolved against base.
func Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// Canonicalize standardizes a URL so equivalent spellings share one registry key.
// It lowercases the scheme and host, removes default ports and the fragment.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// Classify maps a URL onto the site's fixed path layout. The int result is the
// page number for catalogue pages and zero otherwise.
func Classify(rawURL string) (Kind, int) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindResource, 0
	}
	p := u.Path
	switch {
	case p == "" || p == "/" || p == "/"+indexFileName:
		return KindHome, 0
	case strings.HasPrefix(p, "/catalogue/category/"):
		return KindCategory, 0
	}
	if m := cataloguePagePattern.FindStringSubmatch(p); m != nil {
		n, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			return KindCataloguePage, n
		}
	}
	if strings.HasPrefix(p, "/catalogue/") && strings.HasSuffix(p, "/"+indexFileName) {
		return KindBook, 0
	}
	return KindResource, 0
}

// SameHost reports whether rawURL lives on the same host as base.
func SameHost(base *url.URL, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || base == nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), base.Hostname()) && u.Port() == base.Port()
}

// invalidFileNameChars is the union of characters rejected by common filesystems.
var invalidFileNameChars = func() string {
	var b strings.Builder
	b.WriteString(`<>:"/\|?*`)
	for c := rune(0); c < 32; c++ {
		b.WriteRune(c)
	}
	return b.String()
}()

// SanitizeFileName makes name safe to use as a single path segment.
func SanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidFileNameChars, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.ReplaceAll(name, "...", "_")
	name = strings.TrimRight(name, ".")
	if name == "" {
		return "_"
	}
	return name
}

// LocalFileName returns the sanitized last path segment of rawURL.
func LocalFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SanitizeFileName(path.Base(rawURL))
	}
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return indexFileName
	}
	return SanitizeFileName(path.Base(p))
}

// LocalPath maps the URL path onto a slash-free relative file path. Every
// segment is sanitized, so the result never climbs out of the output root.
func LocalPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return LocalFileName(rawURL)
	}
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		p += indexFileName
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		parts = append(parts, SanitizeFileName(seg))
	}
	if len(parts) == 0 {
		return indexFileName
	}
	return filepath.Join(parts...)
}

// BookFolder returns the folder of a book page: its local path without the
// trailing index file name.
func BookFolder(rawURL string) string {
	local := LocalPath(rawURL)
	if filepath.Base(local) == indexFileName {
		return filepath.Dir(local)
	}
	return strings.TrimSuffix(local, filepath.Ext(local))
}

// RelativeLink returns the slash-separated path to target as seen from a file at from.
func RelativeLink(from, target string) (string, error) {
	rel, err := filepath.Rel(filepath.Dir(from), target)
	if err != nil {
		return "", fmt.Errorf("relative path %s -> %s: %w", from, target, err)
	}
	return filepath.ToSlash(rel), nil
}
