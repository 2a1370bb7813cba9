package crawler

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

type registryEntry struct {
	path     string
	recorded bool
}

// Registry maps source URLs to local paths for one mirror run. A URL is
// claimed before it is downloaded, so concurrent workers fetch it at most once.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	owners  map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		owners:  make(map[string]string),
	}
}

// TryClaim reserves url. Only the first caller for a given url gets true.
func (r *Registry) TryClaim(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[url]; ok {
		return false
	}
	r.entries[url] = &registryEntry{}
	return true
}

// Reserve binds a local path to a claimed url and returns it. When another
// url already owns want, a numbered variant such as name_2.ext is used.
func (r *Registry) Reserve(url, want string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[url]
	if !ok {
		entry = &registryEntry{}
		r.entries[url] = entry
	}
	if entry.path != "" {
		return entry.path
	}
	key := pathKey(want)
	candidate := want
	for n := 2; ; n++ {
		owner, taken := r.owners[key]
		if !taken || owner == url {
			break
		}
		candidate = numbered(want, n)
		key = pathKey(candidate)
	}
	r.owners[key] = url
	entry.path = candidate
	return candidate
}

// Record finalizes the mapping after a successful download.
func (r *Registry) Record(url, localPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[url]
	if !ok {
		entry = &registryEntry{}
		r.entries[url] = entry
	}
	if entry.path == "" {
		entry.path = localPath
		r.owners[pathKey(localPath)] = url
	}
	entry.recorded = true
}

// Alias records url as a second address of a page already saved at
// localPath. The path keeps its original owner. It returns false when url was
// claimed before.
func (r *Registry) Alias(url, localPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[url]; ok {
		return false
	}
	r.entries[url] = &registryEntry{path: localPath, recorded: true}
	return true
}

// Lookup returns the local path of a recorded url.
func (r *Registry) Lookup(url string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[url]
	if !ok || !entry.recorded {
		return "", false
	}
	return entry.path, true
}

// Snapshot copies every completed mapping. Call it after the downloads of
// interest have been joined to get a consistent view.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.entries))
	for url, entry := range r.entries {
		if entry.recorded {
			out[url] = entry.path
		}
	}
	return out
}

// Len counts claimed urls, recorded or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func pathKey(p string) string {
	return strings.ToLower(filepath.Clean(p))
}

func numbered(p string, n int) string {
	ext := filepath.Ext(p)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(p, ext), n, ext)
}
