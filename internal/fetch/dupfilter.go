package fetch

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// NormalizeURL standardizes a URL so equivalent spellings share one filter key.
// It lowercases the scheme and host, removes default ports and fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
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
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

type dupFilter struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newDupFilter() *dupFilter {
	return &dupFilter{seen: make(map[string]struct{})}
}

// admit records rawURL and reports whether it was new.
func (f *dupFilter) admit(rawURL string) bool {
	key := filterKey(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = struct{}{}
	return true
}

func (f *dupFilter) mark(rawURL string) {
	key := filterKey(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[key] = struct{}{}
}

func filterKey(rawURL string) string {
	if key, err := NormalizeURL(rawURL); err == nil {
		return key
	}
	return rawURL
}
