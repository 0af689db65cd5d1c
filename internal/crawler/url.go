package crawler

import (
	"net/url"
	"strings"
)

// NormalizeURL returns the identity key for a URL: surrounding whitespace and
// trailing slashes are stripped. Case and query order are left untouched.
func NormalizeURL(rawURL string) string {
	return strings.TrimRight(strings.TrimSpace(rawURL), "/")
}

// IsHTTPURL reports whether raw looks like an absolute http(s) URL.
func IsHTTPURL(raw string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://")
}

// ResolveURL resolves href against base and returns the absolute URL.
func ResolveURL(base *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	if base == nil {
		return ref, nil
	}
	return base.ResolveReference(ref), nil
}

// SameHost reports whether a and b share a host (including port).
func SameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Host, b.Host)
}
