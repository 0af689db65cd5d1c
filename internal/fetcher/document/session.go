package document

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// NewSession returns an HTTP client with its own cookie jar. One session is
// used per work item so cookies picked up while rendering carry over to the
// document downloads of that item only.
func NewSession(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := &http.Client{
		Transport: newHTTPTransport(),
		Timeout:   timeout,
	}
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		client.Jar = jar
	}
	return client
}

// ImportCookies copies browser cookies into the session jar, scoping each
// cookie to its own domain (or to fallback when the cookie carries none).
func ImportCookies(client *http.Client, fallback string, cookies []*http.Cookie) int {
	if client == nil || client.Jar == nil || len(cookies) == 0 {
		return 0
	}
	base, err := url.Parse(fallback)
	if err != nil {
		return 0
	}
	imported := 0
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		target := *base
		if domain := strings.TrimPrefix(c.Domain, "."); domain != "" {
			target = url.URL{Scheme: base.Scheme, Host: domain, Path: "/"}
		}
		client.Jar.SetCookies(&target, []*http.Cookie{c})
		imported++
	}
	return imported
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
