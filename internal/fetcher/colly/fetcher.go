// Package collyfetcher renders pages without JavaScript using gocolly. It
// backs the static render engine and stands in when Chrome cannot start.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/metrics"
)

const engineName = "static"

// Config controls collector behavior.
type Config struct {
	UserAgents []string
	Timeout    time.Duration
	// MaxBodySize caps page bodies in bytes; zero keeps colly's default.
	MaxBodySize int
}

// Factory opens static browsers. It implements crawler.BrowserFactory.
type Factory struct {
	cfg Config
}

// NewFactory builds a Factory.
func NewFactory(cfg Config) *Factory {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = crawler.DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Factory{cfg: cfg}
}

// Open returns a Browser with its own cookie jar and user agent.
func (f *Factory) Open(_ context.Context) (crawler.Browser, error) {
	b, err := New(f.cfg)
	if err != nil {
		metrics.ObserveBrowserOpen(engineName, "error")
		return nil, err
	}
	metrics.ObserveBrowserOpen(engineName, "ok")
	return b, nil
}

// Browser fetches raw HTML through a colly collector.
type Browser struct {
	base *colly.Collector
	jar  http.CookieJar

	mu    sync.Mutex
	hosts map[string]*url.URL
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Browser.
func New(cfg Config) (*Browser, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetCookieJar(jar)
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = true
	c.UserAgent = crawler.RandomUserAgent(cfg.UserAgents)
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})
	return &Browser{base: c, jar: jar, hosts: make(map[string]*url.URL)}, nil
}

// Visit fetches rawURL and returns the response body as HTML.
func (b *Browser) Visit(ctx context.Context, rawURL string) (crawler.Page, error) {
	var (
		page     crawler.Page
		fetchErr error
	)
	collector := b.base.Clone()
	collector.Context = ctx
	b.configureHooks(collector, rawURL, &page, &fetchErr)

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	return page, nil
}

func (b *Browser) configureHooks(hooks collectorHooks, rawURL string, page *crawler.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		final := rawURL
		if r.Request != nil && r.Request.URL != nil {
			final = r.Request.URL.String()
			b.remember(r.Request.URL)
		}
		*page = crawler.Page{
			URL:      rawURL,
			FinalURL: final,
			HTML:     string(r.Body),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (b *Browser) remember(u *url.URL) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := u.Scheme + "://" + u.Host
	if _, ok := b.hosts[key]; !ok {
		b.hosts[key] = &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	}
}

// Cookies returns the jar's cookies for every host visited so far. The
// jar does not expose domains, so each cookie is scoped to its host.
func (b *Browser) Cookies(_ context.Context) ([]*http.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*http.Cookie
	for _, u := range b.hosts {
		for _, c := range b.jar.Cookies(u) {
			out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Domain: u.Hostname(), Path: "/"})
		}
	}
	return out, nil
}

// Close is a no-op; the collector holds no resources beyond idle connections.
func (b *Browser) Close() error {
	return nil
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
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
