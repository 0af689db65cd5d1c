package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docharvest/internal/clock/system"
	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/navigator"
	"github.com/JakeFAU/docharvest/internal/relevance"
	"github.com/JakeFAU/docharvest/internal/testutil"
)

const site = "https://policy.test"

var vocabulary = []string{"governance", "machine learning", "ethics", "algorithm"}

type fakeBrowser struct {
	pages  map[string]string
	closed bool
}

func (b *fakeBrowser) Visit(_ context.Context, rawURL string) (crawler.Page, error) {
	body, ok := b.pages[crawler.NormalizeURL(rawURL)]
	if !ok {
		return crawler.Page{}, fmt.Errorf("no page for %s", rawURL)
	}
	return crawler.Page{URL: rawURL, FinalURL: rawURL, HTML: body}, nil
}

func (b *fakeBrowser) Cookies(context.Context) ([]*http.Cookie, error) {
	return []*http.Cookie{{Name: "consent", Value: "yes", Domain: "policy.test", Path: "/"}}, nil
}

func (b *fakeBrowser) Close() error {
	b.closed = true
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	browser *fakeBrowser
	err     error
	opened  int
}

func (f *fakeFactory) Open(context.Context) (crawler.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.err != nil {
		return nil, f.err
	}
	return f.browser, nil
}

// fakeDocuments "downloads" a URL by returning its URL as the artifact path.
// Markup URLs serve HTML and are refused when the request wants documents only.
type fakeDocuments struct {
	mu       sync.Mutex
	ok       map[string]bool
	markup   map[string]bool
	requests []crawler.DocumentRequest
	clients  []*http.Client
}

func (d *fakeDocuments) Fetch(_ context.Context, client *http.Client, req crawler.DocumentRequest) crawler.DocumentFetchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	d.clients = append(d.clients, client)
	if !d.ok[req.URL] {
		return crawler.DocumentFetchResult{
			URL: req.URL,
			Err: &crawler.FetchError{Reason: crawler.ReasonClient, URL: req.URL, StatusCode: http.StatusNotFound},
		}
	}
	if d.markup[req.URL] {
		if req.DocumentsOnly {
			return crawler.DocumentFetchResult{
				URL: req.URL,
				Err: &crawler.FetchError{Reason: crawler.ReasonNotDocument, URL: req.URL},
			}
		}
		return crawler.DocumentFetchResult{URL: req.URL, Path: req.URL, Attempts: 1, Info: crawler.FileInfo{Kind: crawler.KindHTML}}
	}
	info := crawler.FileInfo{Kind: crawler.KindPDF, IsDocument: true}
	return crawler.DocumentFetchResult{URL: req.URL, Path: req.URL, Attempts: 1, Info: info}
}

type fakeExtractor map[string]string

func (e fakeExtractor) Extract(path string) (string, error) {
	text, ok := e[path]
	if !ok {
		return "", errors.New("no text")
	}
	return text, nil
}

type harness struct {
	worker    *Worker
	factory   *fakeFactory
	documents *fakeDocuments
	texts     *testutil.BlobStore
}

func newHarness(t *testing.T, cfg Config, navCfg navigator.Config, pages map[string]string, docs fakeExtractor) harness {
	t.Helper()
	scorer := relevance.NewScorer(vocabulary)
	clock := system.NewFixed(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	normalized := make(map[string]string, len(pages))
	for u, body := range pages {
		normalized[crawler.NormalizeURL(u)] = body
	}
	factory := &fakeFactory{browser: &fakeBrowser{pages: normalized}}
	documents := &fakeDocuments{ok: map[string]bool{}, markup: map[string]bool{}}
	for u := range docs {
		documents.ok[u] = true
	}
	texts := testutil.NewBlobStore()

	if cfg.MaxDocuments == 0 {
		cfg.MaxDocuments = 10
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 2
	}
	cfg.TitleColumn = "Policy initiative ID"
	cfg.CountryColumn = "Country"

	w := New(cfg, Deps{
		Browsers:  factory,
		Navigator: navigator.New(navCfg, scorer, clock, nil),
		Documents: documents,
		Extractor: docs,
		Texts:     texts,
		Scorer:    scorer,
		Clock:     clock,
	}, nil)
	return harness{worker: w, factory: factory, documents: documents, texts: texts}
}

func item(id int, rawURL string, extra ...string) crawler.WorkItem {
	columns := []string{"URL"}
	values := []string{rawURL}
	for i := 0; i+1 < len(extra); i += 2 {
		columns = append(columns, extra[i])
		values = append(values, extra[i+1])
	}
	return crawler.WorkItem{ID: id, URL: rawURL, Key: crawler.NormalizeURL(rawURL), Row: crawler.NewRow(columns, values)}
}

func html(body string) string {
	return "<html><head><title>t</title></head><body>" + body + "</body></html>"
}

func prose(words ...string) string {
	return strings.Repeat(strings.Join(words, " ")+". ", 30)
}

func TestProcessDirectDocument(t *testing.T) {
	seed := site + "/files/report.pdf"
	h := newHarness(t, Config{}, navigator.Config{}, nil, fakeExtractor{
		seed: "[Page 1]\n" + prose("national", "governance", "framework"),
	})

	rec := h.worker.Process(context.Background(), item(7, seed))

	assert.Equal(t, crawler.MethodDirectDocument, rec.Outcome.Method)
	assert.Equal(t, "success-direct-document-1-docs", rec.Status)
	assert.Equal(t, 1, rec.Outcome.DocumentCount)
	assert.Equal(t, "0007.txt", rec.Filename)
	assert.True(t, strings.HasPrefix(rec.Outcome.Text, "=== Document 1 ==="))
	assert.Equal(t, 0, h.factory.opened, "direct documents never open a browser")
	assert.True(t, strings.HasPrefix(rec.Relevance, relevance.LabelPossibly))

	saved, ok := h.texts.Get("0007.txt")
	require.True(t, ok)
	assert.Equal(t, rec.Outcome.Text, string(saved))
	require.Len(t, h.documents.requests, 1)
	assert.Equal(t, "0007", h.documents.requests[0].Hint)
}

func TestProcessNavigationWithDocuments(t *testing.T) {
	root := site + "/"
	pages := map[string]string{
		root: html(`<main><p>` + prose("our", "governance", "programme") + `</p>
			<a href="/files/strategy.pdf">Download PDF</a>
			<a href="/ethics">Ethics board</a></main>`),
		site + "/ethics": html(`<article><p>` + prose("ethics", "review") + `</p>
			<a href="/files/guidance.pdf">Guidance</a></article>`),
	}
	docs := fakeExtractor{
		site + "/files/strategy.pdf": prose("machine learning", "governance", "algorithm", "ethics"),
		site + "/files/guidance.pdf": prose("ethics", "guidance"),
	}
	h := newHarness(t, Config{}, navigator.Config{MinContentLength: 50}, pages, docs)

	rec := h.worker.Process(context.Background(),
		item(3, root, "Country", "France", "Policy initiative ID", "FR-0001"))

	assert.Equal(t, crawler.MethodNavigationDocs, rec.Outcome.Method)
	assert.Equal(t, "success-navigation-with-documents-2-docs", rec.Status)
	assert.Equal(t, 2, rec.Outcome.DocumentCount)
	assert.Equal(t, 2, rec.Outcome.DocumentsFound)
	assert.Equal(t, 2, rec.Outcome.PagesVisited)
	assert.Equal(t, 1, rec.Outcome.RelevantLinksFound)
	assert.Equal(t, "France-FR-0001.txt", rec.Filename)
	assert.True(t, strings.HasPrefix(rec.Relevance, relevance.LabelHighly), rec.Relevance)
	assert.True(t, h.factory.browser.closed)

	text := rec.Outcome.Text
	assert.Contains(t, text, "=== Document 1 ===")
	assert.Contains(t, text, "=== Document 2 ===")
	assert.Contains(t, text, "=== Page 1 ===")
	assert.Contains(t, text, "--- content separator ---")
	assert.Less(t, strings.Index(text, "=== Document 2 ==="), strings.Index(text, "=== Page 1 ==="))
	assert.Equal(t, fmt.Sprintf("text saved to file: France-FR-0001.txt (length: %d chars)", rec.TextLength), rec.DisplayText)

	hints := map[string]bool{}
	for _, req := range h.documents.requests {
		hints[req.Hint] = true
		assert.Equal(t, "FR-0001", req.Title)
		assert.Equal(t, "France", req.PageInfo["country"])
	}
	assert.Equal(t, map[string]bool{"0003_1": true, "0003_2": true}, hints)

	// browser cookies reach the download session
	require.NotEmpty(t, h.documents.clients)
	target, err := url.Parse(site + "/files/strategy.pdf")
	require.NoError(t, err)
	cookies := h.documents.clients[0].Jar.Cookies(target)
	require.Len(t, cookies, 1)
	assert.Equal(t, "consent", cookies[0].Name)
}

func TestProcessDirectDocumentFailureFallsThroughToNavigation(t *testing.T) {
	seed := site + "/download/annual"
	pages := map[string]string{
		seed: html(`<article>` + prose("annual", "governance", "report") + `</article>`),
	}
	h := newHarness(t, Config{}, navigator.Config{MinContentLength: 50}, pages, fakeExtractor{})

	rec := h.worker.Process(context.Background(), item(1, seed))

	assert.Equal(t, crawler.MethodNavigationPages, rec.Outcome.Method)
	assert.Equal(t, "success-navigation-pages-only", rec.Status)
	assert.Equal(t, 1, h.factory.opened)
	assert.Equal(t, 0, rec.Outcome.DocumentCount)
}

func TestProcessDocumentSeedWithoutURLHint(t *testing.T) {
	seed := site + "/getfile?id=7"
	h := newHarness(t, Config{}, navigator.Config{}, nil, fakeExtractor{
		seed: "[Page 1]\n" + prose("national", "governance", "framework"),
	})

	rec := h.worker.Process(context.Background(), item(7, seed))

	assert.Equal(t, crawler.MethodDirectDocument, rec.Outcome.Method)
	assert.Equal(t, "success-direct-document-1-docs", rec.Status)
	assert.Equal(t, 1, rec.Outcome.DocumentCount)
	assert.Equal(t, 1, h.factory.opened, "the seed is rendered before it is fetched")
	require.Len(t, h.documents.requests, 1)
	assert.True(t, h.documents.requests[0].DocumentsOnly)
	assert.Equal(t, "0007", h.documents.requests[0].Hint)
}

func TestProcessDocumentSeedWhenBrowserUnavailable(t *testing.T) {
	seed := site + "/getfile?id=8"
	h := newHarness(t, Config{}, navigator.Config{}, nil, fakeExtractor{
		seed: prose("ethics", "governance", "framework"),
	})
	h.factory.err = errors.New("chrome missing")

	rec := h.worker.Process(context.Background(), item(8, seed))

	assert.Equal(t, crawler.MethodDirectDocument, rec.Outcome.Method)
	assert.NoError(t, rec.Outcome.Err)
}

func TestProcessMarkupSeedIsNotADirectDocument(t *testing.T) {
	seed := site + "/getfile?id=9"
	h := newHarness(t, Config{}, navigator.Config{}, nil, fakeExtractor{
		seed: prose("governance", "login", "page"),
	})
	h.documents.markup[seed] = true

	rec := h.worker.Process(context.Background(), item(9, seed))

	assert.Equal(t, crawler.MethodFailed, rec.Outcome.Method)
	assert.Equal(t, crawler.StatusFailed, rec.Status)
	require.Len(t, h.documents.requests, 1)
	assert.True(t, h.documents.requests[0].DocumentsOnly)
}

func TestProcessLowContent(t *testing.T) {
	root := site + "/short"
	pages := map[string]string{
		root: html(`<main><p>A short notice about governance changes this year.</p></main>`),
	}
	h := newHarness(t, Config{MinTextLength: 500}, navigator.Config{MinContentLength: 10}, pages, fakeExtractor{})

	rec := h.worker.Process(context.Background(), item(2, root))

	assert.Equal(t, crawler.MethodLowContent, rec.Outcome.Method)
	assert.Equal(t, crawler.StatusWarning, rec.Status)
	assert.Equal(t, RelevanceLowContent, rec.Relevance)
	assert.True(t, strings.HasPrefix(rec.Outcome.Text, "[WARNING]"))
	assert.Equal(t, rec.Outcome.Text, rec.DisplayText)
	assert.Positive(t, rec.TextLength)
	assert.Empty(t, h.texts.Paths(), "warnings do not write text artifacts")
}

func TestProcessFallbackPageText(t *testing.T) {
	root := site + "/landing"
	pages := map[string]string{
		root: html(`<article><p>` + prose("landing", "governance", "overview") + `</p></article>`),
	}
	// a content threshold no page meets leaves only the fallback tier
	h := newHarness(t, Config{MaxDepth: 1}, navigator.Config{MinContentLength: 100000}, pages, fakeExtractor{})

	rec := h.worker.Process(context.Background(), item(4, root))

	assert.Equal(t, crawler.MethodFallbackPageText, rec.Outcome.Method)
	assert.Equal(t, "success-fallback-page-text", rec.Status)
	assert.Contains(t, rec.Outcome.Text, "[Source URL]: "+root)
	_, ok := h.texts.Get("0004.txt")
	assert.True(t, ok)
}

func TestProcessSaveErrorDowngradesStatus(t *testing.T) {
	seed := site + "/files/report.pdf"
	h := newHarness(t, Config{}, navigator.Config{}, nil, fakeExtractor{seed: prose("governance", "report")})
	h.texts.FailWith(errors.New("disk full"))

	rec := h.worker.Process(context.Background(), item(5, seed))

	assert.Equal(t, crawler.StatusFailedSave, rec.Status)
	assert.Contains(t, rec.DisplayText, "[ERROR]")
	assert.Contains(t, rec.DisplayText, "disk full")
	assert.Error(t, rec.Outcome.Err)
}

func TestProcessBrowserUnavailableFails(t *testing.T) {
	h := newHarness(t, Config{}, navigator.Config{}, nil, fakeExtractor{})
	h.factory.err = errors.New("chrome missing")

	rec := h.worker.Process(context.Background(), item(6, site+"/about"))

	assert.Equal(t, crawler.MethodFailed, rec.Outcome.Method)
	assert.Equal(t, crawler.StatusFailed, rec.Status)
	assert.Equal(t, RelevanceFailed, rec.Relevance)
	assert.Equal(t, 0, rec.TextLength)
	assert.Contains(t, rec.DisplayText, "chrome missing")
	assert.False(t, rec.Succeeded())
}

func TestProcessNothingExtractedFails(t *testing.T) {
	root := site + "/empty"
	pages := map[string]string{root: html(`<p>hi</p>`)}
	h := newHarness(t, Config{}, navigator.Config{MinContentLength: 200}, pages, fakeExtractor{})

	rec := h.worker.Process(context.Background(), item(8, root))

	assert.Equal(t, crawler.MethodFailed, rec.Outcome.Method)
	assert.Equal(t, crawler.StatusFailed, rec.Status)
	assert.Contains(t, rec.DisplayText, "no usable content")
}

func TestFailedMatchesProcessFailures(t *testing.T) {
	h := newHarness(t, Config{}, navigator.Config{}, nil, fakeExtractor{})
	it := item(12, site+"/boom", "Country", "Chile", "Policy initiative ID", "CL-9")

	rec := h.worker.Failed(it, errors.New("processor panic: boom"))

	assert.Equal(t, crawler.StatusFailed, rec.Status)
	assert.Equal(t, crawler.MethodFailed, rec.Outcome.Method)
	assert.Equal(t, RelevanceFailed, rec.Relevance)
	assert.Equal(t, "Chile-CL-9.txt", rec.Filename)
	assert.Equal(t, "[ERROR] processor panic: boom: "+site+"/boom", rec.DisplayText)
	assert.Empty(t, h.texts.Paths())
}

func TestProcessCapsCellText(t *testing.T) {
	seed := site + "/files/huge.pdf"
	h := newHarness(t, Config{MaxCellChars: 200}, navigator.Config{}, nil, fakeExtractor{
		seed: strings.Repeat("governance ", 500),
	})

	rec := h.worker.Process(context.Background(), item(9, seed))

	assert.True(t, strings.HasSuffix(rec.Outcome.Text, crawler.TruncationMarker))
	assert.Equal(t, 200+len([]rune(crawler.TruncationMarker)), rec.TextLength)
}

func TestTextFilenameRequiresBothColumns(t *testing.T) {
	w := New(Config{TitleColumn: "Policy initiative ID", CountryColumn: "Country"}, Deps{}, nil)

	assert.Equal(t, "0012.txt", w.textFilename(item(12, site, "Country", "Chile")))
	assert.Equal(t, "unknown-P_7.txt", w.textFilename(item(12, site, "Country", " ", "Policy initiative ID", "P/7")))
}
