// Package navigator walks a site from a root URL, following relevant
// same-host links depth-first, collecting page text and document links.
package navigator

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/classify"
	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/metrics"
	"github.com/JakeFAU/docharvest/internal/relevance"
)

// Config controls traversal.
type Config struct {
	// MaxLinksPerPage caps how many relevant children are followed per page.
	MaxLinksPerPage int
	// MinContentLength is the rune count a page's main text must exceed to be kept.
	MinContentLength int
	ContentSelectors []string
	// DelayMin and DelayMax bound the random pause between page visits.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Navigator performs bounded depth-first traversal. It holds no per-run
// state, so one Navigator may serve many goroutines as long as each brings
// its own Browser.
type Navigator struct {
	cfg    Config
	scorer *relevance.Scorer
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Navigator.
func New(cfg Config, scorer *relevance.Scorer, clock crawler.Clock, logger *zap.Logger) *Navigator {
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = 3
	}
	if cfg.MinContentLength < 0 {
		cfg.MinContentLength = 0
	}
	if len(cfg.ContentSelectors) == 0 {
		cfg.ContentSelectors = DefaultContentSelectors
	}
	if scorer == nil {
		scorer = relevance.NewScorer(relevance.DefaultKeywords)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		cfg:    cfg,
		scorer: scorer,
		clock:  clock,
		logger: logger.Named("navigator"),
	}
}

type frame struct {
	url   string
	depth int
}

// Navigate visits rootURL and, up to maxDepth, the most relevant same-host
// links of every visited page. Each normalized URL is rendered at most once
// per call. Failures on one page are logged and never abort the walk.
func (n *Navigator) Navigate(
	ctx context.Context,
	browser crawler.Browser,
	rootURL string,
	maxDepth int,
) crawler.NavigationResult {
	var result crawler.NavigationResult
	visited := make(map[string]struct{})
	relevant := make(map[string]struct{})
	stack := []frame{{url: rootURL, depth: 0}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			result.Log = append(result.Log, fmt.Sprintf("navigation stopped: %v", err))
			break
		}
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key := crawler.NormalizeURL(current.url)
		if current.depth > maxDepth {
			continue
		}
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}

		if result.Visited > 0 {
			if err := crawler.Sleep(ctx, crawler.Jitter(n.cfg.DelayMin, n.cfg.DelayMax)); err != nil {
				result.Log = append(result.Log, fmt.Sprintf("navigation stopped: %v", err))
				break
			}
		}

		node := n.visit(ctx, browser, current, maxDepth)
		result.Visited++
		result.Log = append(result.Log, node.log...)
		if current.depth == 0 {
			result.RootHTML = node.html
		}
		if node.page != nil {
			result.Pages = append(result.Pages, *node.page)
		}
		result.Documents = append(result.Documents, node.documents...)
		for _, k := range node.relevant {
			relevant[k] = struct{}{}
		}
		// push in reverse so the highest-scored child is explored first
		for i := len(node.children) - 1; i >= 0; i-- {
			child := node.children[i]
			if _, seen := visited[crawler.NormalizeURL(child)]; seen {
				continue
			}
			stack = append(stack, frame{url: child, depth: current.depth + 1})
		}
	}
	result.RelevantLinks = len(relevant)

	n.logger.Debug("navigation finished",
		zap.String("root", rootURL),
		zap.Int("visited", result.Visited),
		zap.Int("pages", len(result.Pages)),
		zap.Int("documents", len(result.Documents)),
	)
	return result
}

type nodeResult struct {
	page      *crawler.PageText
	documents []crawler.DocumentLink
	children  []string
	relevant  []string
	log       []string
	html      string
}

func (r *nodeResult) logf(format string, args ...any) {
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

func (n *Navigator) visit(ctx context.Context, browser crawler.Browser, f frame, maxDepth int) nodeResult {
	var out nodeResult
	out.logf("visit depth=%d url=%s", f.depth, f.url)

	page, err := browser.Visit(ctx, f.url)
	if err != nil {
		out.logf("render failed url=%s: %v", f.url, err)
		n.logger.Warn("render failed", zap.String("url", f.url), zap.Int("depth", f.depth), zap.Error(err))
		metrics.ObservePageVisit("render-error")
		return out
	}
	out.html = page.HTML

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		out.logf("parse failed url=%s: %v", f.url, err)
		metrics.ObservePageVisit("parse-error")
		return out
	}
	base := pageBase(page, f.url)

	out.documents = documentLinks(doc, base, f.url)
	if len(out.documents) > 0 {
		out.logf("found %d document links on %s", len(out.documents), f.url)
	}

	StripBoilerplate(doc)
	text := MainText(doc, n.cfg.ContentSelectors, n.cfg.MinContentLength)
	if length := utf8.RuneCountInString(text); length > n.cfg.MinContentLength {
		out.page = &crawler.PageText{URL: f.url, Depth: f.depth, Timestamp: n.now(), Text: text}
		out.logf("captured %d chars from %s", length, f.url)
	}

	if f.depth < maxDepth {
		links := n.relevantLinks(doc, base)
		for _, l := range links {
			out.relevant = append(out.relevant, l.key)
		}
		out.logf("found %d relevant sub-links on %s", len(links), f.url)
		if len(links) > n.cfg.MaxLinksPerPage {
			links = links[:n.cfg.MaxLinksPerPage]
		}
		for _, l := range links {
			out.children = append(out.children, l.url)
		}
	}
	metrics.ObservePageVisit("ok")
	return out
}

type scoredLink struct {
	url   string
	key   string
	score int
}

// relevantLinks returns same-host page links with a positive relevance score,
// highest score first, deduplicated by normalized URL.
func (n *Navigator) relevantLinks(doc *goquery.Document, base *url.URL) []scoredLink {
	var candidates []scoredLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs, err := crawler.ResolveURL(base, href)
		if err != nil {
			return
		}
		abs.Fragment = ""
		full := abs.String()
		if !crawler.IsHTTPURL(full) || !crawler.SameHost(abs, base) || classify.IsNonPageResource(full) {
			return
		}
		score, _ := n.scorer.Score(NodeText(s), s.AttrOr("title", ""), href)
		if score == 0 {
			return
		}
		candidates = append(candidates, scoredLink{url: full, key: crawler.NormalizeURL(full), score: score})
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	seen := make(map[string]struct{}, len(candidates))
	unique := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c.key]; ok {
			continue
		}
		seen[c.key] = struct{}{}
		unique = append(unique, c)
	}
	return unique
}

func documentLinks(doc *goquery.Document, base *url.URL, source string) []crawler.DocumentLink {
	var docs []crawler.DocumentLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		text := NodeText(s)
		if !classify.IsDocumentLink(href, text) {
			return
		}
		abs, err := crawler.ResolveURL(base, href)
		if err != nil {
			return
		}
		abs.Fragment = ""
		if !crawler.IsHTTPURL(abs.String()) {
			return
		}
		docs = append(docs, crawler.DocumentLink{URL: abs.String(), Text: text, SourcePage: source})
	})
	return docs
}

func pageBase(page crawler.Page, requested string) *url.URL {
	for _, candidate := range []string{page.FinalURL, page.URL, requested} {
		if candidate == "" {
			continue
		}
		if u, err := url.Parse(candidate); err == nil {
			return u
		}
	}
	return nil
}

func (n *Navigator) now() time.Time {
	if n.clock != nil {
		return n.clock.Now()
	}
	return time.Now()
}
