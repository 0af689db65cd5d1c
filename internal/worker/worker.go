// Package worker turns one seed URL into a ResultRecord: it tries the seed as
// a document, then navigates the site and downloads what it finds, then falls
// back to the root page text. Seeds whose URL does not look like a document
// are fetched as one only after navigation comes back empty.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/classify"
	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/downloader"
	"github.com/JakeFAU/docharvest/internal/fetcher/document"
	"github.com/JakeFAU/docharvest/internal/metrics"
	"github.com/JakeFAU/docharvest/internal/navigator"
	"github.com/JakeFAU/docharvest/internal/relevance"
)

const (
	documentSeparator = "\n\n--- content separator ---\n\n"
	warningPrefix     = "[WARNING]"
	errorPrefix       = "[ERROR]"
	textContentType   = "text/plain; charset=utf-8"
	filenameMaxRunes  = 50
)

// Relevance values written when the text was not analyzed.
const (
	RelevanceFailed     = crawler.RelevanceFailed
	RelevanceLowContent = crawler.RelevanceLowContent
)

// Config controls per-item processing.
type Config struct {
	MaxDepth            int
	DownloadConcurrency int
	MaxDocuments        int
	DocumentDir         string
	DownloadTimeout     time.Duration
	// TitleColumn and CountryColumn name the row values used for artifact names.
	TitleColumn      string
	CountryColumn    string
	ContentSelectors []string
	// MinDocumentText is the rune count an extracted document must exceed to count.
	MinDocumentText int
	// MinFallbackText is the rune count the root page fallback must exceed.
	MinFallbackText int
	// MinTextLength separates usable text from low-content warnings.
	MinTextLength    int
	MaxCellChars     int
	DisplayInlineMax int
}

// Deps are the collaborators a Worker drives.
type Deps struct {
	Browsers   crawler.BrowserFactory
	Navigator  *navigator.Navigator
	Documents  crawler.DocumentFetcher
	Downloads  *downloader.Coordinator
	Extractor  crawler.TextExtractor
	Texts      crawler.BlobStore
	Scorer     *relevance.Scorer
	Clock      crawler.Clock
	NewSession func(timeout time.Duration) *http.Client
}

// Worker processes work items. It is safe for concurrent use; every call to
// Process opens its own browser and download session.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = 3
	}
	if cfg.MinDocumentText <= 0 {
		cfg.MinDocumentText = 100
	}
	if cfg.MinFallbackText <= 0 {
		cfg.MinFallbackText = 200
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 100
	}
	if cfg.MaxCellChars <= 0 {
		cfg.MaxCellChars = 32000
	}
	if cfg.DisplayInlineMax <= 0 {
		cfg.DisplayInlineMax = 1000
	}
	if len(cfg.ContentSelectors) == 0 {
		cfg.ContentSelectors = navigator.DefaultContentSelectors
	}
	if deps.Scorer == nil {
		deps.Scorer = relevance.NewScorer(relevance.DefaultKeywords)
	}
	if deps.Downloads == nil {
		deps.Downloads = downloader.New(deps.Scorer, logger)
	}
	if deps.NewSession == nil {
		deps.NewSession = document.NewSession
	}
	return &Worker{cfg: cfg, deps: deps, logger: logger.Named("worker")}
}

// Process runs every tier for item and returns its result record. It never
// fails: problems are reflected in the record's status and method.
func (w *Worker) Process(ctx context.Context, item crawler.WorkItem) crawler.ResultRecord {
	start := w.now()
	metrics.IncInFlight()
	defer metrics.DecInFlight()

	logger := w.logger.With(zap.Int("item", item.ID), zap.String("url", item.URL))
	logger.Info("processing work item")

	outcome := w.gather(ctx, item, logger)
	outcome = w.finalize(item, outcome)
	record := w.record(ctx, item, outcome, logger)
	record.Elapsed = w.now().Sub(start)

	metrics.ObserveWorkItem(record.Status, string(outcome.Method), record.Elapsed)
	logger.Info("work item finished",
		zap.String("status", record.Status),
		zap.String("method", string(outcome.Method)),
		zap.Int("documents", outcome.DocumentCount),
		zap.Int("text_length", record.TextLength),
		zap.Duration("elapsed", record.Elapsed),
	)
	return record
}

// Failed builds the record for an item whose processing was aborted by err.
// It matches the records Process writes for items that yield nothing.
func (w *Worker) Failed(item crawler.WorkItem, err error) crawler.ResultRecord {
	outcome := w.finalize(item, crawler.ProcessingOutcome{Err: err})
	return w.record(context.Background(), item, outcome, w.logger)
}

func (w *Worker) gather(ctx context.Context, item crawler.WorkItem, logger *zap.Logger) crawler.ProcessingOutcome {
	session := w.deps.NewSession(w.cfg.DownloadTimeout)

	hinted := classify.LooksLikeDocumentURL(item.URL)
	if hinted {
		if outcome, ok := w.directDocument(ctx, session, item, false, logger); ok {
			return outcome
		}
	}

	nav, err := w.navigate(ctx, session, item)
	if err != nil {
		logger.Warn("navigation unavailable", zap.Error(err))
		if !hinted {
			if outcome, ok := w.directDocument(ctx, session, item, true, logger); ok {
				return outcome
			}
		}
		return crawler.ProcessingOutcome{Err: err}
	}
	for _, line := range nav.Log {
		logger.Debug(line)
	}

	documents := nav.UniqueDocuments()
	outcome := crawler.ProcessingOutcome{
		PagesVisited:       len(nav.Pages),
		DocumentsFound:     len(documents),
		RelevantLinksFound: nav.RelevantLinks,
	}

	docTexts := w.downloadDocuments(ctx, session, item, documents, logger)
	var blocks []string
	for i, text := range docTexts {
		blocks = append(blocks, fmt.Sprintf("=== Document %d ===\n%s", i+1, text))
	}
	for i, page := range nav.Pages {
		blocks = append(blocks, fmt.Sprintf("=== Page %d ===\n%s", i+1, page.Formatted()))
	}
	switch {
	case len(docTexts) > 0:
		outcome.Method = crawler.MethodNavigationDocs
		outcome.DocumentCount = len(docTexts)
	case len(nav.Pages) > 0:
		outcome.Method = crawler.MethodNavigationPages
	}
	if len(blocks) > 0 {
		outcome.Text = strings.Join(blocks, documentSeparator)
		return outcome
	}

	// a seed without a document-looking URL may still serve one
	if !hinted && len(nav.Pages) == 0 && len(documents) == 0 {
		if direct, ok := w.directDocument(ctx, session, item, true, logger); ok {
			return direct
		}
	}

	if nav.RootHTML != "" {
		fallback := navigator.FallbackText(nav.RootHTML, item.URL, w.cfg.ContentSelectors)
		if runeLen(fallback) > w.cfg.MinFallbackText {
			outcome.Text = fmt.Sprintf("[Source URL]: %s\n[Extracted]: %s\n\n%s",
				item.URL, w.now().Format("2006-01-02 15:04:05"), fallback)
			outcome.Method = crawler.MethodFallbackPageText
		}
	}
	return outcome
}

// directDocument downloads the seed itself. It reports false when the
// download fails or yields too little text. With documentsOnly set the seed
// is kept only when its payload classifies as a document.
func (w *Worker) directDocument(
	ctx context.Context,
	session *http.Client,
	item crawler.WorkItem,
	documentsOnly bool,
	logger *zap.Logger,
) (crawler.ProcessingOutcome, bool) {
	req := w.documentRequest(item, item.URL, item.Hint())
	req.DocumentsOnly = documentsOnly
	res := w.deps.Documents.Fetch(ctx, session, req)
	if !res.OK() {
		logger.Info("direct document download failed", zap.Bool("documents_only", documentsOnly), zap.Error(res.Err))
		return crawler.ProcessingOutcome{}, false
	}
	text, ok := w.documentText(res, logger)
	if !ok {
		return crawler.ProcessingOutcome{}, false
	}
	return crawler.ProcessingOutcome{
		Text:           fmt.Sprintf("=== Document 1 ===\n%s", text),
		DocumentCount:  1,
		DocumentsFound: 1,
		Method:         crawler.MethodDirectDocument,
	}, true
}

func (w *Worker) navigate(ctx context.Context, session *http.Client, item crawler.WorkItem) (crawler.NavigationResult, error) {
	if w.deps.Browsers == nil || w.deps.Navigator == nil {
		return crawler.NavigationResult{}, fmt.Errorf("no browser configured")
	}
	browser, err := w.deps.Browsers.Open(ctx)
	if err != nil {
		return crawler.NavigationResult{}, fmt.Errorf("open browser: %w", err)
	}
	defer browser.Close() //nolint:errcheck // best-effort teardown

	nav := w.deps.Navigator.Navigate(ctx, browser, item.URL, w.cfg.MaxDepth)

	cookies, err := browser.Cookies(ctx)
	if err != nil {
		w.logger.Debug("read browser cookies", zap.Int("item", item.ID), zap.Error(err))
	}
	document.ImportCookies(session, item.URL, cookies)
	return nav, nil
}

func (w *Worker) downloadDocuments(
	ctx context.Context,
	session *http.Client,
	item crawler.WorkItem,
	documents []crawler.DocumentLink,
	logger *zap.Logger,
) []string {
	if len(documents) == 0 || w.cfg.MaxDocuments <= 0 {
		return nil
	}
	fetch := func(ctx context.Context, index int, link crawler.DocumentLink) crawler.DocumentFetchResult {
		hint := fmt.Sprintf("%s_%d", item.Hint(), index)
		return w.deps.Documents.Fetch(ctx, session, w.documentRequest(item, link.URL, hint))
	}
	results := w.deps.Downloads.DownloadAll(ctx, documents, w.cfg.DownloadConcurrency, w.cfg.MaxDocuments, fetch)

	var texts []string
	for _, res := range results {
		if !res.OK() {
			logger.Info("document download failed", zap.String("document", res.URL), zap.Error(res.Err))
			continue
		}
		if text, ok := w.documentText(res, logger); ok {
			texts = append(texts, text)
		}
	}
	return texts
}

func (w *Worker) documentText(res crawler.DocumentFetchResult, logger *zap.Logger) (string, bool) {
	text, err := w.deps.Extractor.Extract(res.Path)
	if err != nil {
		logger.Info("document text extraction failed", zap.String("path", res.Path), zap.Error(err))
		return "", false
	}
	if runeLen(strings.TrimSpace(text)) <= w.cfg.MinDocumentText {
		logger.Info("document text too short", zap.String("path", res.Path))
		return "", false
	}
	return text, true
}

func (w *Worker) documentRequest(item crawler.WorkItem, rawURL, hint string) crawler.DocumentRequest {
	country := item.Row.Get(w.cfg.CountryColumn)
	title := item.Row.Get(w.cfg.TitleColumn)
	return crawler.DocumentRequest{
		URL:     rawURL,
		DestDir: w.cfg.DocumentDir,
		Hint:    hint,
		Title:   title,
		PageInfo: map[string]string{
			"country":      country,
			"policy_title": title,
			"source_url":   item.URL,
		},
	}
}

// finalize applies the final classification and cleans the text for a table cell.
func (w *Worker) finalize(item crawler.WorkItem, outcome crawler.ProcessingOutcome) crawler.ProcessingOutcome {
	switch trimmed := strings.TrimSpace(outcome.Text); {
	case trimmed == "":
		reason := "no usable content extracted"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		outcome.Text = fmt.Sprintf("%s %s: %s", errorPrefix, reason, item.URL)
		outcome.Method = crawler.MethodFailed
	case runeLen(trimmed) < w.cfg.MinTextLength:
		outcome.Text = fmt.Sprintf("%s very little content extracted (%d chars): %s",
			warningPrefix, runeLen(outcome.Text), outcome.Text)
		outcome.Method = crawler.MethodLowContent
	}
	outcome.Text = crawler.CleanText(outcome.Text, w.cfg.MaxCellChars)
	return outcome
}

func (w *Worker) record(
	ctx context.Context,
	item crawler.WorkItem,
	outcome crawler.ProcessingOutcome,
	logger *zap.Logger,
) crawler.ResultRecord {
	record := crawler.ResultRecord{
		Item:        item,
		Outcome:     outcome,
		Filename:    w.textFilename(item),
		DisplayText: outcome.Text,
	}

	switch outcome.Method {
	case crawler.MethodFailed:
		record.Status = crawler.StatusFailed
		record.Relevance = RelevanceFailed
		return record
	case crawler.MethodLowContent:
		record.Status = crawler.StatusWarning
		record.Relevance = RelevanceLowContent
		record.TextLength = runeLen(outcome.Text)
		return record
	}

	record.Status = fmt.Sprintf("%s-%s", crawler.StatusSuccessPrefix, outcome.Method)
	if outcome.DocumentCount > 0 {
		record.Status += fmt.Sprintf("-%d-docs", outcome.DocumentCount)
	}
	record.Relevance = w.deps.Scorer.Label(outcome.Text)
	record.TextLength = runeLen(outcome.Text)

	if w.deps.Texts != nil {
		if _, err := w.deps.Texts.PutObject(ctx, record.Filename, textContentType, strings.NewReader(outcome.Text)); err != nil {
			logger.Error("save text artifact", zap.String("filename", record.Filename), zap.Error(err))
			record.Status = crawler.StatusFailedSave
			record.Outcome.Err = err
			record.DisplayText = fmt.Sprintf("%s failed to save text: %v", errorPrefix, err)
			return record
		}
	}
	if record.TextLength >= w.cfg.DisplayInlineMax {
		record.DisplayText = fmt.Sprintf("text saved to file: %s (length: %d chars)", record.Filename, record.TextLength)
	}
	return record
}

// textFilename is <Country>-<Title>.txt when the row carries both columns,
// otherwise the zero-padded item id.
func (w *Worker) textFilename(item crawler.WorkItem) string {
	if hasColumn(item.Row, w.cfg.CountryColumn) && hasColumn(item.Row, w.cfg.TitleColumn) {
		country := safeOrUnknown(item.Row.Get(w.cfg.CountryColumn))
		title := safeOrUnknown(item.Row.Get(w.cfg.TitleColumn))
		return fmt.Sprintf("%s-%s.txt", country, title)
	}
	return item.Hint() + ".txt"
}

func hasColumn(row crawler.Row, column string) bool {
	if column == "" || row.Values == nil {
		return false
	}
	_, ok := row.Values[column]
	return ok
}

func safeOrUnknown(raw string) string {
	if name := crawler.SafeFilename(raw, filenameMaxRunes); name != "" {
		return name
	}
	return "unknown"
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func (w *Worker) now() time.Time {
	if w.deps.Clock != nil {
		return w.deps.Clock.Now()
	}
	return time.Now()
}
