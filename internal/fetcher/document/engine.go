// Package document downloads individual documents with bounded retry,
// validates their payload and persists them alongside a JSON sidecar.
package document

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/classify"
	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/hash/sha256"
	"github.com/JakeFAU/docharvest/internal/metrics"
)

const (
	maxBaseName   = 50
	sniffBytes    = 8192
	timeLayout    = "2006-01-02 15:04:05"
	acceptHeader  = "application/pdf,text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultMaxMiB = 50
)

var (
	pdfMagic           = []byte("%PDF")
	dispositionPattern = regexp.MustCompile(`filename\*?=["']?(?:UTF-8'')?([^"';\n]+)`)
)

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls download behavior.
type Config struct {
	Timeout time.Duration
	// MaxBytes caps both the declared and the streamed size of a document.
	MaxBytes int64
	// SkipExistingMinBytes reuses an artifact already on disk when it is larger than this.
	SkipExistingMinBytes int64
	UserAgents           []string
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
}

// Engine implements crawler.DocumentFetcher.
type Engine struct {
	cfg     Config
	policy  *RetryPolicy
	limiter Limiter
	client  *http.Client
	clock   crawler.Clock
	ids     crawler.IDGenerator
	logger  *zap.Logger
}

// New constructs an Engine. limiter and ids may be nil.
func New(cfg Config, limiter Limiter, clock crawler.Clock, ids crawler.IDGenerator, logger *zap.Logger) *Engine {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxMiB * 1024 * 1024
	}
	if cfg.SkipExistingMinBytes <= 0 {
		cfg.SkipExistingMinBytes = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		policy:  NewRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay),
		limiter: limiter,
		client:  NewSession(cfg.Timeout),
		clock:   clock,
		ids:     ids,
		logger:  logger.Named("document"),
	}
}

// Fetch downloads req.URL into req.DestDir. Transient failures are retried
// per the retry policy; the result always reports the attempts made.
func (e *Engine) Fetch(ctx context.Context, client *http.Client, req crawler.DocumentRequest) crawler.DocumentFetchResult {
	if client == nil {
		client = e.client
	}
	start := time.Now()
	var result crawler.DocumentFetchResult
	for attempt := 1; ; attempt++ {
		result = e.attempt(ctx, client, req)
		result.Attempts = attempt
		if result.Err == nil || !e.policy.ShouldRetry(result.Err, attempt) {
			break
		}
		wait := e.policy.Backoff(attempt)
		reason := crawler.ReasonOf(result.Err)
		metrics.ObserveFetchRetry(string(reason))
		e.logger.Debug("retrying document fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.String("reason", string(reason)),
			zap.Duration("backoff", wait),
		)
		if err := crawler.Sleep(ctx, wait); err != nil {
			result.Err = &crawler.FetchError{Reason: crawler.ReasonCanceled, URL: req.URL, Err: err}
			break
		}
	}
	result.URL = req.URL

	outcome := "success"
	if result.Err != nil {
		outcome = string(crawler.ReasonOf(result.Err))
		e.logger.Warn("document fetch failed",
			zap.String("url", req.URL),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)
	} else {
		e.logger.Info("document saved",
			zap.String("url", req.URL),
			zap.String("path", result.Path),
			zap.Int64("bytes", result.Info.SizeBytes),
			zap.Bool("skipped", result.Skipped),
		)
	}
	metrics.ObserveDocumentFetch(outcome, result.Attempts, result.Info.SizeBytes, time.Since(start))
	return result
}

func (e *Engine) attempt(ctx context.Context, client *http.Client, req crawler.DocumentRequest) crawler.DocumentFetchResult {
	resp, err := e.get(ctx, client, req.URL)
	if err != nil {
		return crawler.DocumentFetchResult{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		finalURL := resp.Request.URL.String()
		status := resp.StatusCode
		drain(resp.Body)
		if finalURL == req.URL {
			return crawler.DocumentFetchResult{Err: statusError(req.URL, status)}
		}
		// the redirect target sometimes answers directly when the chain does not
		resp, err = e.get(ctx, client, finalURL)
		if err != nil {
			return crawler.DocumentFetchResult{Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			drain(resp.Body)
			return crawler.DocumentFetchResult{Err: statusError(finalURL, resp.StatusCode)}
		}
	}
	result := e.store(ctx, req, resp)
	if reason := crawler.ReasonOf(result.Err); reason == crawler.ReasonTooLarge || reason == crawler.ReasonNotDocument {
		// close without reading the rest of the body
		_ = resp.Body.Close()
	} else {
		drain(resp.Body)
	}
	return result
}

func (e *Engine) get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rawURL); err != nil {
			return nil, &crawler.FetchError{Reason: crawler.ReasonCanceled, URL: rawURL, Err: err}
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &crawler.FetchError{Reason: crawler.ReasonBadRequest, URL: rawURL, Err: err}
	}
	httpReq.Header.Set("User-Agent", crawler.RandomUserAgent(e.cfg.UserAgents))
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.5")
	httpReq.Header.Set("DNT", "1")
	httpReq.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &crawler.FetchError{Reason: crawler.ReasonCanceled, URL: rawURL, Err: ctx.Err()}
		}
		return nil, &crawler.FetchError{Reason: crawler.ReasonNetwork, URL: rawURL, Err: err}
	}
	return resp, nil
}

func (e *Engine) store(ctx context.Context, req crawler.DocumentRequest, resp *http.Response) crawler.DocumentFetchResult {
	info := crawler.FileInfo{
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		Filename:    dispositionFilename(resp.Header.Get("Content-Disposition")),
		URL:         resp.Request.URL.String(),
	}
	if resp.ContentLength > 0 {
		info.SizeBytes = resp.ContentLength
	}
	fail := func(reason crawler.FailureReason, err error) crawler.DocumentFetchResult {
		return crawler.DocumentFetchResult{Info: info, Err: &crawler.FetchError{Reason: reason, URL: req.URL, Err: err}}
	}
	if info.SizeBytes > e.cfg.MaxBytes {
		return fail(crawler.ReasonTooLarge, fmt.Errorf("declared size %d exceeds %d", info.SizeBytes, e.cfg.MaxBytes))
	}

	body := bufio.NewReaderSize(resp.Body, sniffBytes)
	// short bodies surface as empty-body below; the peek error is irrelevant
	head, _ := body.Peek(len(pdfMagic))
	info.Kind = classify.Payload(info.ContentType, head, resp.Request.URL.Path)
	info.IsDocument = info.Kind == crawler.KindPDF || info.Kind == crawler.KindWord || info.Kind == crawler.KindText
	if req.DocumentsOnly && !info.IsDocument {
		return fail(crawler.ReasonNotDocument, fmt.Errorf("payload is %s", info.Kind))
	}

	ext := classify.Extension(info.Kind, req.URL)
	name := artifactName(req, info, ext)
	if err := os.MkdirAll(req.DestDir, 0o750); err != nil {
		return fail(crawler.ReasonIO, fmt.Errorf("create document dir %s: %w", req.DestDir, err))
	}
	target := filepath.Join(req.DestDir, name)
	if st, err := os.Stat(target); err == nil && st.Size() > e.cfg.SkipExistingMinBytes {
		info.SizeBytes = st.Size()
		info.SHA256 = e.existingDigest(target)
		return crawler.DocumentFetchResult{Path: target, Info: info, Skipped: true}
	}

	written, sum, reason, err := e.writeArtifact(ctx, target, body)
	if err != nil {
		_ = os.Remove(target)
		return fail(reason, err)
	}
	if ext == ".pdf" && !bytes.HasPrefix(head, pdfMagic) {
		_ = os.Remove(target)
		return fail(crawler.ReasonBadMagic, errors.New("payload does not start with %PDF"))
	}
	info.SizeBytes = written
	info.SHA256 = sum

	if err := e.writeSidecar(target, ext, name, req, info); err != nil {
		_ = os.Remove(target)
		return fail(crawler.ReasonIO, err)
	}
	return crawler.DocumentFetchResult{Path: target, Info: info}
}

// writeArtifact streams body to target while hashing it.
func (e *Engine) writeArtifact(
	ctx context.Context,
	target string,
	body io.Reader,
) (int64, string, crawler.FailureReason, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, "", crawler.ReasonIO, fmt.Errorf("create %s: %w", target, err)
	}
	src := &readTracker{r: io.LimitReader(body, e.cfg.MaxBytes+1)}
	digest := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, digest), src)
	closeErr := f.Close()
	switch {
	case copyErr != nil && ctx.Err() != nil:
		return n, "", crawler.ReasonCanceled, fmt.Errorf("stream body: %w", ctx.Err())
	case copyErr != nil && src.err != nil:
		return n, "", crawler.ReasonNetwork, fmt.Errorf("stream body: %w", copyErr)
	case copyErr != nil:
		return n, "", crawler.ReasonIO, fmt.Errorf("write %s: %w", target, copyErr)
	case closeErr != nil:
		return n, "", crawler.ReasonIO, fmt.Errorf("close %s: %w", target, closeErr)
	case n > e.cfg.MaxBytes:
		return n, "", crawler.ReasonTooLarge, fmt.Errorf("streamed size exceeds %d", e.cfg.MaxBytes)
	case n == 0:
		return 0, "", crawler.ReasonEmpty, errors.New("empty response body")
	}
	return n, digest.Hex(), "", nil
}

func (e *Engine) existingDigest(target string) string {
	f, err := os.Open(target) //nolint:gosec // target is built from the sanitized artifact name
	if err != nil {
		e.logger.Warn("hash existing artifact", zap.String("path", target), zap.Error(err))
		return ""
	}
	defer f.Close() //nolint:errcheck // read-only
	sum, err := sha256.File(f)
	if err != nil {
		e.logger.Warn("hash existing artifact", zap.String("path", target), zap.Error(err))
		return ""
	}
	return sum
}

type sidecar struct {
	URL          string            `json:"url"`
	Filename     string            `json:"filename"`
	DownloadTime string            `json:"download_time"`
	FileInfo     crawler.FileInfo  `json:"file_info"`
	PageInfo     map[string]string `json:"page_info"`
	ActualSize   int64             `json:"actual_size"`
	SHA256       string            `json:"sha256"`
	DownloadID   string            `json:"download_id,omitempty"`
}

func (e *Engine) writeSidecar(target, ext, name string, req crawler.DocumentRequest, info crawler.FileInfo) error {
	meta := sidecar{
		URL:          req.URL,
		Filename:     name,
		DownloadTime: e.now().Format(timeLayout),
		FileInfo:     info,
		PageInfo:     req.PageInfo,
		ActualSize:   info.SizeBytes,
		SHA256:       info.SHA256,
	}
	if meta.PageInfo == nil {
		meta.PageInfo = map[string]string{}
	}
	if e.ids != nil {
		if id, err := e.ids.NewID(); err == nil {
			meta.DownloadID = id
		}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	metaPath := strings.TrimSuffix(target, ext) + ".json"
	if err := os.WriteFile(metaPath, data, 0o600); err != nil {
		return fmt.Errorf("write sidecar %s: %w", metaPath, err)
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now()
}

// artifactName builds "<hint>_<base><ext>". The base comes from the title
// hint, then the Content-Disposition stem, then "document_<hint>".
func artifactName(req crawler.DocumentRequest, info crawler.FileInfo, ext string) string {
	hint := crawler.SafeFilename(req.Hint, maxBaseName)
	if hint == "" {
		hint = "doc"
	}
	var base string
	switch {
	case strings.TrimSpace(req.Title) != "":
		base = crawler.SafeFilename(req.Title, maxBaseName)
	case info.Filename != "":
		base = crawler.SafeFilename(strings.TrimSuffix(info.Filename, path.Ext(info.Filename)), maxBaseName)
	}
	if base == "" {
		base = "document_" + hint
	}
	return hint + "_" + base + ext
}

func dispositionFilename(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return path.Base(strings.ReplaceAll(name, "\\", "/"))
		}
	}
	m := dispositionPattern.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	if unescaped, err := url.QueryUnescape(name); err == nil {
		name = unescaped
	}
	return path.Base(strings.ReplaceAll(name, "\\", "/"))
}

func statusError(rawURL string, status int) *crawler.FetchError {
	reason := crawler.ReasonClient
	switch {
	case status == http.StatusTooManyRequests:
		reason = crawler.ReasonThrottled
	case status >= http.StatusInternalServerError:
		reason = crawler.ReasonServer
	}
	return &crawler.FetchError{Reason: reason, StatusCode: status, URL: rawURL}
}

type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
