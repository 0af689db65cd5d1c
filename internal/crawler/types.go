package crawler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is an ordered, opaque record read from (or written to) a table.
type Row struct {
	Columns []string
	Values  map[string]string
}

// NewRow builds a row from parallel column and value slices.
func NewRow(columns []string, values []string) Row {
	row := Row{Columns: append([]string(nil), columns...), Values: make(map[string]string, len(columns))}
	for i, col := range columns {
		if i < len(values) {
			row.Values[col] = values[i]
		} else {
			row.Values[col] = ""
		}
	}
	return row
}

// Get returns the value stored under column, or "" when absent.
func (r Row) Get(column string) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[column]
}

// Set stores value under column, appending the column when it is new.
func (r *Row) Set(column, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	if _, ok := r.Values[column]; !ok {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = value
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	out := Row{Columns: append([]string(nil), r.Columns...), Values: make(map[string]string, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}

// WorkItem is one seed URL scheduled for processing.
type WorkItem struct {
	// ID is the stable 1-based position of the row in the input table.
	ID  int
	URL string
	// Key is the normalized URL used for dedup and checkpoint identity.
	Key string
	Row Row
}

// Hint returns the zero-padded identifier used for artifact names.
func (w WorkItem) Hint() string {
	return fmt.Sprintf("%04d", w.ID)
}

// PageText is the main text captured from one visited page.
type PageText struct {
	URL       string
	Depth     int
	Timestamp time.Time
	Text      string
}

// Formatted renders the page text with its provenance header.
func (p PageText) Formatted() string {
	return fmt.Sprintf("[Page URL]: %s\n[Depth]: %d\n[Extracted]: %s\n\n%s",
		p.URL, p.Depth, p.Timestamp.Format("2006-01-02 15:04:05"), p.Text)
}

// DocumentLink is a downloadable document discovered during navigation.
type DocumentLink struct {
	URL        string
	Text       string
	SourcePage string
}

// NavigationResult accumulates everything discovered from one root URL.
type NavigationResult struct {
	Pages     []PageText
	Documents []DocumentLink
	Log       []string
	// RootHTML is the rendered markup of the root page, kept for fallback extraction.
	RootHTML string
	// RelevantLinks counts distinct relevant same-host links seen before fan-out capping.
	RelevantLinks int
	Visited       int
}

// UniqueDocuments returns the documents deduplicated by normalized URL, keeping first occurrence.
func (n NavigationResult) UniqueDocuments() []DocumentLink {
	seen := make(map[string]struct{}, len(n.Documents))
	out := make([]DocumentLink, 0, len(n.Documents))
	for _, doc := range n.Documents {
		key := NormalizeURL(doc.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
	}
	return out
}

// DocumentKind is the detected payload type of a downloaded resource.
type DocumentKind string

// Payload kinds recognized by the classifier.
const (
	KindPDF     DocumentKind = "pdf"
	KindHTML    DocumentKind = "html"
	KindXML     DocumentKind = "xml"
	KindWord    DocumentKind = "word"
	KindText    DocumentKind = "text"
	KindUnknown DocumentKind = "unknown"
)

// FileInfo describes the response that produced a document artifact.
type FileInfo struct {
	ContentType string       `json:"content_type"`
	Filename    string       `json:"filename"`
	SizeBytes   int64        `json:"size"`
	Kind        DocumentKind `json:"kind"`
	IsDocument  bool         `json:"is_document"`
	URL         string       `json:"url"`
	SHA256      string       `json:"sha256,omitempty"`
}

// DocumentRequest describes one document download.
type DocumentRequest struct {
	URL     string
	DestDir string
	// Hint is the identifier prefix used for the artifact name.
	Hint string
	// Title, when set, becomes the artifact base name.
	Title    string
	PageInfo map[string]string
	// DocumentsOnly rejects payloads that classify as markup or unknown
	// before anything is written.
	DocumentsOnly bool
}

// DocumentFetchResult is the outcome of downloading one document.
// Exactly one of Path or Err is set.
type DocumentFetchResult struct {
	URL      string
	Path     string
	Info     FileInfo
	Attempts int
	// Skipped reports that an existing artifact was reused.
	Skipped bool
	Err     error
}

// OK reports whether the fetch produced an artifact.
func (r DocumentFetchResult) OK() bool {
	return r.Err == nil && r.Path != ""
}

// Method tags which extraction tier produced a WorkItem's text.
type Method string

// Extraction methods in tier order.
const (
	MethodDirectDocument   Method = "direct-document"
	MethodNavigationDocs   Method = "navigation-with-documents"
	MethodNavigationPages  Method = "navigation-pages-only"
	MethodFallbackPageText Method = "fallback-page-text"
	MethodFailed           Method = "failed"
	MethodLowContent       Method = "low-content"
)

// ProcessingOutcome is the content gathered for one WorkItem.
type ProcessingOutcome struct {
	Text               string
	DocumentCount      int
	Method             Method
	PagesVisited       int
	DocumentsFound     int
	RelevantLinksFound int
	Err                error
}

// Output column names appended to each input row.
const (
	ColumnExtractedText = "extracted_text"
	ColumnRelevance     = "relevance"
	ColumnFilename      = "filename"
	ColumnStatus        = "status"
	ColumnDocumentCount = "document_count"
	ColumnElapsed       = "elapsed_seconds"
	ColumnTextLength    = "text_length"
	ColumnMethod        = "method"
	ColumnPagesVisited  = "pages_visited"
	ColumnDocsFound     = "documents_found"
	ColumnRelevantLinks = "relevant_links_found"
)

// ResultColumns lists the output columns in the order they are written.
var ResultColumns = []string{
	ColumnExtractedText,
	ColumnRelevance,
	ColumnFilename,
	ColumnStatus,
	ColumnDocumentCount,
	ColumnElapsed,
	ColumnTextLength,
	ColumnMethod,
	ColumnPagesVisited,
	ColumnDocsFound,
	ColumnRelevantLinks,
}

// Status values written to the status column.
const (
	StatusSuccessPrefix = "success"
	StatusWarning       = "warning"
	StatusFailed        = "failed"
	StatusFailedSave    = "failed-save-error"
)

// Relevance values written when the text was not analyzed.
const (
	RelevanceFailed     = "processing-failed"
	RelevanceLowContent = "low-content"
)

// ResultRecord is one output row: the input row plus processing results.
type ResultRecord struct {
	Item        WorkItem
	Outcome     ProcessingOutcome
	Status      string
	Relevance   string
	Filename    string
	DisplayText string
	TextLength  int
	Elapsed     time.Duration
}

// Succeeded reports whether the record carries a success status.
func (r ResultRecord) Succeeded() bool {
	return strings.HasPrefix(r.Status, StatusSuccessPrefix)
}

// Row projects the record onto the input columns plus ResultColumns.
func (r ResultRecord) Row() Row {
	row := r.Item.Row.Clone()
	row.Set(ColumnExtractedText, r.DisplayText)
	row.Set(ColumnRelevance, r.Relevance)
	row.Set(ColumnFilename, r.Filename)
	row.Set(ColumnStatus, r.Status)
	row.Set(ColumnDocumentCount, strconv.Itoa(r.Outcome.DocumentCount))
	row.Set(ColumnElapsed, strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 2, 64))
	row.Set(ColumnTextLength, strconv.Itoa(r.TextLength))
	row.Set(ColumnMethod, string(r.Outcome.Method))
	row.Set(ColumnPagesVisited, strconv.Itoa(r.Outcome.PagesVisited))
	row.Set(ColumnDocsFound, strconv.Itoa(r.Outcome.DocumentsFound))
	row.Set(ColumnRelevantLinks, strconv.Itoa(r.Outcome.RelevantLinksFound))
	return row
}
