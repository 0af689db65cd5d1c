// Package classify decides whether links point at downloadable documents and
// detects the payload type of fetched resources.
package classify

import (
	"bytes"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

// DocumentExtensions are the file suffixes treated as documents.
var DocumentExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".rtf"}

var (
	hrefTokens = []string{"download", "document", "file", "attachment"}
	textTokens = []string{"download", "pdf", "document", "read more"}
	// seed URLs that contain any of these are tried as documents before navigation
	directIndicators = []string{".pdf", "filetype=pdf", "content-type=pdf", "/pdf/", "document", "download"}
	nonPageSuffixes  = []string{".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp"}
)

var pdfMagic = []byte("%PDF")

// IsDocumentLink reports whether an anchor looks like it leads to a document,
// judging by its href and visible text.
func IsDocumentLink(href, linkText string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	if h == "" || strings.HasPrefix(h, "#") || strings.HasPrefix(h, "javascript:") ||
		strings.HasPrefix(h, "mailto:") || strings.HasPrefix(h, "tel:") {
		return false
	}
	if containsAny(h, DocumentExtensions) || containsAny(h, hrefTokens) {
		return true
	}
	return containsAny(strings.ToLower(linkText), textTokens)
}

// LooksLikeDocumentURL reports whether a seed URL should be fetched as a
// document before any page rendering.
func LooksLikeDocumentURL(rawURL string) bool {
	return containsAny(strings.ToLower(rawURL), directIndicators)
}

// HasDocumentExtension reports whether the URL path ends in a document suffix.
func HasDocumentExtension(rawURL string) bool {
	return documentSuffix(rawURL) != ""
}

// IsNonPageResource reports whether the URL points at an image or a
// non-navigable scheme.
func IsNonPageResource(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return true
	}
	return containsAny(lower, nonPageSuffixes)
}

// Payload detects the kind of a fetched resource. Leading bytes win over
// headers; headers win over the URL path suffix. It never panics and returns
// KindUnknown when nothing matches.
func Payload(contentType string, head []byte, urlPath string) crawler.DocumentKind {
	if bytes.HasPrefix(head, pdfMagic) {
		return crawler.KindPDF
	}
	if kind := kindFromContentType(contentType); kind != crawler.KindUnknown {
		return kind
	}
	return kindFromSuffix(urlPath)
}

// Extension picks the artifact file extension for a payload.
func Extension(kind crawler.DocumentKind, rawURL string) string {
	suffix := documentSuffix(rawURL)
	switch kind {
	case crawler.KindPDF:
		return ".pdf"
	case crawler.KindHTML:
		return ".html"
	case crawler.KindXML:
		return ".xml"
	case crawler.KindWord:
		if suffix == ".doc" || suffix == ".docx" {
			return suffix
		}
		return ".doc"
	case crawler.KindText:
		if suffix == ".txt" || suffix == ".rtf" {
			return suffix
		}
		return ".txt"
	}
	if suffix != "" {
		return suffix
	}
	return ".pdf"
}

func kindFromContentType(contentType string) crawler.DocumentKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return crawler.KindUnknown
	}
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mediaType
	}
	switch {
	case strings.Contains(ct, "pdf"):
		return crawler.KindPDF
	case strings.Contains(ct, "msword"), strings.Contains(ct, "wordprocessingml"):
		return crawler.KindWord
	case strings.Contains(ct, "html"):
		return crawler.KindHTML
	case strings.Contains(ct, "xml"):
		return crawler.KindXML
	case strings.HasPrefix(ct, "text/plain"), ct == "application/rtf", ct == "text/rtf":
		return crawler.KindText
	default:
		return crawler.KindUnknown
	}
}

func kindFromSuffix(urlPath string) crawler.DocumentKind {
	switch ext := strings.ToLower(path.Ext(pathOf(urlPath))); ext {
	case ".pdf":
		return crawler.KindPDF
	case ".doc", ".docx":
		return crawler.KindWord
	case ".htm", ".html":
		return crawler.KindHTML
	case ".xml":
		return crawler.KindXML
	case ".txt", ".rtf":
		return crawler.KindText
	default:
		return crawler.KindUnknown
	}
}

func documentSuffix(rawURL string) string {
	ext := strings.ToLower(path.Ext(pathOf(rawURL)))
	for _, known := range DocumentExtensions {
		if ext == known {
			return ext
		}
	}
	return ""
}

// pathOf returns the path component of a URL, or the input when it does not parse.
func pathOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return u.Path
	}
	return raw
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
