package navigator

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// DefaultContentSelectors are tried in order when looking for a page's main content.
var DefaultContentSelectors = []string{
	"article", "main", ".main-content", ".content", ".policy-content",
	"#main-content", "#content", ".document-content", ".text-content",
	".post-content", ".entry-content", "body",
}

const boilerplateSelector = "script, style, noscript, nav, header, footer, aside, form, button, img, " +
	".navigation, .menu, .sidebar"

// StripBoilerplate removes navigation chrome, scripts and forms from doc in place.
func StripBoilerplate(doc *goquery.Document) {
	doc.Find(boilerplateSelector).Remove()
}

// MainText returns the text of the first selector match longer than minLen
// runes, falling back to the whole body.
func MainText(doc *goquery.Document, selectors []string, minLen int) string {
	for _, sel := range selectors {
		match := doc.Find(sel).First()
		if match.Length() == 0 {
			continue
		}
		if text := NodeText(match); utf8.RuneCountInString(text) > minLen {
			return text
		}
	}
	return NodeText(doc.Find("body").First())
}

// NodeText joins the trimmed text nodes under sel with single spaces.
func NodeText(sel *goquery.Selection) string {
	parts := make([]string, 0, 64)
	for _, n := range sel.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, " ")
}

func collectText(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.TextNode:
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			*parts = append(*parts, t)
		}
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// FallbackText extracts whatever readable text a page offers: the first
// non-empty selector match after boilerplate removal, then a readability pass.
func FallbackText(rawHTML, pageURL string, selectors []string) string {
	rawHTML = strings.TrimSpace(rawHTML)
	if rawHTML == "" {
		return ""
	}
	best := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML)); err == nil {
		StripBoilerplate(doc)
		for _, sel := range selectors {
			match := doc.Find(sel).First()
			if match.Length() == 0 {
				continue
			}
			if text := NodeText(match); text != "" {
				best = text
				break
			}
		}
	}
	if article := readabilityText(rawHTML, pageURL); utf8.RuneCountInString(article) > utf8.RuneCountInString(best) {
		best = article
	}
	return best
}

func readabilityText(rawHTML, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(article.TextContent), " ")
}
