package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const htmlNoise = "script, style, noscript, nav, header, footer, aside, form, button"

// HTML returns the visible text of an HTML document with navigation chrome removed.
func HTML(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(htmlNoise).Remove()
	return joinText(doc.Selection)
}

// XML returns the character data of an XML document, space separated.
func XML(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse xml: %w", err)
	}
	return joinText(doc.Selection)
}

// joinText collects text nodes in document order, whitespace collapsed.
func joinText(sel *goquery.Selection) (string, error) {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	if len(parts) == 0 {
		return "", ErrNoText
	}
	return strings.Join(parts, " "), nil
}
