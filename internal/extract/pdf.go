package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Pages shorter than minPageText after the plain pass get a row-by-row pass;
// pages that end up no longer than keepPageText are dropped.
const (
	minPageText  = 10
	keepPageText = 5
)

// PDF extracts text page by page, each kept page prefixed with "[Page N]".
// Image-only PDFs return ErrNoText.
func PDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only handle
	}()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText := pageText(page)
		if len(strings.TrimSpace(pageText)) > keepPageText {
			pages = append(pages, fmt.Sprintf("[Page %d]\n%s", i, strings.TrimSpace(pageText)))
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n\n"), nil
}

func pageText(page pdf.Page) string {
	plain, err := page.GetPlainText(nil)
	if err == nil && len(strings.TrimSpace(plain)) >= minPageText {
		return plain
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return plain
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		words := make([]string, 0, len(row.Content))
		for _, t := range row.Content {
			words = append(words, t.S)
		}
		if line := strings.TrimSpace(strings.Join(words, "")); line != "" {
			lines = append(lines, line)
		}
	}
	if joined := strings.Join(lines, "\n"); len(strings.TrimSpace(joined)) > len(strings.TrimSpace(plain)) {
		return joined
	}
	return plain
}
