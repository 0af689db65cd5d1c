// Package extract pulls plain text out of downloaded document artifacts.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrNoText is returned when a document parses but yields no usable text,
// as with scanned PDFs.
var ErrNoText = errors.New("no extractable text")

// Extractor dispatches on file extension. It implements crawler.TextExtractor.
type Extractor struct {
	logger *zap.Logger
}

// New constructs an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger.Named("extract")}
}

// Extract returns the text of the artifact at path.
func (e *Extractor) Extract(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = PDF(path)
	case ".html", ".htm":
		text, err = e.markup(path, HTML)
	case ".xml":
		text, err = e.markup(path, XML)
	default:
		text, err = PlainFile(path)
	}
	if err != nil {
		e.logger.Debug("extraction failed", zap.String("path", path), zap.Error(err))
		return "", err
	}
	return text, nil
}

func (e *Extractor) markup(path string, parse func(string) (string, error)) (string, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // artifact paths are produced by the fetch engine
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return parse(string(raw))
}

// PlainFile reads a text file, dropping invalid UTF-8 sequences. Word
// documents take this path as well, which yields whatever text survives.
func PlainFile(path string) (string, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // artifact paths are produced by the fetch engine
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text := strings.ToValidUTF8(string(raw), "")
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
