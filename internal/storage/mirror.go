// Package storage combines blob stores for text artifacts.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

// Mirrored writes each object to a primary store and then copies it to every
// mirror. Only a primary failure fails the write; mirror failures are logged.
type Mirrored struct {
	primary crawler.BlobStore
	mirrors []crawler.BlobStore
	logger  *zap.Logger
}

// NewMirrored builds a Mirrored store. With no mirrors it behaves exactly like primary.
func NewMirrored(primary crawler.BlobStore, logger *zap.Logger, mirrors ...crawler.BlobStore) *Mirrored {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirrored{primary: primary, mirrors: mirrors, logger: logger.Named("storage")}
}

// PutObject implements crawler.BlobStore and returns the primary URI.
func (m *Mirrored) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	if len(m.mirrors) == 0 {
		return m.primary.PutObject(ctx, path, contentType, data) //nolint:wrapcheck // passthrough
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("buffer object %s: %w", path, err)
	}
	uri, err := m.primary.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("primary store: %w", err)
	}
	for _, mirror := range m.mirrors {
		mirrorURI, err := mirror.PutObject(ctx, path, contentType, bytes.NewReader(body))
		if err != nil {
			m.logger.Warn("mirror write failed", zap.String("path", path), zap.Error(err))
			continue
		}
		m.logger.Debug("mirrored artifact", zap.String("uri", mirrorURI))
	}
	return uri, nil
}
