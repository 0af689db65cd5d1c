package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

// fallbackFactory opens browsers from primary until it fails to start one,
// then switches to secondary for the rest of the run.
type fallbackFactory struct {
	primary   crawler.BrowserFactory
	secondary crawler.BrowserFactory
	logger    *zap.Logger

	mu       sync.Mutex
	degraded bool
}

func newFallbackFactory(primary, secondary crawler.BrowserFactory, logger *zap.Logger) *fallbackFactory {
	return &fallbackFactory{primary: primary, secondary: secondary, logger: logger}
}

func (f *fallbackFactory) Open(ctx context.Context) (crawler.Browser, error) {
	f.mu.Lock()
	degraded := f.degraded
	f.mu.Unlock()

	if !degraded {
		browser, err := f.primary.Open(ctx)
		if err == nil {
			return browser, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open browser: %w", err)
		}
		f.mu.Lock()
		if !f.degraded {
			f.degraded = true
			f.logger.Warn("headless browser unavailable, switching to static rendering", zap.Error(err))
		}
		f.mu.Unlock()
	}
	browser, err := f.secondary.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open fallback browser: %w", err)
	}
	return browser, nil
}

// Degraded reports whether the fallback engine is in use.
func (f *fallbackFactory) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}
