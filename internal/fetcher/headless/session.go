package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

// session is one Chrome instance owned by a single worker.
type session struct {
	pool   *Pool
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	once   sync.Once
}

// Visit navigates, clears overlays, scrolls to trigger lazy content and
// returns the rendered DOM.
func (s *session) Visit(ctx context.Context, rawURL string) (crawler.Page, error) {
	cfg := s.pool.cfg
	taskCtx, cancel := context.WithTimeout(s.ctx, cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, finalURL string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		pause(crawler.Jitter(cfg.SettleMin, cfg.SettleMax)),
		s.interact(cfg.ScrollPause),
		s.waitComplete(cfg.ReadyTimeout),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return crawler.Page{URL: rawURL, FinalURL: finalURL, HTML: html}, nil
}

// Cookies returns every cookie the browser holds.
func (s *session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	taskCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw []*network.Cookie
	err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return convertCookies(raw), nil
}

// Close stops the browser. It is safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() { s.pool.release(s) })
	return nil
}

func convertCookies(raw []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, cookie)
	}
	return out
}

func pause(d time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return crawler.Sleep(ctx, d)
	})
}

// interact dismisses consent and newsletter overlays, then scrolls through
// the page in thirds. Failures here never fail the visit.
func (s *session) interact(scrollPause time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var dismissed bool
		if err := chromedp.Evaluate(dismissOverlaysJS, &dismissed).Do(ctx); err != nil {
			s.logger.Debug("overlay script failed", zap.Error(err))
		}
		if !dismissed {
			if err := chromedp.KeyEvent(kb.Escape).Do(ctx); err != nil {
				s.logger.Debug("escape key failed", zap.Error(err))
			}
		}
		for i, fraction := range scrollFractions {
			if err := chromedp.Evaluate(fmt.Sprintf(scrollJS, fraction), nil).Do(ctx); err != nil {
				s.logger.Debug("scroll failed", zap.Error(err))
			}
			d := scrollPause
			if i == len(scrollFractions)-1 {
				d *= 2
			}
			if err := crawler.Sleep(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) waitComplete(timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var ready bool
		if err := chromedp.Poll(readyStateJS, &ready, chromedp.WithPollingTimeout(timeout)).Do(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Debug("page never reached readyState complete", zap.Error(err))
		}
		return nil
	})
}
