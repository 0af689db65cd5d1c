// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/metrics"
)

const engineName = "chromedp"

// Config controls browser startup and page interaction.
type Config struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string
	// ShowWindow runs Chrome with a visible window.
	ShowWindow        bool
	UserAgents        []string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	// SettleMin and SettleMax bound the pause after navigation before interacting.
	SettleMin   time.Duration
	SettleMax   time.Duration
	ScrollPause time.Duration
	// ReadyTimeout bounds the wait for document.readyState to become complete.
	ReadyTimeout time.Duration
}

func (c *Config) setDefaults() {
	if len(c.UserAgents) == 0 {
		c.UserAgents = crawler.DefaultUserAgents
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.SettleMax < c.SettleMin {
		c.SettleMax = c.SettleMin
	}
}

// Pool hands out one Chrome instance per caller. Starting and stopping
// browsers is serialized through a weighted semaphore so concurrent workers
// do not launch Chrome processes all at once.
type Pool struct {
	cfg         Config
	gate        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
	live        atomic.Int32
}

// NewPool prepares an exec allocator. No browser starts until Open.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Pool{
		cfg:         cfg,
		gate:        semaphore.NewWeighted(1),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("headless"),
	}
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.ShowWindow {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-plugins", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Open starts a fresh browser with a random user agent and the webdriver
// flag hidden. The caller owns the returned Browser and must Close it.
func (p *Pool) Open(ctx context.Context) (crawler.Browser, error) {
	if err := p.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire browser gate: %w", err)
	}
	defer p.gate.Release(1)

	browserCtx, cancel := chromedp.NewContext(p.allocator)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	ua := crawler.RandomUserAgent(p.cfg.UserAgents)
	// The first Run launches Chrome and binds it to browserCtx.
	if err := chromedp.Run(browserCtx, setupAction(ua)); err != nil {
		cancel()
		metrics.ObserveBrowserOpen(engineName, "error")
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	metrics.ObserveBrowserOpen(engineName, "ok")
	live := p.live.Add(1)
	p.logger.Debug("browser started", zap.Int32("live", live))

	return &session{
		pool:   p,
		ctx:    browserCtx,
		cancel: cancel,
		logger: p.logger,
	}, nil
}

// Live reports the number of open browsers.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Close shuts down the allocator and any browser still attached to it.
func (p *Pool) Close() error {
	p.allocCancel()
	return nil
}

func (p *Pool) release(s *session) {
	// Shutdown is serialized like startup.
	if err := p.gate.Acquire(context.Background(), 1); err == nil {
		defer p.gate.Release(1)
	}
	if err := chromedp.Cancel(s.ctx); err != nil {
		s.logger.Debug("browser close", zap.Error(err))
	}
	s.cancel()
	p.live.Add(-1)
}

const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

func setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx); err != nil {
			return fmt.Errorf("install webdriver override: %w", err)
		}
		return nil
	})
}
