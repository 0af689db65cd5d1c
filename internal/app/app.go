// Package app builds the harvest pipeline from configuration and holds its
// long-lived services for the duration of one run.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/checkpoint"
	"github.com/JakeFAU/docharvest/internal/clock/system"
	"github.com/JakeFAU/docharvest/internal/config"
	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/dispatcher"
	"github.com/JakeFAU/docharvest/internal/downloader"
	"github.com/JakeFAU/docharvest/internal/extract"
	collyfetcher "github.com/JakeFAU/docharvest/internal/fetcher/colly"
	"github.com/JakeFAU/docharvest/internal/fetcher/document"
	"github.com/JakeFAU/docharvest/internal/fetcher/headless"
	"github.com/JakeFAU/docharvest/internal/id/uuid"
	"github.com/JakeFAU/docharvest/internal/metrics"
	"github.com/JakeFAU/docharvest/internal/navigator"
	"github.com/JakeFAU/docharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/docharvest/internal/relevance"
	"github.com/JakeFAU/docharvest/internal/storage"
	"github.com/JakeFAU/docharvest/internal/storage/gcs"
	"github.com/JakeFAU/docharvest/internal/storage/local"
	"github.com/JakeFAU/docharvest/internal/worker"
)

// Options override collaborators, mostly for tests. Nil fields are built
// from configuration.
type Options struct {
	Browsers crawler.BrowserFactory
	Clock    crawler.Clock
}

// App holds the services shared by a run.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      crawler.Clock
	runID      string
	policy     checkpoint.Policy
	worker     *worker.Worker
	dispatcher *dispatcher.Dispatcher
	closers    []func() error
	metricsSrv *metrics.Server
}

// New wires every component described by cfg. The returned App must be closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: opts.Clock}
	if a.clock == nil {
		a.clock = system.New()
	}

	ids := uuid.New()
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.runID = runID
	a.logger = logger.With(zap.String("run_id", runID))

	a.policy = CheckpointPolicy(cfg)

	keywords := cfg.Relevance.Keywords
	if len(keywords) == 0 {
		keywords = relevance.DefaultKeywords
	}
	scorer := relevance.NewScorer(keywords)

	texts, err := a.textStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	browsers := opts.Browsers
	if browsers == nil {
		browsers = a.browserFactory()
	}

	navMin, navMax := cfg.NavigationDelay()
	nav := navigator.New(navigator.Config{
		MaxLinksPerPage:  cfg.Navigation.MaxLinksPerPage,
		MinContentLength: cfg.Navigation.MinContentLength,
		ContentSelectors: cfg.Navigation.ContentSelectors,
		DelayMin:         navMin,
		DelayMax:         navMax,
	}, scorer, a.clock, a.logger)

	baseDelay, maxDelay := cfg.Backoff()
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Download.PerHostRPS,
		DefaultBurst: cfg.Download.PerHostBurst,
	})
	documents := document.New(document.Config{
		Timeout:              cfg.DownloadTimeout(),
		MaxBytes:             cfg.Download.MaxBytes,
		SkipExistingMinBytes: cfg.Download.SkipExistingMinBytes,
		UserAgents:           cfg.Render.UserAgents,
		MaxAttempts:          cfg.Download.MaxAttempts,
		BaseDelay:            baseDelay,
		MaxDelay:             maxDelay,
	}, limiter, a.clock, ids, a.logger)

	a.worker = worker.New(worker.Config{
		MaxDepth:            cfg.EffectiveMaxDepth(),
		DownloadConcurrency: cfg.Download.Concurrency,
		MaxDocuments:        cfg.Download.MaxPerItem,
		DocumentDir:         cfg.Output.DocumentDir,
		DownloadTimeout:     cfg.DownloadTimeout(),
		TitleColumn:         cfg.Input.TitleColumn,
		CountryColumn:       cfg.Input.CountryColumn,
		ContentSelectors:    cfg.Navigation.ContentSelectors,
		MinDocumentText:     cfg.Result.MinDocumentText,
		MinFallbackText:     cfg.Result.MinFallbackText,
		MinTextLength:       cfg.Result.MinTextLength,
		MaxCellChars:        cfg.Result.MaxCellChars,
		DisplayInlineMax:    cfg.Result.DisplayInlineMax,
	}, worker.Deps{
		Browsers:  browsers,
		Navigator: nav,
		Documents: documents,
		Downloads: downloader.New(scorer, a.logger),
		Extractor: extract.New(a.logger),
		Texts:     texts,
		Scorer:    scorer,
		Clock:     a.clock,
	}, a.logger)

	runMin, runMax := cfg.RunDelay()
	a.dispatcher = dispatcher.New(dispatcher.Config{
		Concurrency:   cfg.Run.Concurrency,
		DelayMin:      runMin,
		DelayMax:      runMax,
		ShutdownGrace: cfg.ShutdownGrace(),
	}, a.worker, a.clock, a.logger)

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Start(cfg.Metrics.Addr, a.logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		a.metricsSrv = srv
	}

	a.logger.Info("application services initialized",
		zap.String("engine", cfg.Render.Engine),
		zap.Int("concurrency", cfg.Run.Concurrency),
		zap.Int("max_depth", cfg.EffectiveMaxDepth()),
	)
	return a, nil
}

// textStore writes text artifacts to the local text dir, mirrored to GCS when a bucket is set.
func (a *App) textStore(ctx context.Context) (crawler.BlobStore, error) {
	primary, err := local.New(local.Config{BaseDir: a.cfg.Output.TextDir})
	if err != nil {
		return nil, fmt.Errorf("init text store: %w", err)
	}
	if a.cfg.Storage.GCSBucket == "" {
		return primary, nil
	}
	mirror, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
	if err != nil {
		return nil, fmt.Errorf("init gcs mirror: %w", err)
	}
	a.closers = append(a.closers, mirror.Close)
	a.logger.Info("mirroring text artifacts to gcs", zap.String("bucket", a.cfg.Storage.GCSBucket))
	return storage.NewMirrored(primary, a.logger, mirror), nil
}

func (a *App) browserFactory() crawler.BrowserFactory {
	render := a.cfg.Render
	static := collyfetcher.NewFactory(collyfetcher.Config{
		UserAgents:  render.UserAgents,
		Timeout:     time.Duration(render.NavTimeoutSeconds) * time.Second,
		MaxBodySize: render.MaxBodyBytes,
	})
	if render.Engine == config.EngineStatic {
		return static
	}

	pool := headless.NewPool(headless.Config{
		ExecPath:          render.ExecPath,
		ShowWindow:        render.ShowWindow,
		UserAgents:        render.UserAgents,
		NavigationTimeout: time.Duration(render.NavTimeoutSeconds) * time.Second,
		SettleMin:         time.Duration(render.SettleMinMs) * time.Millisecond,
		SettleMax:         time.Duration(render.SettleMaxMs) * time.Millisecond,
		ScrollPause:       time.Duration(render.ScrollPauseMs) * time.Millisecond,
		ReadyTimeout:      time.Duration(render.ReadyTimeoutSeconds) * time.Second,
	}, a.logger)
	a.closers = append(a.closers, pool.Close)
	if !render.FallbackStatic {
		return pool
	}
	return newFallbackFactory(pool, static, a.logger)
}

// RunID identifies this run in logs and sidecars.
func (a *App) RunID() string {
	return a.runID
}

// Close releases browsers, storage clients and the metrics server.
func (a *App) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("error stopping metrics server", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
