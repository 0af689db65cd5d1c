// Package dispatcher fans work items out to a bounded pool of processors and
// reports progress as results complete.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

// Processor turns one work item into a result record.
type Processor interface {
	Process(ctx context.Context, item crawler.WorkItem) crawler.ResultRecord
}

// FailureRecorder is implemented by processors that shape their own failed
// records. The dispatcher uses it when Process panics.
type FailureRecorder interface {
	Failed(item crawler.WorkItem, err error) crawler.ResultRecord
}

// Config controls dispatch.
type Config struct {
	Concurrency int
	// DelayMin and DelayMax bound the pause a slot takes after each item.
	DelayMin time.Duration
	DelayMax time.Duration
	// ShutdownGrace is how long in-flight items may run after an interrupt
	// before their context is canceled.
	ShutdownGrace time.Duration
}

// Report is the outcome of a Run.
type Report struct {
	// Records holds one result per finished item, in completion order.
	Records     []crawler.ResultRecord
	Interrupted bool
	Elapsed     time.Duration
}

// Dispatcher runs a Processor over work items.
type Dispatcher struct {
	cfg    Config
	proc   Processor
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Dispatcher.
func New(cfg Config, proc Processor, clock crawler.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, proc: proc, clock: clock, logger: logger.Named("dispatcher")}
}

// Run processes items with at most Concurrency in flight. onResult, when
// set, is called once per finished item, never concurrently. Canceling ctx
// stops new items from starting; items already running keep going for
// ShutdownGrace and are then canceled. Items never started are simply absent
// from the report.
func (d *Dispatcher) Run(ctx context.Context, items []crawler.WorkItem, onResult func(crawler.ResultRecord)) Report {
	start := d.now()
	total := len(items)

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopGrace := context.AfterFunc(ctx, func() {
		d.logger.Warn("interrupt received, waiting for in-flight items",
			zap.Duration("grace", d.cfg.ShutdownGrace))
		if d.cfg.ShutdownGrace <= 0 {
			cancelWork()
			return
		}
		time.AfterFunc(d.cfg.ShutdownGrace, cancelWork)
	})
	defer stopGrace()

	var (
		mu       sync.Mutex
		progress = newProgress(total, d.cfg.Concurrency)
		records  = make([]crawler.ResultRecord, 0, total)
	)
	slots := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	var g errgroup.Group

	d.logger.Info("dispatch started", zap.Int("items", total), zap.Int("concurrency", d.cfg.Concurrency))
	for _, item := range items {
		// Acquire may succeed on a done context, so check first
		if ctx.Err() != nil {
			break
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer slots.Release(1)
			rec := d.processOne(workCtx, item)

			mu.Lock()
			records = append(records, rec)
			progress.add(rec, d.now().Sub(start))
			if onResult != nil {
				onResult(rec)
			}
			d.logger.Info("item completed", progress.fields(rec)...)
			mu.Unlock()

			// the pause holds the slot; an interrupt cuts it short
			_ = crawler.Sleep(ctx, crawler.Jitter(d.cfg.DelayMin, d.cfg.DelayMax)) //nolint:errcheck // interrupt ends the pause early
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	report := Report{Records: records, Interrupted: ctx.Err() != nil, Elapsed: d.now().Sub(start)}
	if report.Interrupted {
		d.logger.Warn("dispatch interrupted",
			zap.Int("completed", len(records)),
			zap.Int("not_started", total-len(records)))
	}
	return report
}

// processOne isolates a panicking processor to its own item.
func (d *Dispatcher) processOne(ctx context.Context, item crawler.WorkItem) (rec crawler.ResultRecord) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("processor panicked", zap.Int("item", item.ID), zap.Any("panic", r))
			err := fmt.Errorf("processor panic: %v", r)
			if fr, ok := d.proc.(FailureRecorder); ok {
				rec = fr.Failed(item, err)
				return
			}
			rec = crawler.ResultRecord{
				Item:        item,
				Outcome:     crawler.ProcessingOutcome{Method: crawler.MethodFailed, Err: err},
				Status:      crawler.StatusFailed,
				Relevance:   crawler.RelevanceFailed,
				Filename:    item.Hint() + ".txt",
				DisplayText: "[ERROR] " + err.Error(),
			}
		}
	}()
	return d.proc.Process(ctx, item)
}

func (d *Dispatcher) now() time.Time {
	if d.clock != nil {
		return d.clock.Now()
	}
	return time.Now()
}
