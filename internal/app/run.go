package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/checkpoint"
	"github.com/JakeFAU/docharvest/internal/config"
	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/dispatcher"
	"github.com/JakeFAU/docharvest/internal/metrics"
	"github.com/JakeFAU/docharvest/internal/table"
)

// RunPlan is the work set of a run together with the tables it came from.
type RunPlan struct {
	checkpoint.Plan
	Input     *table.Table
	URLColumn string
	// Total counts input rows with a usable URL.
	Total int
	// Limited counts work items dropped by input.limit.
	Limited int
}

// HarvestResult describes a finished or interrupted run.
type HarvestResult struct {
	Plan        *RunPlan
	Summary     dispatcher.Summary
	Interrupted bool
	Output      string
}

// CheckpointPolicy derives the resume policy from the checkpoint section.
func CheckpointPolicy(cfg config.Config) checkpoint.Policy {
	policy := checkpoint.DefaultPolicy()
	if len(cfg.Checkpoint.DoneTokens) > 0 {
		policy.DoneTokens = cfg.Checkpoint.DoneTokens
	}
	policy.WarningIsDone = cfg.Checkpoint.WarningIsDone
	return policy
}

// BuildPlan reads the input table and, when resuming, the prior output, and
// decides which URLs still need work.
func BuildPlan(cfg config.Config, policy checkpoint.Policy, logger *zap.Logger) (*RunPlan, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	input, err := table.Read(cfg.Input.Path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	for from, to := range input.ReserveColumns(crawler.ResultColumns) {
		logger.Warn("input column renamed to keep result columns apart",
			zap.String("column", from),
			zap.String("renamed_to", to),
		)
	}

	urlColumn := cfg.Input.URLColumn
	if urlColumn == "" {
		urlColumn, err = input.FindURLColumn(cfg.Input.URLColumns)
		if err != nil {
			return nil, fmt.Errorf("detect url column in %s: %w", cfg.Input.Path, err)
		}
	} else if !hasColumn(input.Columns, urlColumn) {
		return nil, fmt.Errorf("input %s has no column %q: %w", cfg.Input.Path, urlColumn, table.ErrNoURLColumn)
	}
	items := input.WorkItems(urlColumn)

	var prior []crawler.Row
	priorURLColumn := urlColumn
	if cfg.Checkpoint.Resume && table.Exists(cfg.Output.Path) {
		previous, err := table.Read(cfg.Output.Path)
		if err != nil {
			return nil, fmt.Errorf("read prior output: %w", err)
		}
		candidates := append([]string{urlColumn}, cfg.Input.URLColumns...)
		priorURLColumn, err = previous.FindURLColumn(candidates)
		if err != nil {
			return nil, fmt.Errorf("detect url column in prior output: %w", err)
		}
		prior = previous.Rows
		logger.Info("resuming from prior output",
			zap.String("path", cfg.Output.Path),
			zap.Int("rows", len(prior)),
		)
	}

	plan := &RunPlan{
		Plan:      policy.Build(items, prior, priorURLColumn, urlColumn),
		Input:     input,
		URLColumn: urlColumn,
		Total:     len(items),
	}
	if limit := cfg.Input.Limit; limit > 0 && len(plan.Work) > limit {
		plan.Limited = len(plan.Work) - limit
		plan.Work = plan.Work[:limit]
	}
	metrics.SetPlan(len(plan.Work), len(plan.Carried), plan.Skipped)

	logger.Info("run planned",
		zap.String("url_column", urlColumn),
		zap.Int("urls", plan.Total),
		zap.Int("work", len(plan.Work)),
		zap.Int("carried", len(plan.Carried)),
		zap.Int("skipped", plan.Skipped),
		zap.Int("retried", plan.Retried),
		zap.Int("limited", plan.Limited),
	)
	return plan, nil
}

// Plan builds the work set using the app's checkpoint policy.
func (a *App) Plan() (*RunPlan, error) {
	return BuildPlan(a.cfg, a.policy, a.logger)
}

// Harvest plans the run, processes every pending URL and writes the merged
// output table. The output is flushed every output.flush_every completions
// and always written before returning, including on interrupt.
func (a *App) Harvest(ctx context.Context) (*HarvestResult, error) {
	plan, err := a.Plan()
	if err != nil {
		return nil, err
	}
	res := &HarvestResult{Plan: plan, Output: a.cfg.Output.Path}
	if len(plan.Work) == 0 {
		a.logger.Info("nothing to process")
		if err := a.persist(plan, nil); err != nil {
			return res, err
		}
		res.Summary = dispatcher.Summarize(nil, a.cfg.Report.WarningCountsAsFailure, 0)
		return res, nil
	}

	var fresh []crawler.Row
	flushEvery := a.cfg.Output.FlushEvery
	onResult := func(rec crawler.ResultRecord) {
		fresh = append(fresh, rec.Row())
		if flushEvery > 0 && len(fresh)%flushEvery == 0 {
			if err := a.persist(plan, fresh); err != nil {
				a.logger.Error("checkpoint flush failed", zap.Error(err))
			}
		}
	}

	report := a.dispatcher.Run(ctx, plan.Work, onResult)
	res.Interrupted = report.Interrupted
	if report.Interrupted {
		a.logger.Warn("run interrupted, saving progress",
			zap.Int("completed", len(report.Records)),
			zap.Int("pending", len(plan.Work)-len(report.Records)),
		)
	}

	persistErr := a.persist(plan, fresh)
	res.Summary = dispatcher.Summarize(report.Records, a.cfg.Report.WarningCountsAsFailure, report.Elapsed)
	res.Summary.Log(a.logger)
	if persistErr != nil {
		return res, persistErr
	}
	if report.Interrupted {
		return res, fmt.Errorf("harvest: %w", errors.Join(ErrInterrupted, context.Cause(ctx)))
	}
	return res, nil
}

// ErrInterrupted is returned by Harvest when the run stopped before every
// pending URL was processed. Progress has been saved.
var ErrInterrupted = errors.New("run interrupted")

// persist merges carried and fresh rows and writes the output table.
func (a *App) persist(plan *RunPlan, fresh []crawler.Row) error {
	start := time.Now()
	rows := checkpoint.Merge(plan.Carried, fresh, plan.URLColumn)
	base := append(append([]string{}, plan.Input.Columns...), crawler.ResultColumns...)
	if err := table.Write(a.cfg.Output.Path, table.New(base, rows)); err != nil {
		metrics.ObserveCheckpointFlush("error")
		return fmt.Errorf("write output %s: %w", a.cfg.Output.Path, err)
	}
	metrics.ObserveCheckpointFlush("success")
	a.logger.Debug("output saved",
		zap.String("path", a.cfg.Output.Path),
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}
