package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/app"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Process every pending URL and write the output table",
		Long: `Plans the run against the prior output, processes each pending URL, and
saves progress periodically. On SIGINT or SIGTERM no new URLs are started, URLs
in progress get run.shutdown_grace_seconds to finish, and the output is saved.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	if err := rt.cfg.RequirePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	harvester, err := newHarvester(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer harvester.Close()

	res, err := harvester.Harvest(ctx)
	if res != nil {
		fmt.Fprint(cmd.OutOrStdout(), res.Summary.String())
		fmt.Fprintf(cmd.OutOrStdout(), "  output:             %s\n", res.Output)
	}
	switch {
	case err == nil:
		rt.logger.Info("harvest finished")
		return nil
	case errors.Is(err, app.ErrInterrupted):
		rt.logger.Warn("harvest interrupted; rerun to resume", zap.Error(context.Cause(ctx)))
		return err
	default:
		return fmt.Errorf("run harvest: %w", err)
	}
}
