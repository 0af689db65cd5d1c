// Package cmd defines the docharvest command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/app"
	"github.com/JakeFAU/docharvest/internal/config"
	"github.com/JakeFAU/docharvest/internal/logging"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries what every subcommand needs after flags are parsed.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// Harvester is the part of the application the harvest command drives.
type Harvester interface {
	Harvest(ctx context.Context) (*app.HarvestResult, error)
	Close()
}

// newHarvester is the application factory. It's a variable so tests can
// substitute a fake.
var newHarvester = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Harvester, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

type rootFlags struct {
	configFile string
	input      string
	output     string
	urlColumn  string
	limit      int
	fresh      bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "docharvest",
		Short: "Harvest policy documents and page text from a table of URLs.",
		Long: `docharvest reads a CSV or XLSX table of seed URLs, walks each site for
relevant pages and documents, downloads and extracts their text, and writes the
input table back out with extraction results appended. Runs are resumable: the
output table doubles as the checkpoint.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)

			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File:        cfg.Logging.File,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVarP(&flags.input, "input", "i", "", "input table (.csv or .xlsx), overrides input.path")
	pf.StringVarP(&flags.output, "output", "o", "", "output table and checkpoint, overrides output.path")
	pf.StringVar(&flags.urlColumn, "url-column", "", "column holding seed URLs, overrides input.url_column")
	pf.IntVar(&flags.limit, "limit", 0, "process at most this many pending URLs")
	pf.BoolVar(&flags.fresh, "fresh", false, "ignore any prior output and process every URL")

	cmd.AddCommand(newHarvestCmd(), newPlanCmd())
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f rootFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("input") {
		cfg.Input.Path = f.input
	}
	if changed("output") {
		cfg.Output.Path = f.output
	}
	if changed("url-column") {
		cfg.Input.URLColumn = f.urlColumn
	}
	if changed("limit") {
		cfg.Input.Limit = f.limit
	}
	if changed("fresh") && f.fresh {
		cfg.Checkpoint.Resume = false
	}
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docharvest:", err)
		os.Exit(1)
	}
}
