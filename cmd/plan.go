package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docharvest/internal/app"
)

func newPlanCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which URLs a harvest would process, without fetching anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.cfg.RequirePaths(); err != nil {
				return err
			}

			plan, err := app.BuildPlan(rt.cfg, app.CheckpointPolicy(rt.cfg), rt.logger)
			if err != nil {
				return err
			}
			return printPlan(cmd, plan, list)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list every pending URL")
	return cmd
}

func printPlan(cmd *cobra.Command, plan *app.RunPlan, list bool) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "url column\t%s\n", plan.URLColumn)
	fmt.Fprintf(w, "urls in input\t%d\n", plan.Total)
	fmt.Fprintf(w, "to process\t%d\n", len(plan.Work))
	fmt.Fprintf(w, "  retries\t%d\n", plan.Retried)
	fmt.Fprintf(w, "already done\t%d\n", plan.Skipped)
	fmt.Fprintf(w, "carried rows\t%d\n", len(plan.Carried))
	if plan.Limited > 0 {
		fmt.Fprintf(w, "over limit\t%d\n", plan.Limited)
	}
	if list {
		fmt.Fprintln(w)
		for _, item := range plan.Work {
			fmt.Fprintf(w, "%s\t%s\n", item.Hint(), item.URL)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
