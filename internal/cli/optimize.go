package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/autopilot"
)

func init() {
	rootCmd.AddCommand(newOptimizeCmd())
}

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize [test-id]",
		Short: "Run auto-pilot now",
		Long: `Run one auto-pilot pass. With a test id only that test is evaluated;
without one every running auto-pilot test is, exactly like a scheduled run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				if len(args) == 1 {
					outcome, err := a.optimizer.Optimize(ctx, args[0])
					if outcome != nil {
						printOutcome(out, outcome)
					}
					return err
				}

				scheduler := autopilot.NewScheduler(a.store, a.optimizer, a.cfg.AutoPilot.Interval, a.cfg.AutoPilot.Concurrency)
				outcomes, err := scheduler.RunOnce(ctx)
				if len(outcomes) == 0 && err == nil {
					fmt.Fprintln(out, "No running auto-pilot tests.")
				}
				for _, o := range outcomes {
					printOutcome(out, o)
				}
				return err
			})
		},
	}
}

func printOutcome(out io.Writer, o *autopilot.Outcome) {
	switch {
	case o.Skipped != "":
		fmt.Fprintf(out, "%s: skipped (%s, %s views)\n", o.TestID, o.Skipped, formatNumber(o.TotalViews))
	case !o.Reallocated:
		fmt.Fprintf(out, "%s: no significant winner yet (%s views)\n", o.TestID, formatNumber(o.TotalViews))
	default:
		fmt.Fprintf(out, "%s: winner %s, traffic reallocated\n", o.TestID, o.WinnerID)
		ids := make([]string, 0, len(o.Traffic))
		for id := range o.Traffic {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "  %s  %.1f%%\n", id, o.Traffic[id])
		}
	}
}
