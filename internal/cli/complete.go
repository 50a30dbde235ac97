package cli

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newCompleteCmd())
}

func newCompleteCmd() *cobra.Command {
	var (
		winnerID string
		noWinner bool
	)

	cmd := &cobra.Command{
		Use:     "complete <test-id>",
		Aliases: []string{"winner"},
		Short:   "Complete a test and declare a winner",
		Long: `Complete a running or paused test. Completed tests are frozen and no
longer appear in the published artifact.

Without --winner you are asked to pick one. Use --no-winner to keep
whatever auto-pilot chose.

Example:
  agt complete 3f2a... --winner 9c1d...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if winnerID != "" && noWinner {
				return fmt.Errorf("use --winner OR --no-winner, not both")
			}

			return withApp(cmd.Context(), func(a *app) error {
				ctx := cmd.Context()
				test, variants, err := a.experiments.GetTest(ctx, args[0])
				if err != nil {
					return fmt.Errorf("test not found: %s", args[0])
				}

				var winner *string
				switch {
				case winnerID != "":
					winner = &winnerID
				case !noWinner:
					picked, err := promptWinner(variants)
					if err != nil {
						return err
					}
					winner = picked
				}

				test, err = a.experiments.Complete(ctx, test.ID, winner)
				if err != nil {
					return fmt.Errorf("failed to complete test: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Test '%s' has been marked as completed.\n", test.Name)
				if test.WinningVariantID != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Winner: %s\n", *test.WinningVariantID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&winnerID, "winner", "w", "", "winning variant id")
	cmd.Flags().BoolVar(&noWinner, "no-winner", false, "complete without declaring a winner")

	return cmd
}

// promptWinner asks for the winning variant. A nil result means no winner.
func promptWinner(variants []*store.Variant) (*string, error) {
	items := make([]string, 0, len(variants)+1)
	for _, v := range variants {
		label := fmt.Sprintf("%s (%s views, %s conv.)", v.Name, formatNumber(v.Views), formatPercent(v.ConversionRate))
		if v.IsControl {
			label += " [control]"
		}
		items = append(items, label)
	}
	items = append(items, "No winner")

	prompt := promptui.Select{
		Label: "Winning variant",
		Items: items,
		Size:  len(items),
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return nil, fmt.Errorf("aborted")
		}
		return nil, err
	}
	if idx == len(variants) {
		return nil, nil
	}
	return &variants[idx].ID, nil
}
