package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(
		newTransitionCmd("start", "Start a draft test", (*app).start),
		newTransitionCmd("pause", "Pause a running test", (*app).pause),
		newTransitionCmd("resume", "Resume a paused test", (*app).resume),
	)
}

type transitionFunc func(a *app, ctx context.Context, testID string) (*store.Test, error)

func (a *app) start(ctx context.Context, testID string) (*store.Test, error) {
	return a.experiments.Start(ctx, testID)
}

func (a *app) pause(ctx context.Context, testID string) (*store.Test, error) {
	return a.experiments.Pause(ctx, testID)
}

func (a *app) resume(ctx context.Context, testID string) (*store.Test, error) {
	return a.experiments.Resume(ctx, testID)
}

func newTransitionCmd(use, short string, fn transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <test-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				test, err := fn(a, cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to %s test: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Test '%s' is now %s\n", test.Name, test.Status)
				return nil
			})
		},
	}
}
