package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "publish <test-id>",
		Short: "Regenerate and upload the artifact for a test's article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				ref, err := a.publisher.Publish(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published %s (%d running tests)\n", ref.Path, ref.Tests)
				if ref.URL != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", ref.URL)
				}
				return nil
			})
		},
	})
}
