package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	var status, distribution, article string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tests",
		Long:  `List tests with their status and traffic totals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				ctx := cmd.Context()
				tests, err := a.store.ListTests(ctx, store.TestFilter{
					Status:       store.TestStatus(status),
					Distribution: store.Distribution(distribution),
					ArticleID:    article,
				})
				if err != nil {
					return fmt.Errorf("failed to list tests: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(tests) == 0 {
					fmt.Fprintln(out, "No tests yet.")
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Create one with: agt create <article-id> --name \"Hero headline\"")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tARTICLE\tNAME\tTYPE\tSTATUS\tMODE\tVARIANTS\tVIEWS\tCONVERSIONS\tCREATED")

				for _, test := range tests {
					variants, err := a.store.ListVariants(ctx, test.ID)
					if err != nil {
						return fmt.Errorf("failed to get variants for test %s: %w", test.ID, err)
					}

					totalViews, totalConversions := 0, 0
					for _, v := range variants {
						totalViews += v.Views
						totalConversions += v.Conversions
					}

					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
						test.ID,
						test.ArticleID,
						test.Name,
						test.Type,
						strings.ToUpper(string(test.Status)),
						test.Distribution,
						len(variants),
						formatNumber(totalViews),
						formatNumber(totalConversions),
						test.CreatedAt.Format("2006-01-02"),
					)
				}

				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only tests with this status")
	cmd.Flags().StringVar(&distribution, "distribution", "", "only manual or auto-pilot tests")
	cmd.Flags().StringVar(&article, "article", "", "only tests for this article id")

	return cmd
}
