package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/experiment"
	"github.com/headline-goat/article-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		name          string
		slug          string
		testType      string
		distribution  string
		goal          string
		minSample     int
		confidence    float64
		controlName   string
		templateID    string
		data, changes []string
	)

	cmd := &cobra.Command{
		Use:   "create <article-id>",
		Short: "Create a new test for an article",
		Long: `Create a draft test for an article. The test starts with a single
control variant holding 100% of traffic; add challengers with 'agt variant add'.

Examples:
  agt create post-42 --name "Hero headline"
  agt create post-42 --name "Signup CTA" --type cta --goal click-through \
    --change headline="Ship faster" --change cta_url=https://example.com/signup
  agt create post-42 --name "Layout" --type layout --distribution auto-pilot \
    --template tpl-1 --data title="Original title"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataMap, err := parsePairs(data)
			if err != nil {
				return err
			}
			changeMap, err := parsePairs(changes)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), func(a *app) error {
				test, control, err := a.experiments.CreateTest(cmd.Context(), experiment.CreateTestInput{
					ArticleID:       args[0],
					ArticleSlug:     slug,
					Name:            name,
					Type:            store.TestType(testType),
					Distribution:    store.Distribution(distribution),
					Goal:            store.Goal(goal),
					MinSampleSize:   minSample,
					ConfidenceLevel: confidence,
					Control: experiment.VariantInput{
						Name:    controlName,
						Content: contentFromFlags(templateID, dataMap, changeMap),
					},
				})
				if err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created test '%s' (%s) for article %s\n", test.Name, test.ID, test.ArticleID)
				fmt.Fprintf(out, "  Type: %s  Distribution: %s  Goal: %s\n", test.Type, test.Distribution, test.Goal)
				fmt.Fprintf(out, "  Control: %s (%s)\n", control.Name, control.ID)
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Add a challenger with: agt variant add %s --name B --change headline=...\n", test.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "test name (required)")
	cmd.Flags().StringVar(&slug, "slug", "", "article slug used for the artifact path (defaults to the article id)")
	cmd.Flags().StringVarP(&testType, "type", "t", "", "headline, cta, image, layout or full-page")
	cmd.Flags().StringVar(&distribution, "distribution", "", "manual or auto-pilot")
	cmd.Flags().StringVar(&goal, "goal", "", "conversions, engagement, click-through or time-on-page")
	cmd.Flags().IntVar(&minSample, "min-sample", 0, "minimum total views before auto-pilot acts")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence level, e.g. 0.95")
	cmd.Flags().StringVar(&controlName, "control-name", "Control", "name of the control variant")
	cmd.Flags().StringVar(&templateID, "template", "", "template id for the control content")
	cmd.Flags().StringArrayVar(&data, "data", nil, "template data as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&changes, "change", nil, "content override as key=value (repeatable)")
	cmd.MarkFlagRequired("name")

	return cmd
}
