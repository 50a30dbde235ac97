package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/stats"
)

var resultsCmd = &cobra.Command{
	Use:   "results <test-id>",
	Short: "Show detailed results for a test",
	Long:  `Show detailed results including conversion rates, confidence intervals and significance against the control.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		test, variants, err := a.experiments.GetTest(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get test: %w", err)
		}

		result := stats.Analyze(test, variants)
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "TEST: %s (%s)\n", test.Name, test.ID)
		fmt.Fprintf(out, "ARTICLE: %s\n", test.ArticleID)
		fmt.Fprintf(out, "STATUS: %s  MODE: %s  GOAL: %s\n", test.Status, test.Distribution, test.Goal)
		fmt.Fprintf(out, "CREATED: %s\n", test.CreatedAt.Format("2006-01-02"))
		fmt.Fprintln(out)

		fmt.Fprintln(out, "VARIANT           TRAFFIC  VIEWS    CLICKS   CONVERSIONS  RATE     95% CI            P-VALUE")
		fmt.Fprintln(out, strings.Repeat("─", 96))

		for _, v := range result.Variants {
			indicator := ""
			switch {
			case v.IsControl:
				indicator = " (control)"
			case v.ID == result.LeadingVariantID:
				indicator = " ← LEADING"
			}
			if test.WinningVariantID != nil && *test.WinningVariantID == v.ID {
				indicator += " ★ WINNER"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Views == 0 {
				ciStr = "N/A"
			}
			pStr := "-"
			if !v.IsControl && v.Views > 0 {
				pStr = fmt.Sprintf("%.4f", v.PValue)
			}

			name := v.Name
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			fmt.Fprintf(out, "%-16s  %-7s  %-7d  %-7d  %-11d  %-7s  %-16s  %s%s\n",
				name,
				fmt.Sprintf("%.1f%%", v.TrafficPercent),
				v.Views,
				v.Clicks,
				v.Conversions,
				formatPercent(v.Rate),
				ciStr,
				pStr,
				indicator,
			)
		}

		fmt.Fprintln(out)

		if len(result.Variants) > 1 {
			confPct := result.Confidence * 100
			leading := leadingName(result)
			if result.Confident {
				fmt.Fprintf(out, "Statistical significance: %.0f%% confident \"%s\" beats the control\n", confPct, leading)
			} else {
				fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
			}
		}

		return nil
	})
}

func leadingName(r *stats.Result) string {
	for _, v := range r.Variants {
		if v.ID == r.LeadingVariantID {
			return v.Name
		}
	}
	return r.LeadingVariantID
}
