package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/experiment"
)

func init() {
	variantCmd := &cobra.Command{
		Use:   "variant",
		Short: "Manage the variants of a test",
	}
	variantCmd.AddCommand(newVariantAddCmd(), newVariantUpdateCmd(), newVariantRemoveCmd())
	rootCmd.AddCommand(variantCmd, newTrafficCmd())
}

func newVariantAddCmd() *cobra.Command {
	var (
		name, description string
		templateID        string
		data, changes     []string
		traffic           float64
	)

	cmd := &cobra.Command{
		Use:   "add <test-id>",
		Short: "Add a challenger to a draft test",
		Long: `Add a challenger variant to a draft test. Without --traffic the new
variant gets an equal share and existing variants are scaled down to fit.

Example:
  agt variant add 3f2a... --name "Bold" --change headline="Ship 10x faster"`,
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
				v, err := a.experiments.AddVariant(cmd.Context(), args[0], experiment.VariantInput{
					Name:        name,
					Description: description,
					Content:     contentFromFlags(templateID, dataMap, changeMap),
				}, traffic)
				if err != nil {
					return fmt.Errorf("failed to add variant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added variant '%s' (%s) with %.1f%% traffic\n", v.Name, v.ID, v.TrafficPercent)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "variant name (required)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "variant description")
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringArrayVar(&data, "data", nil, "template data as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&changes, "change", nil, "content override as key=value (repeatable)")
	cmd.Flags().Float64Var(&traffic, "traffic", 0, "traffic percent for the new variant (0 for an equal share)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newVariantUpdateCmd() *cobra.Command {
	var (
		name, description string
		templateID        string
		data, changes     []string
	)

	cmd := &cobra.Command{
		Use:   "update <variant-id>",
		Short: "Edit a variant's name, description or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := experiment.VariantUpdate{}
			if cmd.Flags().Changed("name") {
				upd.Name = &name
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &description
			}
			if templateID != "" || len(data) > 0 || len(changes) > 0 {
				dataMap, err := parsePairs(data)
				if err != nil {
					return err
				}
				changeMap, err := parsePairs(changes)
				if err != nil {
					return err
				}
				c := contentFromFlags(templateID, dataMap, changeMap)
				upd.Content = &c
			}

			return withApp(cmd.Context(), func(a *app) error {
				v, err := a.experiments.UpdateVariant(cmd.Context(), args[0], upd)
				if err != nil {
					return fmt.Errorf("failed to update variant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated variant '%s' (%s)\n", v.Name, v.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "new variant name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new variant description")
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringArrayVar(&data, "data", nil, "template data as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&changes, "change", nil, "content override as key=value (repeatable)")

	return cmd
}

func newVariantRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <variant-id>",
		Short: "Remove a challenger from a draft test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.experiments.RemoveVariant(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("failed to remove variant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed variant %s\n", args[0])
				return nil
			})
		},
	}
}

func newTrafficCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "traffic <test-id> <variant-id>=<percent>...",
		Short: "Set the traffic split of a test",
		Long: `Set the traffic split of a test. Every variant must be listed and the
percentages must add up to 100.

Example:
  agt traffic 3f2a... control-id=50 challenger-id=50`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parsePairs(args[1:])
			if err != nil {
				return err
			}
			traffic := make(map[string]float64, len(pairs))
			for id, raw := range pairs {
				pct, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
				if err != nil {
					return fmt.Errorf("invalid percent for %s: %q", id, raw)
				}
				traffic[id] = pct
			}

			return withApp(cmd.Context(), func(a *app) error {
				if err := a.experiments.SetTraffic(cmd.Context(), args[0], traffic); err != nil {
					return fmt.Errorf("failed to set traffic: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated traffic for test %s\n", args[0])
				return nil
			})
		},
	}
}
