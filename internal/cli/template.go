package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/experiment"
	"github.com/headline-goat/article-goat/internal/store"
)

func init() {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Manage content templates",
	}
	templateCmd.AddCommand(newTemplateAddCmd(), newTemplateListCmd())
	rootCmd.AddCommand(templateCmd)
}

func newTemplateAddCmd() *cobra.Command {
	var (
		category string
		body     string
		file     string
		kinds    []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a template from a body with {{placeholders}}",
		Long: `Create a template. Placeholders are written as {{name}} in the body and
default to text, or cta for names like cta_url. Use --kind to mark
html or url placeholders.

Example:
  agt template add hero --file hero.html --kind intro=html --kind image=url`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read template body: %w", err)
				}
				body = string(raw)
			}

			pairs, err := parsePairs(kinds)
			if err != nil {
				return err
			}
			kindMap := make(map[string]store.PlaceholderKind, len(pairs))
			for name, kind := range pairs {
				kindMap[name] = store.PlaceholderKind(kind)
			}

			return withApp(cmd.Context(), func(a *app) error {
				tmpl, err := a.experiments.CreateTemplate(cmd.Context(), experiment.TemplateInput{
					Name:     args[0],
					Category: category,
					Body:     body,
					Kinds:    kindMap,
				})
				if err != nil {
					return fmt.Errorf("failed to create template: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Created template '%s' (%s)\n", tmpl.Name, tmpl.ID)
				for _, p := range tmpl.Placeholders {
					fmt.Fprintf(cmd.OutOrStdout(), "  {{%s}}  %s\n", p.Name, p.Kind)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "template category")
	cmd.Flags().StringVarP(&body, "body", "b", "", "template body")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the template body from a file")
	cmd.Flags().StringArrayVar(&kinds, "kind", nil, "placeholder kind as name=text|html|url|cta (repeatable)")
	cmd.MarkFlagsOneRequired("body", "file")
	cmd.MarkFlagsMutuallyExclusive("body", "file")

	return cmd
}

func newTemplateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				templates, err := a.experiments.ListTemplates(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list templates: %w", err)
				}
				if len(templates) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates yet.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPLACEHOLDERS\tUSED\tCREATED")
				for _, t := range templates {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
						t.ID,
						t.Name,
						t.Category,
						strings.Join(t.PlaceholderNames(), ", "),
						t.UsageCount,
						t.CreatedAt.Format("2006-01-02"),
					)
				}
				return w.Flush()
			})
		},
	}
}
