package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "agt",
	Short: "Article Goat - self-hosted A/B testing for article content",
	Long: `🐐 Article Goat runs content experiments for articles: headlines, CTAs,
images and whole layouts. It assigns readers to variants, records what they
do, tells you when a variant is winning and publishes the variant set as a
JSON artifact your pages can read.

Running without a subcommand starts the server (same as 'agt serve').`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("AG_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config and AG_DB_PATH)")
}
