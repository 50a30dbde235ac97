package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the admin API URL with access token",
	Long: `Show the admin API URL with your access token.

The token is the configured admin token, or the one generated by the
running server when none is configured.

Example:
  agt token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token := cfg.Server.AdminToken
	if token == "" {
		data, err := os.ReadFile(tokenFilePath(cfg.Database.Path))
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no server running. Start with: agt serve")
			}
			return fmt.Errorf("failed to read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: agt serve")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Admin API: http://localhost:%d/api/admin/tests?token=%s\n", cfg.Server.Port, token)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Tip: send it as 'Authorization: Bearer <token>' from scripts.")
	return nil
}
