package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/headline-goat/article-goat/internal/assign"
	"github.com/headline-goat/article-goat/internal/autopilot"
	"github.com/headline-goat/article-goat/internal/events"
	"github.com/headline-goat/article-goat/internal/render"
	"github.com/headline-goat/article-goat/internal/server"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the article-goat HTTP server.

The server provides:
  - Assignment and event endpoints for article pages
  - Admin API for tests, variants and templates
  - Auto-pilot optimization on a schedule
  - Health check and Prometheus metrics

Example:
  agt serve --port 8080
  agt serve --config agt.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if port != 0 {
		cfg.Server.Port = port
	}

	sessions, err := a.newSessionStore(ctx)
	if err != nil {
		return err
	}

	if cfg.AutoPilot.Enabled {
		scheduler := autopilot.NewScheduler(a.store, a.optimizer, cfg.AutoPilot.Interval, cfg.AutoPilot.Concurrency)
		scheduler.Start(ctx)
	}

	var redirector *render.Redirector
	if cfg.Redirect.Host != "" {
		redirector = render.NewRedirector(cfg.Redirect.Host)
	}

	srv := server.New(cfg.Server, server.Deps{
		Store:       a.store,
		Experiments: a.experiments,
		Assigner:    assign.NewAssigner(sessions, assign.WithLogger(a.logger)),
		Recorder:    events.NewRecorder(a.store, events.WithLogger(a.logger)),
		Optimizer:   a.optimizer,
		Publisher:   a.publisher,
		Redirector:  redirector,
		Logger:      a.logger,
	})

	tokenFile := tokenFilePath(cfg.Database.Path)
	if err := os.WriteFile(tokenFile, []byte(srv.Token()), 0o600); err != nil {
		a.logger.Warn("failed to write token file", "path", tokenFile, "error", err)
	}
	defer os.Remove(tokenFile)

	fmt.Fprintf(cmd.OutOrStdout(), "Server running at http://localhost:%d\n", cfg.Server.Port)
	fmt.Fprintf(cmd.OutOrStdout(), "Admin API: http://localhost:%d/api/admin/tests?token=%s\n", cfg.Server.Port, srv.Token())

	return srv.Start(ctx)
}

func (a *app) newSessionStore(ctx context.Context) (assign.SessionStore, error) {
	cfg := a.cfg
	if cfg.Sessions.Backend != "redis" {
		m, err := assign.NewMemorySessionStore(cfg.Sessions.MemorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create session cache: %w", err)
		}
		return m, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
	}
	a.closers = append(a.closers, client)
	return assign.NewRedisSessionStore(client, cfg.Sessions.TTL), nil
}

// tokenFilePath returns the path of the token file, kept alongside the database.
func tokenFilePath(db string) string {
	return filepath.Join(filepath.Dir(db), ".agt-token")
}
