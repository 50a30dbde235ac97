package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/headline-goat/article-goat/internal/autopilot"
	"github.com/headline-goat/article-goat/internal/config"
	"github.com/headline-goat/article-goat/internal/experiment"
	"github.com/headline-goat/article-goat/internal/publish"
	"github.com/headline-goat/article-goat/internal/store"
)

// app is the set of collaborators shared by the server and the admin
// commands. Everything here talks to the same database and artifact target.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.SQLiteStore
	publisher   *publish.Publisher
	experiments *experiment.Service
	optimizer   *autopilot.Optimizer

	closers []io.Closer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// newApp opens the store and wires the publishing pipeline. logOut receives
// structured logs; commands pass stderr so stdout stays clean for output.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(logOut)

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: s, closers: []io.Closer{s}}

	uploader, err := newUploader(ctx, cfg.Publish)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := uploader.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.publisher = publish.NewPublisher(s, uploader,
		publish.WithRetry(cfg.Publish.Attempts, cfg.Publish.Backoff),
		publish.WithAttemptTimeout(cfg.Publish.AttemptTimeout),
		publish.WithLogger(logger),
	)
	a.experiments = experiment.NewService(s,
		experiment.WithPublisher(a.publisher),
		experiment.WithLogger(logger),
	)
	a.optimizer = autopilot.NewOptimizer(s,
		autopilot.WithWinnerShare(cfg.AutoPilot.WinnerShare),
		autopilot.WithAfterReallocate(func(ctx context.Context, testID string) error {
			_, err := a.publisher.Publish(ctx, testID)
			return err
		}),
		autopilot.WithLogger(logger),
	)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func newUploader(ctx context.Context, cfg config.PublishConfig) (publish.Uploader, error) {
	switch cfg.Backend {
	case "gcs":
		u, err := publish.NewGCSUploader(ctx, cfg.Bucket, cfg.CredentialsFile, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS uploader: %w", err)
		}
		return u, nil
	default:
		return publish.NewFileUploader(cfg.Dir, cfg.BaseURL), nil
	}
}

// withApp builds the app, executes the function, and handles cleanup.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

// parsePairs turns "key=value" arguments into a map.
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func contentFromFlags(templateID string, data, changes map[string]string) store.VariantContent {
	if templateID != "" {
		return store.TemplateContent(templateID, data)
	}
	return store.OverrideContent(changes)
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
