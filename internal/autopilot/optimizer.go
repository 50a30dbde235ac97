// Package autopilot reallocates traffic of auto-pilot tests toward the
// best-performing significant variant.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/headline-goat/article-goat/internal/metrics"
	"github.com/headline-goat/article-goat/internal/stats"
	"github.com/headline-goat/article-goat/internal/store"
)

// DefaultWinnerShare is the traffic percentage given to a winning variant.
const DefaultWinnerShare = 90.0

// Skip reasons reported in Outcome.Skipped.
const (
	SkipManual        = "distribution is manual"
	SkipNotRunning    = "test is not running"
	SkipSampleTooLow  = "minimum sample size not reached"
	SkipNoControl     = "test has no control variant"
	SkipSingleVariant = "test has a single variant"
)

// Outcome describes one optimization pass.
type Outcome struct {
	TestID       string
	Skipped      string
	TotalViews   int
	WinnerID     string
	Reallocated  bool
	Traffic      map[string]float64
	Significance map[string]stats.Significance
}

// AfterReallocate runs after traffic weights changed, typically to
// republish the test artifact.
type AfterReallocate func(ctx context.Context, testID string) error

type Optimizer struct {
	store       store.Store
	winnerShare float64
	scorers     map[store.Goal]Scorer
	after       AfterReallocate
	logger      *slog.Logger
}

type Option func(*Optimizer)

// WithWinnerShare sets the traffic percentage given to a winner. Values
// outside (0, 100] are ignored.
func WithWinnerShare(pct float64) Option {
	return func(o *Optimizer) {
		if pct > 0 && pct <= 100 {
			o.winnerShare = pct
		}
	}
}

func WithScorer(goal store.Goal, s Scorer) Option {
	return func(o *Optimizer) { o.scorers[goal] = s }
}

func WithAfterReallocate(fn AfterReallocate) Option {
	return func(o *Optimizer) { o.after = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

func NewOptimizer(s store.Store, opts ...Option) *Optimizer {
	o := &Optimizer{
		store:       s,
		winnerShare: DefaultWinnerShare,
		scorers:     make(map[store.Goal]Scorer, len(DefaultScorers)),
		logger:      slog.Default(),
	}
	for goal, scorer := range DefaultScorers {
		o.scorers[goal] = scorer
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize evaluates one test from a single snapshot of its variant counters.
// Every challenger's significance flag is persisted. When a significant
// challenger outscores the control it receives the winner share and the rest
// is split equally across the other variants.
//
// Failures to persist individual variants do not stop the pass; they are
// joined into the returned error so the caller can retry the whole cycle.
func (o *Optimizer) Optimize(ctx context.Context, testID string) (*Outcome, error) {
	out, err := o.optimize(ctx, testID)
	switch {
	case err != nil && out == nil:
		metrics.OptimizeRuns.WithLabelValues("error").Inc()
	case out.Skipped != "":
		metrics.OptimizeRuns.WithLabelValues("skipped").Inc()
	case out.Reallocated:
		metrics.OptimizeRuns.WithLabelValues("reallocated").Inc()
	default:
		metrics.OptimizeRuns.WithLabelValues("unchanged").Inc()
	}
	return out, err
}

func (o *Optimizer) optimize(ctx context.Context, testID string) (*Outcome, error) {
	test, err := o.store.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get test %s: %w", testID, err)
	}

	out := &Outcome{TestID: testID}
	if test.Distribution != store.DistributionAutoPilot {
		out.Skipped = SkipManual
		return out, nil
	}
	if test.Status != store.StatusRunning {
		out.Skipped = SkipNotRunning
		return out, nil
	}

	variants, err := o.store.ListVariants(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to read variants of test %s: %w", testID, err)
	}

	for _, v := range variants {
		out.TotalViews += v.Views
	}
	if out.TotalViews < test.MinSampleSize {
		out.Skipped = SkipSampleTooLow
		return out, nil
	}

	var control *store.Variant
	for _, v := range variants {
		if v.IsControl {
			control = v
			break
		}
	}
	if control == nil {
		out.Skipped = SkipNoControl
		return out, nil
	}
	if len(variants) < 2 {
		out.Skipped = SkipSingleVariant
		return out, nil
	}

	score := scorerFor(o.scorers, test.Goal)
	winner, bestScore := control, score(control)
	out.Significance = make(map[string]stats.Significance, len(variants)-1)

	var errs []error
	for _, v := range variants {
		if v.ID == control.ID {
			continue
		}
		sig := stats.SignificanceTest(control.Views, control.Conversions, v.Views, v.Conversions, test.ConfidenceLevel)
		out.Significance[v.ID] = sig

		if err := o.store.SetSignificance(ctx, v.ID, sig.IsSignificant); errors.Is(err, store.ErrConflict) {
			return stopped(out), nil
		} else if err != nil {
			errs = append(errs, fmt.Errorf("variant %s: failed to persist significance: %w", v.ID, err))
		}

		if s := score(v); sig.IsSignificant && s > bestScore {
			winner, bestScore = v, s
		}
	}

	out.WinnerID = winner.ID
	if winner.ID == control.ID {
		return out, errors.Join(errs...)
	}

	out.Traffic = Reallocate(variants, winner.ID, o.winnerShare)
	if err := o.store.ApplyReallocation(ctx, testID, winner.ID, out.Traffic); errors.Is(err, store.ErrConflict) {
		return stopped(out), nil
	} else if err != nil {
		errs = append(errs, fmt.Errorf("failed to reallocate traffic: %w", err))
		return out, errors.Join(errs...)
	}
	out.Reallocated = true

	o.logger.Info("auto-pilot reallocated traffic",
		"test_id", testID,
		"winner_id", winner.ID,
		"winner_share", o.winnerShare,
		"total_views", out.TotalViews,
		"p_value", out.Significance[winner.ID].PValue,
	)

	if o.after != nil {
		if err := o.after(ctx, testID); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish after reallocation: %w", err))
		}
	}

	return out, errors.Join(errs...)
}

// stopped reports a test that left the running state while it was being
// evaluated. Nothing was reallocated.
func stopped(out *Outcome) *Outcome {
	out.Skipped = SkipNotRunning
	out.WinnerID = ""
	out.Traffic = nil
	return out
}

// Reallocate gives winnerID the winner share and splits the remainder equally
// across every other variant, control included.
func Reallocate(variants []*store.Variant, winnerID string, winnerShare float64) map[string]float64 {
	traffic := make(map[string]float64, len(variants))
	if len(variants) == 1 {
		traffic[variants[0].ID] = 100
		return traffic
	}
	rest := (100 - winnerShare) / float64(len(variants)-1)
	for _, v := range variants {
		if v.ID == winnerID {
			traffic[v.ID] = winnerShare
		} else {
			traffic[v.ID] = rest
		}
	}
	return traffic
}
