package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/article-goat/internal/store"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultConcurrency = 4
)

// Scheduler periodically optimizes every running auto-pilot test.
type Scheduler struct {
	store       store.Store
	optimizer   *Optimizer
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewScheduler creates a scheduler. Non-positive interval or concurrency use
// the defaults.
func NewScheduler(s store.Store, optimizer *Optimizer, interval time.Duration, concurrency int) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		store:       s,
		optimizer:   optimizer,
		interval:    interval,
		concurrency: concurrency,
		logger:      optimizer.logger,
	}
}

// Start begins the scheduler loop in a goroutine. It stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	s.logger.Info("auto-pilot scheduler started", "interval", s.interval, "concurrency", s.concurrency)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-pilot scheduler stopped")
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	outcomes, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("auto-pilot cycle finished with errors", "error", err)
	}
	reallocated := 0
	for _, out := range outcomes {
		if out.Reallocated {
			reallocated++
		}
	}
	s.logger.Debug("auto-pilot cycle done", "tests", len(outcomes), "reallocated", reallocated)
}

// RunOnce optimizes all running auto-pilot tests once. A failing test does not
// prevent the others from being evaluated; all failures are joined.
func (s *Scheduler) RunOnce(ctx context.Context) ([]*Outcome, error) {
	tests, err := s.store.ListTests(ctx, store.TestFilter{
		Status:       store.StatusRunning,
		Distribution: store.DistributionAutoPilot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-pilot tests: %w", err)
	}

	var (
		mu       sync.Mutex
		outcomes = make([]*Outcome, 0, len(tests))
		errs     []error
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, t := range tests {
		g.Go(func() error {
			out, err := s.optimizer.Optimize(ctx, t.ID)
			mu.Lock()
			defer mu.Unlock()
			if out != nil {
				outcomes = append(outcomes, out)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("test %s: %w", t.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, errors.Join(errs...)
}
