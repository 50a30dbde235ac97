// Package experiment validates and applies changes to test definitions.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/article-goat/internal/publish"
	"github.com/headline-goat/article-goat/internal/store"
)

// TrafficTolerance is the allowed deviation of a test's traffic sum from 100.
const TrafficTolerance = 0.01

// Publisher regenerates the artifact of the article owning a test.
type Publisher interface {
	Publish(ctx context.Context, testID string) (publish.ArtifactRef, error)
}

type Service struct {
	store     store.Store
	publisher Publisher
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		newID:  uuid.NewString,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VariantInput describes a variant's definition.
type VariantInput struct {
	Name        string
	Description string
	Content     store.VariantContent
}

type CreateTestInput struct {
	ArticleID       string
	ArticleSlug     string
	Name            string
	Type            store.TestType
	Distribution    store.Distribution
	Goal            store.Goal
	MinSampleSize   int
	ConfidenceLevel float64
	Control         VariantInput
}

// CreateTest creates a draft test whose control receives all traffic.
func (s *Service) CreateTest(ctx context.Context, in CreateTestInput) (*store.Test, *store.Variant, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, nil, invalid(RuleRequired, "test name is required")
	}
	if strings.TrimSpace(in.ArticleID) == "" {
		return nil, nil, invalid(RuleRequired, "article id is required")
	}
	if in.Type == "" {
		in.Type = store.TypeHeadline
	}
	if !in.Type.Valid() {
		return nil, nil, invalid(RuleInvalidValue, "unknown test type %q", in.Type)
	}
	if in.Distribution == "" {
		in.Distribution = store.DistributionManual
	}
	if in.Distribution != store.DistributionManual && in.Distribution != store.DistributionAutoPilot {
		return nil, nil, invalid(RuleInvalidValue, "unknown distribution %q", in.Distribution)
	}
	if in.Goal == "" {
		in.Goal = store.GoalConversions
	}
	switch in.Goal {
	case store.GoalConversions, store.GoalEngagement, store.GoalClickThrough, store.GoalTimeOnPage:
	default:
		return nil, nil, invalid(RuleInvalidValue, "unknown goal %q", in.Goal)
	}
	if in.MinSampleSize <= 0 {
		in.MinSampleSize = store.DefaultMinSampleSize
	}
	if in.ConfidenceLevel == 0 {
		in.ConfidenceLevel = store.DefaultConfidenceLevel
	}
	if in.ConfidenceLevel <= 0 || in.ConfidenceLevel >= 1 {
		return nil, nil, invalid(RuleInvalidValue, "confidence level must be between 0 and 1, got %v", in.ConfidenceLevel)
	}
	if in.ArticleSlug == "" {
		in.ArticleSlug = in.ArticleID
	}
	if in.Control.Name == "" {
		in.Control.Name = "Control"
	}
	in.Control.Content = normalizeContent(in.Control.Content)
	if err := s.checkContent(ctx, in.Control.Content); err != nil {
		return nil, nil, err
	}

	test := &store.Test{
		ID:              s.newID(),
		ArticleID:       in.ArticleID,
		ArticleSlug:     in.ArticleSlug,
		Name:            in.Name,
		Type:            in.Type,
		Status:          store.StatusDraft,
		Distribution:    in.Distribution,
		Goal:            in.Goal,
		MinSampleSize:   in.MinSampleSize,
		ConfidenceLevel: in.ConfidenceLevel,
	}
	if err := s.store.CreateTest(ctx, test); err != nil {
		return nil, nil, fmt.Errorf("failed to create test: %w", err)
	}

	control := &store.Variant{
		ID:             s.newID(),
		TestID:         test.ID,
		Name:           in.Control.Name,
		Description:    in.Control.Description,
		IsControl:      true,
		TrafficPercent: 100,
		Content:        in.Control.Content,
	}
	if err := s.store.CreateVariant(ctx, control); err != nil {
		return nil, nil, fmt.Errorf("failed to create control variant: %w", err)
	}
	s.countTemplateUse(ctx, control.Content)

	s.logger.Info("test created", "test_id", test.ID, "article_id", test.ArticleID, "name", test.Name)
	return test, control, nil
}

func (s *Service) GetTest(ctx context.Context, testID string) (*store.Test, []*store.Variant, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, nil, err
	}
	variants, err := s.store.ListVariants(ctx, testID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list variants: %w", err)
	}
	return test, variants, nil
}

func (s *Service) ListTests(ctx context.Context, filter store.TestFilter) ([]*store.Test, error) {
	return s.store.ListTests(ctx, filter)
}

// DeleteTest removes a test that is not running.
func (s *Service) DeleteTest(ctx context.Context, testID string) error {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return err
	}
	if test.Status == store.StatusRunning || test.Status == store.StatusPaused {
		return invalid(RuleStructureFrozen, "test %s is %s; complete it before deleting", testID, test.Status)
	}
	return s.store.DeleteTest(ctx, testID)
}

// AddVariant adds a challenger to a draft test. trafficPercent is the new
// variant's share; zero means an equal share. The other variants are scaled
// proportionally so the total stays 100.
func (s *Service) AddVariant(ctx context.Context, testID string, in VariantInput, trafficPercent float64) (*store.Variant, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := requireDraft(test); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid(RuleRequired, "variant name is required")
	}
	if trafficPercent < 0 || trafficPercent >= 100 {
		return nil, invalid(RuleTrafficRange, "traffic percent must be in [0, 100), got %v", trafficPercent)
	}
	in.Content = normalizeContent(in.Content)
	if err := s.checkContent(ctx, in.Content); err != nil {
		return nil, err
	}

	variants, err := s.store.ListVariants(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	if trafficPercent == 0 {
		trafficPercent = 100 / float64(len(variants)+1)
	}

	v := &store.Variant{
		ID:             s.newID(),
		TestID:         testID,
		Name:           in.Name,
		Description:    in.Description,
		TrafficPercent: trafficPercent,
		Content:        in.Content,
	}
	traffic := scale(variants, 100-trafficPercent)
	traffic[v.ID] = trafficPercent
	if err := s.store.AddVariant(ctx, v, traffic); err != nil {
		return nil, fmt.Errorf("failed to add variant: %w", err)
	}
	s.countTemplateUse(ctx, v.Content)

	return s.store.GetVariant(ctx, v.ID)
}

// RemoveVariant deletes a challenger from a draft test and scales the
// remaining variants back to 100.
func (s *Service) RemoveVariant(ctx context.Context, variantID string) error {
	v, err := s.store.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	test, err := s.store.GetTest(ctx, v.TestID)
	if err != nil {
		return err
	}
	if err := requireDraft(test); err != nil {
		return err
	}
	if v.IsControl {
		return invalid(RuleSingleControl, "the control variant cannot be removed")
	}

	variants, err := s.store.ListVariants(ctx, v.TestID)
	if err != nil {
		return fmt.Errorf("failed to list variants: %w", err)
	}
	remaining := make([]*store.Variant, 0, len(variants))
	for _, other := range variants {
		if other.ID != variantID {
			remaining = append(remaining, other)
		}
	}

	if err := s.store.RemoveVariant(ctx, v.TestID, variantID, scale(remaining, 100)); err != nil {
		return fmt.Errorf("failed to remove variant: %w", err)
	}
	return nil
}

// VariantUpdate holds the fields to change; nil fields are kept.
type VariantUpdate struct {
	Name        *string
	Description *string
	Content     *store.VariantContent
}

func (s *Service) UpdateVariant(ctx context.Context, variantID string, upd VariantUpdate) (*store.Variant, error) {
	v, err := s.store.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	test, err := s.store.GetTest(ctx, v.TestID)
	if err != nil {
		return nil, err
	}
	if test.Status == store.StatusCompleted {
		return nil, invalid(RuleImmutable, "test %s is completed", test.ID)
	}

	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, invalid(RuleRequired, "variant name is required")
		}
		v.Name = *upd.Name
	}
	if upd.Description != nil {
		v.Description = *upd.Description
	}
	newTemplate := false
	if upd.Content != nil {
		*upd.Content = normalizeContent(*upd.Content)
		if err := s.checkContent(ctx, *upd.Content); err != nil {
			return nil, err
		}
		newTemplate = upd.Content.Kind == store.ContentTemplate &&
			(v.Content.Kind != store.ContentTemplate || v.Content.TemplateID != upd.Content.TemplateID)
		v.Content = *upd.Content
	}

	if err := s.store.UpdateVariant(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to update variant: %w", err)
	}
	if newTemplate {
		s.countTemplateUse(ctx, v.Content)
	}
	if test.Status != store.StatusDraft {
		s.publish(ctx, test.ID)
	}
	return v, nil
}

// SetTraffic replaces the traffic weights of every variant of a test. It is
// allowed until the test is completed.
func (s *Service) SetTraffic(ctx context.Context, testID string, traffic map[string]float64) error {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return err
	}
	if test.Status == store.StatusCompleted {
		return invalid(RuleImmutable, "test %s is completed", testID)
	}
	variants, err := s.store.ListVariants(ctx, testID)
	if err != nil {
		return fmt.Errorf("failed to list variants: %w", err)
	}

	known := make(map[string]bool, len(variants))
	for _, v := range variants {
		known[v.ID] = true
	}
	sum := 0.0
	for id, pct := range traffic {
		if !known[id] {
			return invalid(RuleUnknownVariant, "variant %s does not belong to test %s", id, testID)
		}
		if pct < 0 || pct > 100 || math.IsNaN(pct) {
			return invalid(RuleTrafficRange, "traffic percent for %s must be in [0, 100], got %v", id, pct)
		}
		sum += pct
	}
	if len(traffic) != len(variants) {
		return invalid(RuleTrafficSum, "traffic must be set for all %d variants, got %d", len(variants), len(traffic))
	}
	if math.Abs(sum-100) > TrafficTolerance {
		return invalid(RuleTrafficSum, "traffic percentages must sum to 100, got %.2f", sum)
	}

	if err := s.store.SetTraffic(ctx, testID, traffic); err != nil {
		return fmt.Errorf("failed to set traffic: %w", err)
	}
	if test.Status != store.StatusDraft {
		s.publish(ctx, testID)
	}
	return nil
}

// Start validates the variant structure and moves a draft test to running.
func (s *Service) Start(ctx context.Context, testID string) (*store.Test, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := transition(test, store.StatusRunning); err != nil {
		return nil, err
	}
	if test.Status != store.StatusDraft {
		return nil, fmt.Errorf("%w: test %s is %s; use resume", store.ErrConflict, testID, test.Status)
	}
	variants, err := s.store.ListVariants(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	if err := ValidateStructure(variants); err != nil {
		return nil, err
	}

	now := s.now()
	test.Status = store.StatusRunning
	test.StartedAt = &now
	return s.save(ctx, test, store.StatusDraft)
}

func (s *Service) Pause(ctx context.Context, testID string) (*store.Test, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := transition(test, store.StatusPaused); err != nil {
		return nil, err
	}
	from := test.Status
	test.Status = store.StatusPaused
	return s.save(ctx, test, from)
}

func (s *Service) Resume(ctx context.Context, testID string) (*store.Test, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if test.Status != store.StatusPaused {
		return nil, fmt.Errorf("%w: test %s is %s, not paused", store.ErrConflict, testID, test.Status)
	}
	test.Status = store.StatusRunning
	return s.save(ctx, test, store.StatusPaused)
}

// Complete ends a test, optionally pinning a winner. A nil winnerID keeps any
// winner chosen by auto-pilot.
func (s *Service) Complete(ctx context.Context, testID string, winnerID *string) (*store.Test, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := transition(test, store.StatusCompleted); err != nil {
		return nil, err
	}
	if winnerID != nil {
		v, err := s.store.GetVariant(ctx, *winnerID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && v.TestID != testID) {
			return nil, invalid(RuleUnknownVariant, "variant %s does not belong to test %s", *winnerID, testID)
		}
		if err != nil {
			return nil, err
		}
		test.WinningVariantID = winnerID
	}

	now := s.now()
	from := test.Status
	test.Status = store.StatusCompleted
	test.EndedAt = &now
	return s.save(ctx, test, from)
}

// save applies a status change only if the stored status is still from, so
// two racing transitions cannot both win.
func (s *Service) save(ctx context.Context, test *store.Test, from store.TestStatus) (*store.Test, error) {
	if err := s.store.TransitionTest(ctx, test, from); err != nil {
		return nil, fmt.Errorf("failed to update test: %w", err)
	}
	s.logger.Info("test status changed", "test_id", test.ID, "status", test.Status)
	s.publish(ctx, test.ID)
	return test, nil
}

// publish refreshes the artifact. Failures are logged; the artifact is
// regenerated on the next change or by an explicit publish.
func (s *Service) publish(ctx context.Context, testID string) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, testID); err != nil {
		s.logger.Error("failed to publish artifact", "test_id", testID, "error", err)
	}
}

// ValidateStructure checks that a variant set may run: at least two variants,
// exactly one control and traffic summing to 100.
func ValidateStructure(variants []*store.Variant) error {
	if len(variants) < 2 {
		return invalid(RuleMinVariants, "a test needs at least 2 variants, has %d", len(variants))
	}
	controls := 0
	sum := 0.0
	for _, v := range variants {
		if v.IsControl {
			controls++
		}
		sum += v.TrafficPercent
	}
	if controls != 1 {
		return invalid(RuleSingleControl, "a test needs exactly one control variant, has %d", controls)
	}
	if math.Abs(sum-100) > TrafficTolerance {
		return invalid(RuleTrafficSum, "traffic percentages must sum to 100, got %.2f", sum)
	}
	return nil
}

func transition(test *store.Test, to store.TestStatus) error {
	if test.Status == store.StatusCompleted {
		return invalid(RuleImmutable, "test %s is completed", test.ID)
	}
	if !store.CanTransition(test.Status, to) {
		return fmt.Errorf("%w: test %s cannot move from %s to %s", store.ErrConflict, test.ID, test.Status, to)
	}
	return nil
}

func requireDraft(test *store.Test) error {
	switch test.Status {
	case store.StatusDraft:
		return nil
	case store.StatusCompleted:
		return invalid(RuleImmutable, "test %s is completed", test.ID)
	}
	return invalid(RuleStructureFrozen, "variants of test %s cannot change once started", test.ID)
}

// scale distributes total across variants in proportion to their current
// weights, or equally when all weights are zero.
func scale(variants []*store.Variant, total float64) map[string]float64 {
	traffic := make(map[string]float64, len(variants))
	if len(variants) == 0 {
		return traffic
	}
	sum := 0.0
	for _, v := range variants {
		sum += v.TrafficPercent
	}
	for _, v := range variants {
		if sum == 0 {
			traffic[v.ID] = total / float64(len(variants))
		} else {
			traffic[v.ID] = v.TrafficPercent / sum * total
		}
	}
	return traffic
}
