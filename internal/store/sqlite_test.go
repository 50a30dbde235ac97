package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/headline-goat/article-goat/internal/store"
)

func setupTestDB(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTest(t *testing.T, s *store.SQLiteStore, id string) (*store.Test, []*store.Variant) {
	t.Helper()
	ctx := context.Background()

	test := &store.Test{
		ID:              id,
		ArticleID:       "article-1",
		ArticleSlug:     "best-running-shoes",
		Name:            "hero headline",
		Type:            store.TypeHeadline,
		Status:          store.StatusDraft,
		Distribution:    store.DistributionManual,
		Goal:            store.GoalConversions,
		MinSampleSize:   store.DefaultMinSampleSize,
		ConfidenceLevel: store.DefaultConfidenceLevel,
	}
	if err := s.CreateTest(ctx, test); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	variants := []*store.Variant{
		{ID: id + "-control", TestID: id, Name: "Control", IsControl: true, TrafficPercent: 50,
			Content: store.OverrideContent(map[string]string{"title": "Original"})},
		{ID: id + "-b", TestID: id, Name: "Challenger", TrafficPercent: 50,
			Content: store.TemplateContent("tmpl-1", map[string]string{"title": "New"})},
	}
	for _, v := range variants {
		if err := s.CreateVariant(ctx, v); err != nil {
			t.Fatalf("failed to create variant: %v", err)
		}
	}
	return test, variants
}

// seedRunning seeds a test and starts it.
func seedRunning(t *testing.T, s *store.SQLiteStore, id string) (*store.Test, []*store.Variant) {
	t.Helper()
	test, variants := seedTest(t, s, id)
	now := time.Now()
	test.Status = store.StatusRunning
	test.StartedAt = &now
	if err := s.TransitionTest(context.Background(), test, store.StatusDraft); err != nil {
		t.Fatalf("failed to start test: %v", err)
	}
	return test, variants
}

func record(t *testing.T, s *store.SQLiteStore, testID, variantID string, typ store.EventType, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.RecordEvent(context.Background(), &store.Event{
			ID:        fmt.Sprintf("%s-%s-%d", variantID, typ, i),
			TestID:    testID,
			VariantID: variantID,
			SessionID: fmt.Sprintf("session-%d", i),
			Type:      typ,
		})
		if err != nil {
			t.Fatalf("failed to record %s event: %v", typ, err)
		}
	}
}

func TestCreateAndGetTest(t *testing.T) {
	s := setupTestDB(t)
	seedTest(t, s, "t1")

	got, err := s.GetTest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Name != "hero headline" {
		t.Errorf("got Name %s, want hero headline", got.Name)
	}
	if got.Status != store.StatusDraft {
		t.Errorf("got Status %s, want draft", got.Status)
	}
	if got.ArticleSlug != "best-running-shoes" {
		t.Errorf("got ArticleSlug %s", got.ArticleSlug)
	}
	if got.WinningVariantID != nil {
		t.Errorf("expected no winner, got %v", *got.WinningVariantID)
	}
}

func TestGetTest_NotFound(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.GetTest(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListVariants_ControlFirstThenPosition(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedTest(t, s, "t1")

	// A later control still sorts first.
	extra := &store.Variant{ID: "t1-c", TestID: "t1", Name: "Third", Content: store.OverrideContent(nil)}
	if err := s.CreateVariant(ctx, extra); err != nil {
		t.Fatalf("failed to create variant: %v", err)
	}

	variants, err := s.ListVariants(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to list variants: %v", err)
	}
	want := []string{"t1-control", "t1-b", "t1-c"}
	if len(variants) != len(want) {
		t.Fatalf("got %d variants, want %d", len(variants), len(want))
	}
	for i, id := range want {
		if variants[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, variants[i].ID, id)
		}
	}
	if variants[1].Content.Kind != store.ContentTemplate || variants[1].Content.TemplateID != "tmpl-1" {
		t.Errorf("template content not round-tripped: %+v", variants[1].Content)
	}
	if variants[0].Content.Changes["title"] != "Original" {
		t.Errorf("override content not round-tripped: %+v", variants[0].Content)
	}
}

func TestRecordEvent_CountersAndRates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, variants := seedRunning(t, s, "t1")
	control := variants[0]

	record(t, s, "t1", control.ID, store.EventView, 8)
	record(t, s, "t1", control.ID, store.EventConversion, 2)
	record(t, s, "t1", control.ID, store.EventClick, 4)

	v, err := s.GetVariant(ctx, control.ID)
	if err != nil {
		t.Fatalf("failed to get variant: %v", err)
	}
	if v.Views != 8 || v.Conversions != 2 || v.Clicks != 4 {
		t.Errorf("got views=%d conversions=%d clicks=%d", v.Views, v.Conversions, v.Clicks)
	}
	if v.ConversionRate != 2.0/8.0 {
		t.Errorf("got conversion rate %v, want %v", v.ConversionRate, 2.0/8.0)
	}
	if v.ClickThroughRate != 4.0/8.0 {
		t.Errorf("got click-through rate %v, want %v", v.ClickThroughRate, 4.0/8.0)
	}
}

func TestRecordEvent_ConversionWithoutViewsKeepsZeroRate(t *testing.T) {
	s := setupTestDB(t)
	_, variants := seedRunning(t, s, "t1")

	record(t, s, "t1", variants[1].ID, store.EventConversion, 1)

	v, err := s.GetVariant(context.Background(), variants[1].ID)
	if err != nil {
		t.Fatalf("failed to get variant: %v", err)
	}
	if v.Conversions != 1 {
		t.Errorf("got conversions %d, want 1", v.Conversions)
	}
	if v.ConversionRate != 0 {
		t.Errorf("got conversion rate %v, want 0", v.ConversionRate)
	}
}

func TestRecordEvent_UnknownVariant(t *testing.T) {
	s := setupTestDB(t)
	seedRunning(t, s, "t1")

	err := s.RecordEvent(context.Background(), &store.Event{
		ID: "e1", TestID: "t1", VariantID: "nope", SessionID: "s1", Type: store.EventView,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	events, err := s.ListEvents(context.Background(), "t1")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("rejected event was appended: %d events", len(events))
	}
}

func TestRecordEvent_ConcurrentViewsAreNotLost(t *testing.T) {
	s := setupTestDB(t)
	_, variants := seedRunning(t, s, "t1")
	variantID := variants[0].ID

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- s.RecordEvent(context.Background(), &store.Event{
					ID:        fmt.Sprintf("w%d-%d", w, i),
					TestID:    "t1",
					VariantID: variantID,
					SessionID: fmt.Sprintf("s%d-%d", w, i),
					Type:      store.EventView,
				})
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent record failed: %v", err)
		}
	}

	v, err := s.GetVariant(context.Background(), variantID)
	if err != nil {
		t.Fatalf("failed to get variant: %v", err)
	}
	if v.Views != workers*perWorker {
		t.Errorf("got %d views, want %d", v.Views, workers*perWorker)
	}
}

func TestRebuildCounters_MatchesEventLog(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, variants := seedRunning(t, s, "t1")
	id := variants[1].ID

	record(t, s, "t1", id, store.EventView, 10)
	record(t, s, "t1", id, store.EventConversion, 3)
	if err := s.RecordEvent(ctx, &store.Event{
		ID: "exit-1", TestID: "t1", VariantID: id, SessionID: "s", Type: store.EventExit, TimeOnPage: 42.5,
	}); err != nil {
		t.Fatalf("failed to record exit: %v", err)
	}

	before, _ := s.GetVariant(ctx, id)

	// Corrupt the projection, then rebuild it from the log.
	if _, err := s.DB().ExecContext(ctx, `UPDATE variants SET views = 0, conversions = 99, conversion_rate = 7 WHERE id = ?`, id); err != nil {
		t.Fatalf("failed to corrupt counters: %v", err)
	}
	if err := s.RebuildCounters(ctx, "t1"); err != nil {
		t.Fatalf("failed to rebuild: %v", err)
	}

	after, _ := s.GetVariant(ctx, id)
	if after.Views != before.Views || after.Conversions != before.Conversions {
		t.Errorf("rebuild mismatch: before %d/%d after %d/%d", before.Views, before.Conversions, after.Views, after.Conversions)
	}
	if after.ConversionRate != 0.3 {
		t.Errorf("got conversion rate %v, want 0.3", after.ConversionRate)
	}
	if after.TotalTimeOnPage != 42.5 {
		t.Errorf("got time on page %v, want 42.5", after.TotalTimeOnPage)
	}
}

func TestSetTraffic_UnknownVariantRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, variants := seedTest(t, s, "t1")

	err := s.SetTraffic(ctx, "t1", map[string]float64{variants[0].ID: 90, "ghost": 10})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	v, _ := s.GetVariant(ctx, variants[0].ID)
	if v.TrafficPercent != 50 {
		t.Errorf("partial traffic update was committed: %v", v.TrafficPercent)
	}
}

func TestApplyReallocationAndSignificance(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	stale, variants := seedRunning(t, s, "t1")

	winner := variants[1].ID
	if err := s.SetSignificance(ctx, winner, true); err != nil {
		t.Fatalf("failed to set significance: %v", err)
	}
	if err := s.ApplyReallocation(ctx, "t1", winner, map[string]float64{variants[0].ID: 10, winner: 90}); err != nil {
		t.Fatalf("failed to apply reallocation: %v", err)
	}

	test, _ := s.GetTest(ctx, "t1")
	if test.WinningVariantID == nil || *test.WinningVariantID != winner {
		t.Errorf("winner not persisted: %v", test.WinningVariantID)
	}
	v, _ := s.GetVariant(ctx, winner)
	if !v.IsSignificant {
		t.Error("expected significance flag to be set")
	}
	if v.TrafficPercent != 90 {
		t.Errorf("got traffic %v, want 90", v.TrafficPercent)
	}

	// A transition built from a read taken before the reallocation keeps the winner.
	stale.Status = store.StatusPaused
	if err := s.TransitionTest(ctx, stale, store.StatusRunning); err != nil {
		t.Fatalf("failed to pause test: %v", err)
	}
	if stale.WinningVariantID == nil || *stale.WinningVariantID != winner {
		t.Errorf("pause wiped the winner: %v", stale.WinningVariantID)
	}
}

func TestApplyReallocation_StoppedTestIsUntouched(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	test, variants := seedRunning(t, s, "t1")

	control := variants[0].ID
	test.Status = store.StatusCompleted
	test.WinningVariantID = &control
	if err := s.TransitionTest(ctx, test, store.StatusRunning); err != nil {
		t.Fatalf("failed to complete test: %v", err)
	}

	err := s.ApplyReallocation(ctx, "t1", variants[1].ID, map[string]float64{control: 10, variants[1].ID: 90})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.SetSignificance(ctx, variants[1].ID, true); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for significance, got %v", err)
	}
	if err := s.SetTraffic(ctx, "t1", map[string]float64{control: 10, variants[1].ID: 90}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for traffic, got %v", err)
	}

	got, _ := s.GetTest(ctx, "t1")
	if got.WinningVariantID == nil || *got.WinningVariantID != control {
		t.Errorf("winner overwritten: %v", got.WinningVariantID)
	}
	v, _ := s.GetVariant(ctx, variants[1].ID)
	if v.TrafficPercent != 50 || v.IsSignificant {
		t.Errorf("completed test mutated: traffic=%v significant=%v", v.TrafficPercent, v.IsSignificant)
	}
	if err := s.SetSignificance(ctx, "ghost", true); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown variant, got %v", err)
	}
}

func TestTransitionTest_StaleStatusConflicts(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedRunning(t, s, "t1")

	first, _ := s.GetTest(ctx, "t1")
	second, _ := s.GetTest(ctx, "t1")

	winner := "t1-control"
	first.Status = store.StatusCompleted
	first.WinningVariantID = &winner
	if err := s.TransitionTest(ctx, first, store.StatusRunning); err != nil {
		t.Fatalf("failed to complete test: %v", err)
	}

	second.Status = store.StatusPaused
	err := s.TransitionTest(ctx, second, store.StatusRunning)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _ := s.GetTest(ctx, "t1")
	if got.Status != store.StatusCompleted {
		t.Errorf("got status %s, want completed", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("start time lost on completion")
	}

	missing := &store.Test{ID: "missing", Status: store.StatusRunning}
	if err := s.TransitionTest(ctx, missing, store.StatusDraft); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordEvent_RejectsDraftAndCompletedTests(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, draft := seedTest(t, s, "t1")
	completed, done := seedRunning(t, s, "t2")
	completed.Status = store.StatusCompleted
	if err := s.TransitionTest(ctx, completed, store.StatusRunning); err != nil {
		t.Fatalf("failed to complete test: %v", err)
	}

	for testID, variantID := range map[string]string{"t1": draft[0].ID, "t2": done[0].ID} {
		err := s.RecordEvent(ctx, &store.Event{
			ID: "e-" + testID, TestID: testID, VariantID: variantID, SessionID: "s1", Type: store.EventView,
		})
		if !errors.Is(err, store.ErrConflict) {
			t.Errorf("%s: expected ErrConflict, got %v", testID, err)
		}
		v, _ := s.GetVariant(ctx, variantID)
		if v.Views != 0 {
			t.Errorf("%s: got %d views, want 0", testID, v.Views)
		}
		events, _ := s.ListEvents(ctx, testID)
		if len(events) != 0 {
			t.Errorf("%s: rejected event was appended", testID)
		}
	}

	err := s.RecordEvent(ctx, &store.Event{ID: "e-x", TestID: "missing", VariantID: "v", SessionID: "s1", Type: store.EventView})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown test, got %v", err)
	}
}

func TestRecordEvent_PausedTestStillCounts(t *testing.T) {
	s := setupTestDB(t)
	test, variants := seedRunning(t, s, "t1")
	test.Status = store.StatusPaused
	if err := s.TransitionTest(context.Background(), test, store.StatusRunning); err != nil {
		t.Fatalf("failed to pause test: %v", err)
	}

	record(t, s, "t1", variants[0].ID, store.EventConversion, 1)

	v, _ := s.GetVariant(context.Background(), variants[0].ID)
	if v.Conversions != 1 {
		t.Errorf("got conversions %d, want 1", v.Conversions)
	}
}

func TestAddVariant_FailedRebalanceRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, variants := seedTest(t, s, "t1")

	v := &store.Variant{ID: "t1-c", TestID: "t1", Name: "Third", TrafficPercent: 30, Content: store.OverrideContent(nil)}
	err := s.AddVariant(ctx, v, map[string]float64{variants[0].ID: 35, "ghost": 35, "t1-c": 30})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.GetVariant(ctx, "t1-c"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("variant insert was committed: %v", err)
	}
	control, _ := s.GetVariant(ctx, variants[0].ID)
	if control.TrafficPercent != 50 {
		t.Errorf("partial traffic update was committed: %v", control.TrafficPercent)
	}

	if err := s.AddVariant(ctx, v, map[string]float64{variants[0].ID: 35, variants[1].ID: 35, "t1-c": 30}); err != nil {
		t.Fatalf("failed to add variant: %v", err)
	}
	all, _ := s.ListVariants(ctx, "t1")
	if len(all) != 3 || all[2].Position != 2 {
		t.Errorf("unexpected variants after add: %d", len(all))
	}
}

func TestRemoveVariant_FailedRebalanceRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, variants := seedTest(t, s, "t1")

	err := s.RemoveVariant(ctx, "t1", variants[1].ID, map[string]float64{variants[1].ID: 100})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetVariant(ctx, variants[1].ID); err != nil {
		t.Errorf("variant delete was committed: %v", err)
	}

	if err := s.RemoveVariant(ctx, "t1", variants[1].ID, map[string]float64{variants[0].ID: 100}); err != nil {
		t.Fatalf("failed to remove variant: %v", err)
	}
	control, _ := s.GetVariant(ctx, variants[0].ID)
	if control.TrafficPercent != 100 {
		t.Errorf("got control traffic %v, want 100", control.TrafficPercent)
	}
}

func TestVariantStructure_FrozenOutsideDraft(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, variants := seedRunning(t, s, "t1")

	v := &store.Variant{ID: "t1-c", TestID: "t1", Name: "Late", Content: store.OverrideContent(nil)}
	if err := s.AddVariant(ctx, v, map[string]float64{"t1-c": 0}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for add, got %v", err)
	}
	if err := s.RemoveVariant(ctx, "t1", variants[1].ID, map[string]float64{variants[0].ID: 100}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for remove, got %v", err)
	}
}

func TestTemplates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	tmpl := &store.Template{
		ID:   "tmpl-1",
		Name: "Hero",
		Body: "<h1>{{title}}</h1><a href=\"{{cta_url}}\">Go</a>",
		Placeholders: []store.Placeholder{
			{Name: "title", Kind: store.PlaceholderText},
			{Name: "cta_url", Kind: store.PlaceholderCTA},
		},
	}
	if err := s.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	if err := s.IncrementTemplateUsage(ctx, "tmpl-1"); err != nil {
		t.Fatalf("failed to increment usage: %v", err)
	}

	got, err := s.GetTemplate(ctx, "tmpl-1")
	if err != nil {
		t.Fatalf("failed to get template: %v", err)
	}
	if got.UsageCount != 1 {
		t.Errorf("got usage %d, want 1", got.UsageCount)
	}
	if kind, ok := got.KindOf("CTA_URL"); !ok || kind != store.PlaceholderCTA {
		t.Errorf("placeholder kind lookup failed: %v %v", kind, ok)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to store.TestStatus
		want     bool
	}{
		{store.StatusDraft, store.StatusRunning, true},
		{store.StatusDraft, store.StatusCompleted, false},
		{store.StatusRunning, store.StatusPaused, true},
		{store.StatusPaused, store.StatusRunning, true},
		{store.StatusRunning, store.StatusCompleted, true},
		{store.StatusPaused, store.StatusCompleted, true},
		{store.StatusCompleted, store.StatusRunning, false},
		{store.StatusRunning, store.StatusDraft, false},
	}
	for _, c := range cases {
		if got := store.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
