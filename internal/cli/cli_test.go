package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/article-goat/internal/experiment"
	"github.com/headline-goat/article-goat/internal/store"
)

type harness struct {
	db        string
	artifacts string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		db:        filepath.Join(dir, "agt.db"),
		artifacts: filepath.Join(dir, "artifacts"),
	}
	t.Setenv("AG_PUBLISH_DIR", h.artifacts)
	t.Setenv("AG_LOG_LEVEL", "error")
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--db", h.db))
	err := rootCmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func (h *harness) test(t *testing.T, articleID string) (*store.Test, []*store.Variant) {
	t.Helper()
	s, err := store.Open(h.db)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	tests, err := s.ListTests(ctx, store.TestFilter{ArticleID: articleID})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	variants, err := s.ListVariants(ctx, tests[0].ID)
	require.NoError(t, err)
	return tests[0], variants
}

func TestTestLifecycleCommands(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "create", "post-1", "--name", "Hero", "--change", "headline=Original")
	assert.Contains(t, out, "Created test 'Hero'")

	test, _ := h.test(t, "post-1")
	out = h.mustRun(t, "variant", "add", test.ID, "--name", "Bold", "--change", "headline=Ship faster")
	assert.Contains(t, out, "with 50.0% traffic")

	out = h.mustRun(t, "start", test.ID)
	assert.Contains(t, out, "is now running")
	assert.FileExists(t, filepath.Join(h.artifacts, "post-1", "ab-tests.json"))

	out = h.mustRun(t, "list")
	assert.Contains(t, out, "Hero")
	assert.Contains(t, out, "RUNNING")

	_, variants := h.test(t, "post-1")
	require.Len(t, variants, 2)
	control, challenger := variants[0], variants[1]
	require.True(t, control.IsControl)

	_, err := h.run(t, "traffic", test.ID, control.ID+"=30", challenger.ID+"=60")
	var verr *experiment.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, experiment.RuleTrafficSum, verr.Rule)

	h.mustRun(t, "traffic", test.ID, control.ID+"=30", challenger.ID+"=70%")
	_, variants = h.test(t, "post-1")
	assert.InDelta(t, 30, variants[0].TrafficPercent, 0.001)
	assert.InDelta(t, 70, variants[1].TrafficPercent, 0.001)

	out = h.mustRun(t, "results", test.ID)
	assert.Contains(t, out, "Bold")
	assert.Contains(t, out, "(control)")
	assert.Contains(t, out, "Not enough data")

	out = h.mustRun(t, "complete", test.ID, "--winner", challenger.ID)
	assert.Contains(t, out, "marked as completed")
	assert.Contains(t, out, "Winner: "+challenger.ID)

	test, _ = h.test(t, "post-1")
	assert.Equal(t, store.StatusCompleted, test.Status)
	require.NotNil(t, test.WinningVariantID)
	assert.Equal(t, challenger.ID, *test.WinningVariantID)
}

func TestStartRequiresChallenger(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "create", "post-2", "--name", "Lonely")
	test, _ := h.test(t, "post-2")

	_, err := h.run(t, "start", test.ID)
	var verr *experiment.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, experiment.RuleMinVariants, verr.Rule)
}

func TestExportJSON(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "create", "post-3", "--name", "Export")
	test, _ := h.test(t, "post-3")

	out := h.mustRun(t, "export", test.ID, "--format", "json")
	var export jsonExport
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	assert.Empty(t, export.Events)

	_, err := h.run(t, "export", test.ID, "--format", "xml")
	assert.Error(t, err)
	exportFormat = "csv"
}

func TestTemplateCommands(t *testing.T) {
	h := newHarness(t)
	body := filepath.Join(t.TempDir(), "hero.html")
	require.NoError(t, os.WriteFile(body, []byte(`<h1>{{title}}</h1><p>{{intro}}</p><a href="{{cta_url}}">Go</a>`), 0o644))

	out := h.mustRun(t, "template", "add", "hero", "--file", body, "--kind", "intro=html")
	assert.Contains(t, out, "{{title}}  text")
	assert.Contains(t, out, "{{intro}}  html")
	assert.Contains(t, out, "{{cta_url}}  cta")

	out = h.mustRun(t, "template", "list")
	assert.Contains(t, out, "hero")
	assert.Contains(t, out, "title, intro, cta_url")
}

func TestOptimizeWithoutTests(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "optimize")
	assert.Contains(t, out, "No running auto-pilot tests.")
}

func TestTokenFromConfig(t *testing.T) {
	h := newHarness(t)
	t.Setenv("AG_ADMIN_TOKEN", "configured")

	out := h.mustRun(t, "token")
	assert.Contains(t, out, "token=configured")
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"headline=Ship faster", " cta_url =https://x.test/?a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"headline": "Ship faster",
		"cta_url":  "https://x.test/?a=b",
	}, got)

	_, err = parsePairs([]string{"novalue"})
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}
