package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/article-goat/internal/stats"
	"github.com/headline-goat/article-goat/internal/store"
)

func TestSignificanceTest_ClearWinner(t *testing.T) {
	// Control 10% (100/1000) vs variant 15% (150/1000)
	got := stats.SignificanceTest(1000, 100, 1000, 150, 0.95)

	assert.True(t, got.IsSignificant)
	assert.Less(t, got.PValue, 0.05)
	assert.Greater(t, got.ZScore, 0.0)
}

func TestSignificanceTest_InsufficientSample(t *testing.T) {
	got := stats.SignificanceTest(20, 2, 20, 3, 0.95)

	assert.False(t, got.IsSignificant)
	assert.Equal(t, 1.0, got.PValue)
}

func TestSignificanceTest_OneArmBelowMinimum(t *testing.T) {
	got := stats.SignificanceTest(1000, 100, 29, 29, 0.95)
	assert.False(t, got.IsSignificant)
	assert.Equal(t, 1.0, got.PValue)
}

func TestSignificanceTest_EqualRates(t *testing.T) {
	got := stats.SignificanceTest(1000, 50, 1000, 50, 0.95)

	assert.False(t, got.IsSignificant)
	assert.InDelta(t, 1.0, got.PValue, 1e-9)
}

func TestSignificanceTest_NoConversions(t *testing.T) {
	// Zero pooled variance must not divide by zero.
	got := stats.SignificanceTest(100, 0, 100, 0, 0.95)
	assert.False(t, got.IsSignificant)
	assert.Equal(t, 1.0, got.PValue)
}

func TestSignificanceTest_KnownPValue(t *testing.T) {
	// z = 2.5 exactly: pooled 0.2, se 0.08, diff 0.2
	got := stats.SignificanceTest(50, 5, 50, 15, 0.95)

	assert.InDelta(t, 2.5, got.ZScore, 1e-9)
	assert.InDelta(t, 0.0124, got.PValue, 0.001)
	assert.True(t, got.IsSignificant)
}

func TestSignificanceTest_ConfidenceIsConfigurable(t *testing.T) {
	// p ~= 0.0124: significant at 95%, not at 99%
	assert.True(t, stats.SignificanceTest(50, 5, 50, 15, 0.95).IsSignificant)
	assert.False(t, stats.SignificanceTest(50, 5, 50, 15, 0.99).IsSignificant)
}

func TestSignificanceTest_InvalidConfidenceFallsBackTo95(t *testing.T) {
	for _, c := range []float64{0, -1, 1, 1.5} {
		got := stats.SignificanceTest(50, 5, 50, 15, c)
		assert.True(t, got.IsSignificant, "confidence %v", c)
	}
}

func TestSignificanceTest_TwoTailed(t *testing.T) {
	better := stats.SignificanceTest(1000, 100, 1000, 150, 0.95)
	worse := stats.SignificanceTest(1000, 150, 1000, 100, 0.95)

	assert.InDelta(t, better.PValue, worse.PValue, 1e-12)
	assert.Less(t, worse.ZScore, 0.0)
}

func TestAnalyze_BasicResults(t *testing.T) {
	test := &store.Test{ID: "t1", ConfidenceLevel: 0.95}
	variants := []*store.Variant{
		{ID: "a", Name: "Ship Faster", IsControl: true, Views: 1000, Conversions: 100},
		{ID: "b", Name: "Build Better", Views: 1000, Conversions: 150},
	}

	result := stats.Analyze(test, variants)

	require.Len(t, result.Variants, 2)
	assert.InDelta(t, 0.10, result.Variants[0].Rate, 1e-9)
	assert.InDelta(t, 0.15, result.Variants[1].Rate, 1e-9)
	assert.Equal(t, "b", result.LeadingVariantID)
	assert.True(t, result.Confident)
	assert.True(t, result.Variants[1].Significant)
	assert.False(t, result.Variants[0].Significant)
	assert.Equal(t, "Ship Faster", result.Variants[0].Name)
}

func TestAnalyze_ConfidenceIntervals(t *testing.T) {
	test := &store.Test{ID: "t1"}
	variants := []*store.Variant{
		{ID: "a", IsControl: true, Views: 1000, Conversions: 100},
		{ID: "b", Views: 1000, Conversions: 150},
	}

	for _, v := range stats.Analyze(test, variants).Variants {
		assert.Less(t, v.CILower, v.Rate)
		assert.Greater(t, v.CIUpper, v.Rate)
		assert.GreaterOrEqual(t, v.CILower, 0.0)
		assert.LessOrEqual(t, v.CIUpper, 1.0)
	}
}

func TestAnalyze_EmptyCounters(t *testing.T) {
	test := &store.Test{ID: "t1"}
	variants := []*store.Variant{
		{ID: "a", IsControl: true},
		{ID: "b"},
	}

	result := stats.Analyze(test, variants)
	require.Len(t, result.Variants, 2)
	for _, v := range result.Variants {
		assert.Zero(t, v.Views)
		assert.Zero(t, v.Rate)
		assert.Zero(t, v.CILower)
		assert.Zero(t, v.CIUpper)
	}
	assert.False(t, result.Confident)
}
