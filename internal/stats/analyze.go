package stats

import (
	"github.com/headline-goat/article-goat/internal/store"
)

// Result represents statistical analysis of a test
type Result struct {
	Variants         []VariantResult
	Confidence       float64
	Confident        bool // leading challenger is significant against control
	LeadingVariantID string
}

// VariantResult contains statistics for a single variant
type VariantResult struct {
	ID               string
	Name             string
	IsControl        bool
	TrafficPercent   float64
	Views            int
	Clicks           int
	Conversions      int
	Rate             float64
	ClickThroughRate float64
	CILower          float64
	CIUpper          float64
	// PValue and Significant compare the variant against the control;
	// both are zero-valued for the control itself.
	PValue      float64
	Significant bool
}

// Analyze calculates full statistics for a test from one snapshot of its variants.
func Analyze(test *store.Test, variants []*store.Variant) *Result {
	confidence := normalizeConfidence(test.ConfidenceLevel)

	var control *store.Variant
	for _, v := range variants {
		if v.IsControl {
			control = v
			break
		}
	}

	result := &Result{
		Variants:   make([]VariantResult, len(variants)),
		Confidence: confidence,
	}

	maxRate := -1.0
	for i, v := range variants {
		rate := 0.0
		if v.Views > 0 {
			rate = float64(v.Conversions) / float64(v.Views)
		}
		ctr := 0.0
		if v.Views > 0 {
			ctr = float64(v.Clicks) / float64(v.Views)
		}
		ciLower, ciUpper := WilsonInterval(v.Conversions, v.Views, confidence)

		vr := VariantResult{
			ID:               v.ID,
			Name:             v.Name,
			IsControl:        v.IsControl,
			TrafficPercent:   v.TrafficPercent,
			Views:            v.Views,
			Clicks:           v.Clicks,
			Conversions:      v.Conversions,
			Rate:             rate,
			ClickThroughRate: ctr,
			CILower:          ciLower,
			CIUpper:          ciUpper,
		}
		if control != nil && !v.IsControl {
			sig := SignificanceTest(control.Views, control.Conversions, v.Views, v.Conversions, confidence)
			vr.PValue = sig.PValue
			vr.Significant = sig.IsSignificant
		}
		result.Variants[i] = vr

		if rate > maxRate {
			maxRate = rate
			result.LeadingVariantID = v.ID
		}
	}

	for _, vr := range result.Variants {
		if vr.ID == result.LeadingVariantID {
			result.Confident = vr.Significant
		}
	}

	return result
}
