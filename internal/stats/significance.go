package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// MinSamples is the smallest per-arm sample size for which a z-test is run.
const MinSamples = 30

// DefaultConfidence is used when a test carries no usable confidence level.
const DefaultConfidence = 0.95

// Significance is the outcome of comparing a treatment against the control.
type Significance struct {
	IsSignificant bool
	PValue        float64
	ZScore        float64
}

// SignificanceTest performs a pooled two-proportion z-test of a variant
// against the control and reports a two-tailed p-value.
//
// Either arm below MinSamples views reports not significant with p = 1,
// meaning insufficient power rather than no effect.
func SignificanceTest(controlViews, controlConversions, variantViews, variantConversions int, confidence float64) Significance {
	if controlViews < MinSamples || variantViews < MinSamples {
		return Significance{PValue: 1}
	}

	n1, n2 := float64(controlViews), float64(variantViews)
	rate1 := float64(controlConversions) / n1
	rate2 := float64(variantConversions) / n2

	// Pooled proportion under null hypothesis (rate1 = rate2)
	pooled := float64(controlConversions+variantConversions) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 || math.IsNaN(se) {
		return Significance{PValue: 1}
	}

	z := (rate2 - rate1) / se
	p := 2 * (1 - distuv.UnitNormal.CDF(math.Abs(z)))

	return Significance{
		IsSignificant: p < 1-normalizeConfidence(confidence),
		PValue:        p,
		ZScore:        z,
	}
}

func normalizeConfidence(c float64) float64 {
	if c <= 0 || c >= 1 || math.IsNaN(c) {
		return DefaultConfidence
	}
	return c
}
