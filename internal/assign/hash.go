package assign

import (
	"sort"
	"unicode/utf16"

	"github.com/headline-goat/article-goat/internal/store"
)

// Hash is the 32-bit rolling string hash (h*31 + c over UTF-16 code units,
// wrapped to int32) returned as a non-negative value.
func Hash(s string) uint32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	if h < 0 {
		return uint32(-int64(h))
	}
	return uint32(h)
}

// Draw maps a session and test to a point in [0, 100).
func Draw(sessionID, testID string) float64 {
	return float64(Hash(sessionID+testID)%10000) / 100
}

// Ordered returns the variants control first, then by position and creation time.
// The input slice is not modified.
func Ordered(variants []*store.Variant) []*store.Variant {
	out := make([]*store.Variant, len(variants))
	copy(out, variants)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsControl != b.IsControl {
			return a.IsControl
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

// Pick walks the ordered variants accumulating traffic and returns the first
// whose cumulative bound exceeds draw. When rounding leaves the total below
// 100 and nothing matches, the last variant wins.
func Pick(variants []*store.Variant, draw float64) *store.Variant {
	ordered := Ordered(variants)
	if len(ordered) == 0 {
		return nil
	}
	if len(ordered) == 1 {
		return ordered[0]
	}

	var cumulative float64
	for _, v := range ordered {
		cumulative += v.TrafficPercent
		if draw < cumulative {
			return v
		}
	}
	return ordered[len(ordered)-1]
}

// Control returns the control variant, or the first variant in stable order
// when none is flagged.
func Control(variants []*store.Variant) *store.Variant {
	ordered := Ordered(variants)
	if len(ordered) == 0 {
		return nil
	}
	return ordered[0]
}
