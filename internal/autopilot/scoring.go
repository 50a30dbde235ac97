package autopilot

import "github.com/headline-goat/article-goat/internal/store"

// Scorer ranks a variant for an optimization goal. Higher is better.
type Scorer func(v *store.Variant) float64

func perView(n float64, v *store.Variant) float64 {
	if v.Views == 0 {
		return 0
	}
	return n / float64(v.Views)
}

// DefaultScorers maps each goal to its scoring function.
var DefaultScorers = map[store.Goal]Scorer{
	store.GoalConversions: func(v *store.Variant) float64 {
		return perView(float64(v.Conversions), v)
	},
	store.GoalClickThrough: func(v *store.Variant) float64 {
		return perView(float64(v.Clicks), v)
	},
	store.GoalEngagement: func(v *store.Variant) float64 {
		return perView(float64(v.Clicks+v.Conversions), v)
	},
	store.GoalTimeOnPage: func(v *store.Variant) float64 {
		return perView(v.TotalTimeOnPage, v)
	},
}

// scorerFor returns the scorer for goal, defaulting to conversion rate.
func scorerFor(scorers map[store.Goal]Scorer, goal store.Goal) Scorer {
	if s, ok := scorers[goal]; ok {
		return s
	}
	return DefaultScorers[store.GoalConversions]
}
