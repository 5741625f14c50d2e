package aggregate

import (
	"math"
	"slices"
	"sort"
)

// Band is one classification level. A value belongs to the band when it is above
// Threshold, or equal to it when Inclusive is set.
type Band struct {
	Label     string
	Threshold float64
	Inclusive bool
}

func (b Band) admits(v float64) bool {
	if b.Inclusive {
		return v >= b.Threshold
	}
	return v > b.Threshold
}

// Bands is an ordered set of bands plus the label for everything below them.
type Bands struct {
	Levels   []Band
	Fallback string
}

// Band labels.
const (
	Excellent        = "excellent"
	Good             = "good"
	NeedsImprovement = "needs improvement"

	Positive = "positive"
	Neutral  = "neutral"
	Negative = "negative"
)

// EngagementBands grades an engagement rate.
var EngagementBands = Bands{
	Levels: []Band{
		{Label: Excellent, Threshold: 0.05},
		{Label: Good, Threshold: 0.02},
	},
	Fallback: NeedsImprovement,
}

// SentimentBands labels a sentiment score in [-1, 1].
var SentimentBands = Bands{
	Levels: []Band{
		{Label: Positive, Threshold: 0.1},
		{Label: Neutral, Threshold: -0.1, Inclusive: true},
	},
	Fallback: Negative,
}

// Classify returns the label of the first band, by descending threshold, that admits
// value. NaN gets the fallback.
func Classify(value float64, bands Bands) string {
	if math.IsNaN(value) {
		return bands.Fallback
	}
	levels := slices.Clone(bands.Levels)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Threshold > levels[j].Threshold })
	for _, level := range levels {
		if level.admits(value) {
			return level.Label
		}
	}
	return bands.Fallback
}

// Labels lists every label bands can produce, highest first.
func (b Bands) Labels() []string {
	levels := slices.Clone(b.Levels)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Threshold > levels[j].Threshold })
	out := make([]string, 0, len(levels)+1)
	for _, level := range levels {
		out = append(out, level.Label)
	}
	return append(out, b.Fallback)
}
