// Package aggregate computes the dashboard's derived statistics. Every function is
// pure and total: empty input yields zero values and no result is ever NaN or ±Inf.
package aggregate

import (
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/illmade-knight/go-dashsync/pkg/analytics"
)

// finite maps NaN and ±Inf to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Sum adds field over items, counting non-finite values as 0.
func Sum[T any](items []T, field func(T) float64) float64 {
	total := 0.0
	for _, item := range items {
		total += finite(field(item))
	}
	return finite(total)
}

// SumInt adds an integer field over items.
func SumInt[T any](items []T, field func(T) int64) int64 {
	var total int64
	for _, item := range items {
		total += field(item)
	}
	return total
}

// Average is the mean of field over items; 0 for no items.
func Average[T any](items []T, field func(T) float64) float64 {
	if len(items) == 0 {
		return 0
	}
	return finite(Sum(items, field) / float64(len(items)))
}

// PercentOf returns part as a percentage of whole, or 0 when whole is 0.
func PercentOf(part, whole float64) float64 {
	part, whole = finite(part), finite(whole)
	if whole == 0 {
		return 0
	}
	return finite(part / whole * 100)
}

// Percent scales a rate in [0,1] to a percentage.
func Percent(rate float64) float64 {
	return finite(rate * 100)
}

// Distribution counts items per category in first-seen order. Items whose category
// is empty are skipped.
func Distribution[T any](items []T, categoryOf func(T) string) analytics.Counts {
	out := analytics.Counts{}
	index := make(map[string]int)
	for _, item := range items {
		category := categoryOf(item)
		if category == "" {
			continue
		}
		if i, ok := index[category]; ok {
			out[i].Count++
			continue
		}
		index[category] = len(out)
		out = append(out, analytics.Count{Name: category, Count: 1})
	}
	return out
}

// TopN returns the n largest counts, descending. Equal counts keep their input order.
func TopN(dist analytics.Counts, n int) analytics.Counts {
	if n <= 0 || len(dist) == 0 {
		return analytics.Counts{}
	}
	sorted := slices.Clone(dist)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Total adds up every count in dist.
func Total(dist analytics.Counts) int {
	total := 0
	for _, c := range dist {
		total += c.Count
	}
	return total
}

// RankBy sorts a copy of items descending by metric, breaking ties ascending by
// secondary so the order is deterministic.
func RankBy[T any](items []T, metric func(T) float64, secondary func(T) string) []T {
	ranked := slices.Clone(items)
	sort.SliceStable(ranked, func(i, j int) bool {
		mi, mj := finite(metric(ranked[i])), finite(metric(ranked[j]))
		if mi != mj {
			return mi > mj
		}
		return strings.Compare(secondary(ranked[i]), secondary(ranked[j])) < 0
	})
	return ranked
}
