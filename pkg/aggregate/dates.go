package aggregate

import (
	"sort"
	"time"
)

// DayBucket holds the items of one calendar day. Day is midnight in the bucketing
// location.
type DayBucket[T any] struct {
	Day   time.Time
	Items []T
}

// Day truncates t to midnight of its calendar day in loc. A nil loc means UTC.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// BucketByDate groups items by calendar day in loc, ascending. Days without items
// are omitted; items with a zero time are skipped.
func BucketByDate[T any](items []T, dateOf func(T) time.Time, loc *time.Location) []DayBucket[T] {
	index := make(map[time.Time]int)
	var out []DayBucket[T]
	for _, item := range items {
		t := dateOf(item)
		if t.IsZero() {
			continue
		}
		day := Day(t, loc)
		if i, ok := index[day]; ok {
			out[i].Items = append(out[i].Items, item)
			continue
		}
		index[day] = len(out)
		out = append(out, DayBucket[T]{Day: day, Items: []T{item}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	if out == nil {
		return []DayBucket[T]{}
	}
	return out
}

// PadDays returns one bucket for every calendar day from from to to inclusive,
// taking items from buckets and leaving the other days empty. Buckets outside the
// range are dropped. The bounds may be given in either order.
func PadDays[T any](buckets []DayBucket[T], from, to time.Time, loc *time.Location) []DayBucket[T] {
	start, end := Day(from, loc), Day(to, loc)
	if end.Before(start) {
		start, end = end, start
	}
	byDay := make(map[time.Time][]T, len(buckets))
	for _, b := range buckets {
		day := Day(b.Day, loc)
		byDay[day] = append(byDay[day], b.Items...)
	}
	var out []DayBucket[T]
	for day := start; !day.After(end); day = addDay(day, loc) {
		out = append(out, DayBucket[T]{Day: day, Items: byDay[day]})
	}
	return out
}

// addDay steps to the next midnight by calendar, so DST transitions never skip or
// repeat a day.
func addDay(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

const secondsPerDay = 24 * 60 * 60

// DaysBetween counts the calendar days between a and b in loc, regardless of order.
// Times on the same calendar day are 0 apart; a DST shift never changes the count.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ya, ma, da := a.In(loc).Date()
	yb, mb, db := b.In(loc).Date()
	ua := time.Date(ya, ma, da, 0, 0, 0, 0, time.UTC)
	ub := time.Date(yb, mb, db, 0, 0, 0, 0, time.UTC)
	days := int((ub.Unix() - ua.Unix()) / secondsPerDay)
	if days < 0 {
		return -days
	}
	return days
}
