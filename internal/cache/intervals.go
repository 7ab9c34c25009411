package cache

import (
	"time"

	"stockdl/internal/calendar"
)

// Interval is an inclusive date range. Both bounds are midnight UTC dates.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the date falls inside the interval.
func (iv Interval) Contains(d time.Time) bool {
	return !d.Before(iv.Start) && !d.After(iv.End)
}

// mergeInterval inserts add into a sorted, disjoint interval list, coalescing
// overlapping and adjacent ranges. The result stays sorted and disjoint.
func mergeInterval(intervals []Interval, add Interval) []Interval {
	if add.End.Before(add.Start) {
		return intervals
	}

	var out []Interval
	cur := add
	for _, iv := range intervals {
		switch {
		case iv.End.AddDate(0, 0, 1).Before(cur.Start):
			// iv ends well before cur begins.
			out = append(out, iv)
		case cur.End.AddDate(0, 0, 1).Before(iv.Start):
			// iv begins well after cur ends; cur is placed.
			out = append(out, cur)
			cur = iv
		default:
			// Overlapping or adjacent: absorb.
			if iv.Start.Before(cur.Start) {
				cur.Start = iv.Start
			}
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
		}
	}
	return append(out, cur)
}

// contiguous reports whether two inclusive ranges overlap or abut with no
// trading day between them, so their union holds no uncovered session.
func contiguous(a, b Interval) bool {
	if a.Start.After(b.Start) {
		a, b = b, a
	}
	return !b.Start.After(calendar.NextTradingDay(a.End))
}

// coveredBy reports whether want lies entirely inside one merged interval.
func coveredBy(intervals []Interval, want Interval) bool {
	for _, iv := range intervals {
		if !want.Start.Before(iv.Start) && !want.End.After(iv.End) {
			return true
		}
	}
	return false
}

// subtract removes the given intervals from want, returning the remaining
// sub-ranges clamped to trading days. Empty remainders are dropped.
func subtract(want Interval, intervals []Interval) []Interval {
	remaining := []Interval{want}
	for _, iv := range intervals {
		var next []Interval
		for _, r := range remaining {
			if iv.End.Before(r.Start) || iv.Start.After(r.End) {
				next = append(next, r)
				continue
			}
			if iv.Start.After(r.Start) {
				next = append(next, Interval{Start: r.Start, End: iv.Start.AddDate(0, 0, -1)})
			}
			if iv.End.Before(r.End) {
				next = append(next, Interval{Start: iv.End.AddDate(0, 0, 1), End: r.End})
			}
		}
		remaining = next
	}

	out := remaining[:0]
	for _, r := range remaining {
		if r = clampToTradingDays(r); !r.End.Before(r.Start) {
			out = append(out, r)
		}
	}
	return out
}

// clampToTradingDays shrinks both bounds inward to trading days. A range
// holding no trading day comes back inverted and is discarded by callers.
func clampToTradingDays(iv Interval) Interval {
	start, end := iv.Start, iv.End
	for !start.After(end) && !calendar.IsTradingDay(start) {
		start = start.AddDate(0, 0, 1)
	}
	for !end.Before(start) && !calendar.IsTradingDay(end) {
		end = end.AddDate(0, 0, -1)
	}
	return Interval{Start: start, End: end}
}
