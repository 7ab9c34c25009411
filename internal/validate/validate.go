// Package validate filters malformed daily bars before persistence.
package validate

import (
	"math"
	"sort"

	"stockdl/internal/calendar"
	"stockdl/internal/clients/yahoo"
)

// epsilon absorbs floating-point rounding in the OHLC range checks.
const epsilon = 1e-6

// Bars returns the bars that pass all checks, in ascending date order with
// duplicate dates collapsed (last wins), plus the count of rejected bars.
// Validation is non-fatal; the caller logs the rejected count.
func Bars(bars []yahoo.DailyBar) ([]yahoo.DailyBar, int) {
	valid := make([]yahoo.DailyBar, 0, len(bars))
	rejected := 0
	for _, b := range bars {
		if ok(b) {
			valid = append(valid, b)
		} else {
			rejected++
		}
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Date.Before(valid[j].Date) })

	// Collapse duplicate dates, keeping the last occurrence.
	deduped := valid[:0]
	for _, b := range valid {
		if n := len(deduped); n > 0 && deduped[n-1].Date.Equal(b.Date) {
			deduped[n-1] = b
			continue
		}
		deduped = append(deduped, b)
	}

	return deduped, rejected
}

func ok(b yahoo.DailyBar) bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.AdjClose} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	if b.Volume < 0 {
		return false
	}
	if b.High < b.Low-epsilon {
		return false
	}
	if b.Open < b.Low-epsilon || b.Open > b.High+epsilon {
		return false
	}
	if b.Close < b.Low-epsilon || b.Close > b.High+epsilon {
		return false
	}
	return calendar.IsTradingDay(b.Date)
}
