// Package calendar computes U.S. equity market sessions in Eastern time.
//
// The holiday set is a conservative filter: fixed holidays (New Year's Day,
// Independence Day, Christmas) plus the floating Monday/Thursday holidays.
// Observation shifts and Good Friday are intentionally absent; the cache layer
// verifies against actual response data rather than trusting the calendar as
// an authoritative session list.
package calendar

import "time"

// Market session bounds, minutes from midnight Eastern.
const (
	openMinutes  = 9*60 + 30 // 09:30
	closeMinutes = 16 * 60   // 16:00
)

var eastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// No tz database on this host. Fall back to the explicit rule:
		// DST begins 2nd Sunday of March 02:00, ends 1st Sunday of November 02:00.
		eastern = nil
		return
	}
	eastern = loc
}

// Eastern converts t to U.S. Eastern time.
func Eastern(t time.Time) time.Time {
	if eastern != nil {
		return t.In(eastern)
	}
	utc := t.UTC()
	offset := -5 * 60 * 60
	if isEasternDST(utc) {
		offset = -4 * 60 * 60
	}
	return utc.In(time.FixedZone("ET", offset))
}

// NowEastern returns the current wall-clock time in U.S. Eastern time.
func NowEastern() time.Time {
	return Eastern(time.Now())
}

// isEasternDST applies the fallback rule to a UTC instant. The one-hour
// ambiguity around the transitions is acceptable for a daily-bar tool.
func isEasternDST(utc time.Time) bool {
	y := utc.Year()
	// 2nd Sunday of March, 02:00 local = 07:00 UTC (standard time).
	start := nthWeekday(y, time.March, time.Sunday, 2).Add(7 * time.Hour)
	// 1st Sunday of November, 02:00 local = 06:00 UTC (daylight time).
	end := nthWeekday(y, time.November, time.Sunday, 1).Add(6 * time.Hour)
	return !utc.Before(start) && utc.Before(end)
}

// DateOf truncates t to its calendar date, keeping the date components only.
// All date-valued results in this package are midnight UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// nthWeekday returns midnight UTC of the nth given weekday in a month.
func nthWeekday(year int, month time.Month, day time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != day {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

// lastWeekday returns midnight UTC of the last given weekday in a month.
func lastWeekday(year int, month time.Month, day time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != day {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// IsHoliday reports whether the date falls on a U.S. market holiday.
func IsHoliday(t time.Time) bool {
	y, m, d := t.Date()

	// Fixed holidays.
	switch {
	case m == time.January && d == 1:
		return true
	case m == time.July && d == 4:
		return true
	case m == time.December && d == 25:
		return true
	}

	date := DateOf(t)
	switch m {
	case time.January: // MLK Day: 3rd Monday
		return date.Equal(nthWeekday(y, time.January, time.Monday, 3))
	case time.February: // Presidents Day: 3rd Monday
		return date.Equal(nthWeekday(y, time.February, time.Monday, 3))
	case time.May: // Memorial Day: last Monday
		return date.Equal(lastWeekday(y, time.May, time.Monday))
	case time.September: // Labor Day: 1st Monday
		return date.Equal(nthWeekday(y, time.September, time.Monday, 1))
	case time.November: // Thanksgiving: 4th Thursday
		return date.Equal(nthWeekday(y, time.November, time.Thursday, 4))
	}

	return false
}

// IsTradingDay reports whether the date holds a regular session.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !IsHoliday(t)
}

// IsMarketOpen reports whether the regular session is in progress at the
// given instant. The instant is converted to Eastern time first.
func IsMarketOpen(at time.Time) bool {
	et := Eastern(at)
	if !IsTradingDay(et) {
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= openMinutes && minutes < closeMinutes
}

// PreviousTradingDay returns the closest trading day strictly before the date.
func PreviousTradingDay(t time.Time) time.Time {
	d := DateOf(t).AddDate(0, 0, -1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDay returns the closest trading day strictly after the date.
func NextTradingDay(t time.Time) time.Time {
	d := DateOf(t).AddDate(0, 0, 1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// LastTradingDay returns the most recent date whose regular session has fully
// closed as of the given instant. If the instant falls on a trading day past
// 16:00 Eastern, that day qualifies; otherwise the walk goes back from it.
func LastTradingDay(at time.Time) time.Time {
	et := Eastern(at)
	date := DateOf(et)
	if IsTradingDay(date) && et.Hour()*60+et.Minute() >= closeMinutes {
		return date
	}
	return PreviousTradingDay(date)
}

// AdjustToLatestTradingDay clamps a requested end date to the latest date
// that can have a settled bar at the given instant.
func AdjustToLatestTradingDay(d, now time.Time) time.Time {
	date := DateOf(d)
	today := DateOf(Eastern(now))

	if date.After(today) {
		return LastTradingDay(now)
	}
	if date.Equal(today) && IsMarketOpen(now) {
		return PreviousTradingDay(today)
	}
	return date
}
