package cache

import (
	"time"

	"stockdl/internal/calendar"
)

// NeedsFetch decides whether a symbol needs network traffic for the requested
// window and, if so, which sub-ranges remain uncovered. The returned ranges
// are clamped to trading days and filtered against known no-data intervals.
func (s *Store) NeedsFetch(symbol string, reqStart, reqEnd, now time.Time) (bool, []Interval, error) {
	reqStart = calendar.DateOf(reqStart)
	effEnd := calendar.AdjustToLatestTradingDay(reqEnd, now)
	ltd := calendar.LastTradingDay(now)
	today := calendar.DateOf(calendar.Eastern(now))

	if effEnd.Before(reqStart) {
		return false, nil, nil
	}

	delisted, err := s.IsDelisted(symbol)
	if err != nil {
		return false, nil, err
	}
	if delisted {
		return false, nil, nil
	}

	noData, err := s.NoDataIntervals(symbol)
	if err != nil {
		return false, nil, err
	}

	cov, err := s.GetCoverage(symbol)
	if err != nil {
		return false, nil, err
	}
	if cov == nil {
		ranges := subtract(Interval{Start: reqStart, End: effEnd}, noData)
		return len(ranges) > 0, ranges, nil
	}

	// While the session is running the final bar is still moving, so a
	// covered range is not trustworthy for today.
	if calendar.IsMarketOpen(now) {
		ranges := subtract(Interval{Start: reqStart, End: effEnd}, noData)
		return len(ranges) > 0, ranges, nil
	}

	// A request ending "today" cannot gain a bar beyond the last closed
	// session; coverage up to that session already subsumes it.
	if calendar.DateOf(reqEnd).Equal(today) && cov.CoveredEnd.Equal(ltd) && effEnd.After(cov.CoveredEnd) {
		effEnd = cov.CoveredEnd
	}

	if !reqStart.Before(cov.CoveredStart) && !effEnd.After(cov.CoveredEnd) {
		return false, nil, nil
	}

	// Symmetric difference: at most a head before coverage and a tail after.
	var ranges []Interval
	if reqStart.Before(cov.CoveredStart) {
		head := Interval{Start: reqStart, End: calendar.PreviousTradingDay(cov.CoveredStart)}
		ranges = append(ranges, subtract(head, noData)...)
	}
	if effEnd.After(cov.CoveredEnd) {
		tail := Interval{Start: calendar.NextTradingDay(cov.CoveredEnd), End: effEnd}
		ranges = append(ranges, subtract(tail, noData)...)
	}

	return len(ranges) > 0, ranges, nil
}
