package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Saturday 2024-06-29 12:00 Eastern: market closed, last settled session is
// Friday 2024-06-28.
var nowSaturday = time.Date(2024, time.June, 29, 16, 0, 0, 0, time.UTC)

// Monday 2024-07-01 11:00 Eastern: regular session in progress.
var nowMondayOpen = time.Date(2024, time.July, 1, 15, 0, 0, 0, time.UTC)

// Monday 2024-07-01 19:00 Eastern: session closed, Jul 1 is settled.
var nowMondayEvening = time.Date(2024, time.July, 1, 23, 0, 0, 0, time.UTC)

func putCoverage(t *testing.T, s *Store, symbol string, start, end time.Time) {
	t.Helper()
	require.NoError(t, s.PutCoverage(Coverage{
		Symbol:         symbol,
		CoveredStart:   start,
		CoveredEnd:     end,
		LastUpdate:     nowSaturday,
		LastTradingDay: end,
	}))
}

func TestNeedsFetchNoCoverage(t *testing.T) {
	s := newTestStore(t)

	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.January, 2), d(2024, time.June, 28), nowSaturday)
	require.NoError(t, err)
	assert.True(t, need)
	require.Len(t, ranges, 1)
	assert.Equal(t, d(2024, time.January, 2), ranges[0].Start)
	assert.Equal(t, d(2024, time.June, 28), ranges[0].End)
}

func TestNeedsFetchSubsumedByCoverage(t *testing.T) {
	s := newTestStore(t)
	putCoverage(t, s, "AAPL", d(2024, time.January, 2), d(2024, time.June, 28))

	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.February, 1), d(2024, time.May, 1), nowSaturday)
	require.NoError(t, err)
	assert.False(t, need)
	assert.Empty(t, ranges)
}

func TestNeedsFetchRequestEndingTodayOnWeekend(t *testing.T) {
	s := newTestStore(t)
	putCoverage(t, s, "AAPL", d(2024, time.January, 2), d(2024, time.June, 28))

	// Saturday request up to "today": coverage through Friday's close already
	// subsumes it, so a rerun makes zero requests.
	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.January, 2), d(2024, time.June, 29), nowSaturday)
	require.NoError(t, err)
	assert.False(t, need)
	assert.Empty(t, ranges)
}

func TestNeedsFetchNewSettledSession(t *testing.T) {
	s := newTestStore(t)
	putCoverage(t, s, "AAPL", d(2024, time.January, 2), d(2024, time.June, 28))

	// Monday evening: Jul 1 has settled and sits past the covered end.
	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.January, 2), d(2024, time.July, 1), nowMondayEvening)
	require.NoError(t, err)
	assert.True(t, need)
	require.Len(t, ranges, 1)
	assert.Equal(t, d(2024, time.July, 1), ranges[0].Start)
	assert.Equal(t, d(2024, time.July, 1), ranges[0].End)
}

func TestNeedsFetchDelistedSkips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkDelisted("XYZQ"))

	need, ranges, err := s.NeedsFetch("XYZQ", d(2024, time.January, 2), d(2024, time.June, 28), nowSaturday)
	require.NoError(t, err)
	assert.False(t, need)
	assert.Empty(t, ranges)
}

func TestNeedsFetchMarketOpenIgnoresCoverage(t *testing.T) {
	s := newTestStore(t)
	putCoverage(t, s, "AAPL", d(2024, time.January, 2), d(2024, time.June, 28))

	// Mid-session the latest bar is still moving, so coverage is not trusted.
	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.June, 24), d(2024, time.July, 1), nowMondayOpen)
	require.NoError(t, err)
	assert.True(t, need)
	require.Len(t, ranges, 1)
	assert.Equal(t, d(2024, time.June, 24), ranges[0].Start)
	// Today's session is in progress; the settled end is the prior Friday.
	assert.Equal(t, d(2024, time.June, 28), ranges[0].End)
}

func TestNeedsFetchHeadGap(t *testing.T) {
	s := newTestStore(t)
	putCoverage(t, s, "AAPL", d(2024, time.March, 1), d(2024, time.June, 28))

	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.January, 2), d(2024, time.June, 28), nowSaturday)
	require.NoError(t, err)
	assert.True(t, need)
	require.Len(t, ranges, 1)
	assert.Equal(t, d(2024, time.January, 2), ranges[0].Start)
	assert.Equal(t, d(2024, time.February, 29), ranges[0].End)
}

func TestNeedsFetchTailGap(t *testing.T) {
	s := newTestStore(t)
	putCoverage(t, s, "AAPL", d(2024, time.January, 2), d(2024, time.May, 31))

	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.January, 2), d(2024, time.June, 28), nowSaturday)
	require.NoError(t, err)
	assert.True(t, need)
	require.Len(t, ranges, 1)
	assert.Equal(t, d(2024, time.June, 3), ranges[0].Start)
	assert.Equal(t, d(2024, time.June, 28), ranges[0].End)
}

func TestNeedsFetchBothGaps(t *testing.T) {
	s := newTestStore(t)
	putCoverage(t, s, "AAPL", d(2024, time.March, 1), d(2024, time.May, 31))

	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.January, 2), d(2024, time.June, 28), nowSaturday)
	require.NoError(t, err)
	assert.True(t, need)
	require.Len(t, ranges, 2)
	assert.True(t, ranges[0].End.Before(ranges[1].Start))
}

func TestNeedsFetchNoDataFiltered(t *testing.T) {
	s := newTestStore(t)

	// A young listing: everything before its IPO is known empty.
	require.NoError(t, s.RecordNoDataRange("NEWCO", d(2024, time.January, 1), d(2024, time.March, 14)))

	need, ranges, err := s.NeedsFetch("NEWCO", d(2024, time.January, 2), d(2024, time.June, 28), nowSaturday)
	require.NoError(t, err)
	assert.True(t, need)
	require.Len(t, ranges, 1)
	assert.Equal(t, d(2024, time.March, 15), ranges[0].Start)

	// A request entirely inside the empty span needs nothing.
	need, ranges, err = s.NeedsFetch("NEWCO", d(2024, time.January, 2), d(2024, time.February, 29), nowSaturday)
	require.NoError(t, err)
	assert.False(t, need)
	assert.Empty(t, ranges)
}

func TestNeedsFetchFutureOnlyRequest(t *testing.T) {
	s := newTestStore(t)

	// The window sits entirely past the last settled session.
	need, ranges, err := s.NeedsFetch("AAPL", d(2024, time.July, 2), d(2024, time.July, 5), nowSaturday)
	require.NoError(t, err)
	assert.False(t, need)
	assert.Empty(t, ranges)
}
