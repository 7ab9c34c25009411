package csvstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"stockdl/internal/clients/yahoo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func mkBar(day int, close float64) yahoo.DailyBar {
	return yahoo.DailyBar{
		Date:     time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC),
		Open:     100.25,
		High:     102.5,
		Low:      99.1,
		Close:    close,
		AdjClose: close - 0.5,
		Volume:   123456,
	}
}

func TestMergeAndWriteRoundTrip(t *testing.T) {
	s := newTestStore(t)

	bars := []yahoo.DailyBar{mkBar(2, 101.3), mkBar(3, 102.7), mkBar(4, 100.9), mkBar(5, 103.15)}
	total, err := s.MergeAndWrite("AAPL", bars)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	got, err := s.ReadExisting("AAPL")
	require.NoError(t, err)
	require.Len(t, got, 4)

	// Descending date order, values reproduced exactly.
	assert.Equal(t, time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC), got[0].Date)
	assert.Equal(t, 103.15, got[0].Close)
	assert.Equal(t, 102.65, got[0].AdjClose)
	assert.Equal(t, int64(123456), got[0].Volume)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Date.After(got[i].Date))
	}
}

func TestMergeAndWriteHeaderExact(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MergeAndWrite("AAPL", []yahoo.DailyBar{mkBar(2, 101)})
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path("AAPL"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Date,Open,High,Low,Close,AdjClose,Volume", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "20240102,"))
}

func TestMergeNewBarsWinConflicts(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MergeAndWrite("AAPL", []yahoo.DailyBar{mkBar(2, 101), mkBar(3, 102)})
	require.NoError(t, err)

	_, err = s.MergeAndWrite("AAPL", []yahoo.DailyBar{mkBar(3, 200), mkBar(4, 103)})
	require.NoError(t, err)

	got, err := s.ReadExisting("AAPL")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 200.0, got[1].Close) // Jan 3 overwritten
}

func TestMergeIdempotent(t *testing.T) {
	existing := []yahoo.DailyBar{mkBar(2, 101)}
	update := []yahoo.DailyBar{mkBar(3, 102)}

	once := Merge(existing, update)
	twice := Merge(once, update)
	assert.Equal(t, once, twice)
}

func TestWriteEmptyForDelisted(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteEmpty("XYZQ"))

	data, err := os.ReadFile(s.Path("XYZQ"))
	require.NoError(t, err)
	assert.Equal(t, "Date,Open,High,Low,Close,AdjClose,Volume\n", string(data))

	// Does not clobber an existing data file.
	_, err = s.MergeAndWrite("GOOD", []yahoo.DailyBar{mkBar(2, 101)})
	require.NoError(t, err)
	require.NoError(t, s.WriteEmpty("GOOD"))
	got, err := s.ReadExisting("GOOD")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReadExistingMissingFile(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ReadExisting("NOPE")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MergeAndWrite("AAPL", []yahoo.DailyBar{mkBar(2, 101)})
	require.NoError(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestWriteListingShiftJIS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listing.csv")

	entries := []ListingEntry{
		{Symbol: "7203.T", Name: "トヨタ自動車", Market: "TSE"},
		{Symbol: "^GSPC", Name: "S&P 500", Market: "INDEX", IsIndex: true},
	}
	require.NoError(t, WriteListing(path, entries))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// The Japanese name must not be stored as UTF-8.
	assert.NotContains(t, string(raw), "トヨタ")

	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "トヨタ自動車")
	assert.Contains(t, string(decoded), "^GSPC")
	assert.Contains(t, string(decoded), "index")
}
