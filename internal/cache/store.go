// Package cache persists per-symbol fetch state between runs: date-range
// coverage, delisted flags, known no-data intervals, the latest-trading-day
// sentinel, and the daily preflight record.
//
// One sqlite file holds everything. The store serialises writes; readers see
// consistent snapshots through sqlite's WAL mode, and the orchestrator only
// reports success for a symbol after its coverage row is durable.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SentinelTTL bounds how long a cached latest-trading-day observation is
// trusted without re-deriving it.
const SentinelTTL = 6 * time.Hour

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS symbol_coverage (
	symbol           TEXT PRIMARY KEY,
	covered_start    TEXT NOT NULL,
	covered_end      TEXT NOT NULL,
	last_update      TEXT NOT NULL,
	last_trading_day TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS delisted_symbols (
	symbol    TEXT PRIMARY KEY,
	marked_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS no_data_intervals (
	symbol     TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	PRIMARY KEY (symbol, start_date)
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Coverage is the cached fetch state of one symbol.
type Coverage struct {
	Symbol         string
	CoveredStart   time.Time
	CoveredEnd     time.Time
	LastUpdate     time.Time
	// LastTradingDay is the last settled session as of the update. NeedsFetch
	// detects staleness by comparing the effective end date against
	// CoveredEnd, which is equivalent because a successful update always
	// covers through the then-current last trading day when one was
	// requested; the field is kept for operator inspection of the cache.
	LastTradingDay time.Time
}

// Store is the on-disk cache. All methods are safe for concurrent use.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// Open creates the cache directory if needed and opens (or initialises) the
// cache database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// WAL keeps a mid-write crash from corrupting the file and lets readers
	// proceed alongside the single writer.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise cache schema: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "cache").Logger(),
	}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetCoverage returns the coverage entry for a symbol, nil if absent.
func (s *Store) GetCoverage(symbol string) (*Coverage, error) {
	row := s.db.QueryRow(
		`SELECT covered_start, covered_end, last_update, last_trading_day FROM symbol_coverage WHERE symbol = ?`,
		symbol)

	var start, end, update, ltd string
	if err := row.Scan(&start, &end, &update, &ltd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read coverage for %s: %w", symbol, err)
	}

	cov := &Coverage{Symbol: symbol}
	var err error
	if cov.CoveredStart, err = parseDate(start); err != nil {
		return nil, err
	}
	if cov.CoveredEnd, err = parseDate(end); err != nil {
		return nil, err
	}
	if cov.LastTradingDay, err = parseDate(ltd); err != nil {
		return nil, err
	}
	if cov.LastUpdate, err = time.Parse(time.RFC3339, update); err != nil {
		return nil, fmt.Errorf("bad last_update for %s: %w", symbol, err)
	}
	return cov, nil
}

// PutCoverage upserts a coverage entry. When the new range overlaps or abuts
// the existing one the stored range widens to their union; a disjoint update
// (a force-update of a far-away window) keeps the wider of the two spans, so
// the never-fetched gap between them is not claimed as covered. Published
// coverage never shrinks either way.
func (s *Store) PutCoverage(cov Coverage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.GetCoverage(cov.Symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		have := Interval{Start: existing.CoveredStart, End: existing.CoveredEnd}
		put := Interval{Start: cov.CoveredStart, End: cov.CoveredEnd}
		switch {
		case contiguous(have, put):
			if have.Start.Before(put.Start) {
				cov.CoveredStart = have.Start
			}
			if have.End.After(put.End) {
				cov.CoveredEnd = have.End
			}
		case have.End.Sub(have.Start) >= put.End.Sub(put.Start):
			cov.CoveredStart = have.Start
			cov.CoveredEnd = have.End
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO symbol_coverage (symbol, covered_start, covered_end, last_update, last_trading_day)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			covered_start = excluded.covered_start,
			covered_end = excluded.covered_end,
			last_update = excluded.last_update,
			last_trading_day = excluded.last_trading_day`,
		cov.Symbol,
		cov.CoveredStart.Format(dateLayout),
		cov.CoveredEnd.Format(dateLayout),
		cov.LastUpdate.UTC().Format(time.RFC3339),
		cov.LastTradingDay.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert coverage for %s: %w", cov.Symbol, err)
	}
	return nil
}

// IsDelisted reports whether the symbol has been marked delisted.
func (s *Store) IsDelisted(symbol string) (bool, error) {
	row := s.db.QueryRow(`SELECT 1 FROM delisted_symbols WHERE symbol = ?`, symbol)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read delisted flag for %s: %w", symbol, err)
	}
	return true, nil
}

// MarkDelisted records the upstream delisting signal for a symbol.
func (s *Store) MarkDelisted(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO delisted_symbols (symbol, marked_at) VALUES (?, ?) ON CONFLICT(symbol) DO NOTHING`,
		symbol, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to mark %s delisted: %w", symbol, err)
	}
	s.log.Info().Str("symbol", symbol).Msg("Marked symbol delisted")
	return nil
}

// NoDataIntervals returns the symbol's known empty ranges, sorted ascending.
func (s *Store) NoDataIntervals(symbol string) ([]Interval, error) {
	rows, err := s.db.Query(
		`SELECT start_date, end_date FROM no_data_intervals WHERE symbol = ? ORDER BY start_date ASC`,
		symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read no-data intervals for %s: %w", symbol, err)
	}
	defer rows.Close()

	var intervals []Interval
	for rows.Next() {
		var start, end string
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		var iv Interval
		if iv.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if iv.End, err = parseDate(end); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

// RecordNoDataRange merges [start, end] into the symbol's no-data intervals,
// coalescing adjacent and overlapping ranges.
func (s *Store) RecordNoDataRange(symbol string, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.NoDataIntervals(symbol)
	if err != nil {
		return err
	}
	merged := mergeInterval(existing, Interval{Start: start, End: end})

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin no-data transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM no_data_intervals WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to clear no-data intervals for %s: %w", symbol, err)
	}
	for _, iv := range merged {
		if _, err := tx.Exec(
			`INSERT INTO no_data_intervals (symbol, start_date, end_date) VALUES (?, ?, ?)`,
			symbol, iv.Start.Format(dateLayout), iv.End.Format(dateLayout)); err != nil {
			return fmt.Errorf("failed to write no-data interval for %s: %w", symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit no-data intervals for %s: %w", symbol, err)
	}
	return nil
}

// IsRangeEntirelyNoData reports whether [start, end] lies inside a single
// known no-data interval.
func (s *Store) IsRangeEntirelyNoData(symbol string, start, end time.Time) (bool, error) {
	intervals, err := s.NoDataIntervals(symbol)
	if err != nil {
		return false, err
	}
	return coveredBy(intervals, Interval{Start: start, End: end}), nil
}

// LatestTradingDaySentinel returns the cached latest-trading-day observation
// and whether it is still within its TTL.
func (s *Store) LatestTradingDaySentinel() (time.Time, bool, error) {
	value, err := s.getMeta("latest_trading_day")
	if err != nil || value == "" {
		return time.Time{}, false, err
	}
	fetchedAt, err := s.getMeta("latest_trading_day_fetched_at")
	if err != nil || fetchedAt == "" {
		return time.Time{}, false, err
	}

	day, err := parseDate(value)
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad sentinel timestamp: %w", err)
	}
	return day, time.Since(at) < SentinelTTL, nil
}

// PutLatestTradingDaySentinel stores the latest-trading-day observation.
func (s *Store) PutLatestTradingDaySentinel(day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setMeta("latest_trading_day", day.Format(dateLayout)); err != nil {
		return err
	}
	return s.setMeta("latest_trading_day_fetched_at", time.Now().UTC().Format(time.RFC3339))
}

// PreflightRecord returns whether a preflight result is memoised for the
// given date, and if so whether it passed.
func (s *Store) PreflightRecord(date time.Time) (passed, found bool, err error) {
	day, err := s.getMeta("preflight_date")
	if err != nil || day == "" {
		return false, false, err
	}
	if day != date.Format(dateLayout) {
		return false, false, nil
	}
	result, err := s.getMeta("preflight_passed")
	if err != nil {
		return false, false, err
	}
	return result == "1", true, nil
}

// SetPreflightRecord memoises today's preflight result.
func (s *Store) SetPreflightRecord(date time.Time, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setMeta("preflight_date", date.Format(dateLayout)); err != nil {
		return err
	}
	value := "0"
	if passed {
		value = "1"
	}
	return s.setMeta("preflight_passed", value)
}

// ClearAll wipes every cache entry. Operator action only.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"symbol_coverage", "delisted_symbols", "no_data_intervals", "meta"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	s.log.Info().Msg("Cache cleared")
	return nil
}

// Stats summarises cache contents for the operator.
type Stats struct {
	Symbols         int
	Delisted        int
	NoDataIntervals int
}

// GetStats counts the cache's rows.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM symbol_coverage", &st.Symbols},
		{"SELECT COUNT(*) FROM delisted_symbols", &st.Delisted},
		{"SELECT COUNT(*) FROM no_data_intervals", &st.NoDataIntervals},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return st, fmt.Errorf("failed to count cache rows: %w", err)
		}
	}
	return st, nil
}

func (s *Store) getMeta(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad cache date %q: %w", s, err)
	}
	return d, nil
}
