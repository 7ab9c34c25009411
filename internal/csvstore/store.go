// Package csvstore persists per-symbol daily bars as CSV files.
//
// One file per symbol at {dir}/{file_form_symbol}.csv with the fixed header
// Date,Open,High,Low,Close,AdjClose,Volume. Dates are yyyymmdd integers and
// rows are sorted descending by date. Writes go through a temp file, fsync,
// and rename so a crash never leaves a truncated file.
package csvstore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"stockdl/internal/clients/yahoo"
)

// Header is the exact header line of every data file.
var Header = []string{"Date", "Open", "High", "Low", "Close", "AdjClose", "Volume"}

const dateLayout = "20060102"

// Store reads and writes per-symbol CSV files under a single directory.
type Store struct {
	dir string
	log zerolog.Logger
}

// New creates the output directory if needed and returns a store over it.
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Store{
		dir: dir,
		log: log.With().Str("component", "csvstore").Logger(),
	}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the data file path for a file-form symbol.
func (s *Store) Path(fileSymbol string) string {
	return filepath.Join(s.dir, fileSymbol+".csv")
}

// ReadExisting loads the bars already on disk for a symbol. A missing file
// yields an empty slice. Rows that fail to parse are skipped with a warning;
// a half-readable file should not block a refresh.
func (s *Store) ReadExisting(fileSymbol string) ([]yahoo.DailyBar, error) {
	f, err := os.Open(s.Path(fileSymbol))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path(fileSymbol), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Path(fileSymbol), err)
	}

	var bars []yahoo.DailyBar
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		bar, err := parseRow(rec)
		if err != nil {
			s.log.Warn().
				Str("symbol", fileSymbol).
				Int("line", i+1).
				Err(err).
				Msg("Skipping unparseable CSV row")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// MergeAndWrite unions newBars with the bars already on disk (new bars win on
// date conflicts), sorts descending by date, and atomically rewrites the
// file. Returns the total row count written.
func (s *Store) MergeAndWrite(fileSymbol string, newBars []yahoo.DailyBar) (int, error) {
	existing, err := s.ReadExisting(fileSymbol)
	if err != nil {
		return 0, err
	}

	merged := Merge(existing, newBars)
	if err := s.writeAtomic(fileSymbol, merged); err != nil {
		return 0, err
	}

	s.log.Debug().
		Str("symbol", fileSymbol).
		Int("new", len(newBars)).
		Int("total", len(merged)).
		Msg("Wrote symbol CSV")
	return len(merged), nil
}

// WriteEmpty writes a header-only file, recording a negative result for a
// delisted symbol. An existing data file is left untouched.
func (s *Store) WriteEmpty(fileSymbol string) error {
	if _, err := os.Stat(s.Path(fileSymbol)); err == nil {
		return nil
	}
	return s.writeAtomic(fileSymbol, nil)
}

// Merge unions two bar sets by date, with b winning conflicts, sorted
// descending by date.
func Merge(a, b []yahoo.DailyBar) []yahoo.DailyBar {
	byDate := make(map[time.Time]yahoo.DailyBar, len(a)+len(b))
	for _, bar := range a {
		byDate[bar.Date] = bar
	}
	for _, bar := range b {
		byDate[bar.Date] = bar
	}

	merged := make([]yahoo.DailyBar, 0, len(byDate))
	for _, bar := range byDate {
		merged = append(merged, bar)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.After(merged[j].Date) })
	return merged
}

func (s *Store) writeAtomic(fileSymbol string, bars []yahoo.DailyBar) error {
	tmp, err := os.CreateTemp(s.dir, fileSymbol+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, bar := range bars {
		if err := w.Write(formatRow(bar)); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(fileSymbol)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.Path(fileSymbol), err)
	}
	return nil
}

func formatRow(b yahoo.DailyBar) []string {
	return []string{
		b.Date.Format(dateLayout),
		formatPrice(b.Open),
		formatPrice(b.High),
		formatPrice(b.Low),
		formatPrice(b.Close),
		formatPrice(b.AdjClose),
		strconv.FormatInt(b.Volume, 10),
	}
}

// formatPrice uses the shortest decimal representation that round-trips
// exactly, so re-reading a file reproduces the same values bit for bit.
func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseRow(rec []string) (yahoo.DailyBar, error) {
	var bar yahoo.DailyBar

	date, err := time.ParseInLocation(dateLayout, rec[0], time.UTC)
	if err != nil {
		return bar, fmt.Errorf("bad date %q: %w", rec[0], err)
	}
	bar.Date = date

	prices := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.AdjClose}
	for i, dst := range prices {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return bar, fmt.Errorf("bad price %q: %w", rec[i+1], err)
		}
		*dst = v
	}

	vol, err := strconv.ParseInt(rec[6], 10, 64)
	if err != nil {
		return bar, fmt.Errorf("bad volume %q: %w", rec[6], err)
	}
	bar.Volume = vol
	return bar, nil
}
