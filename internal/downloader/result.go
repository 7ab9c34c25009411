package downloader

import (
	"time"

	"stockdl/internal/clients/yahoo"
)

// Status is the terminal state of one symbol within a run.
type Status int

const (
	// StatusFetched means fresh bars were downloaded and written.
	StatusFetched Status = iota
	// StatusCached means the cache proved the request already covered.
	StatusCached
	// StatusDelisted means upstream flagged the symbol as delisted.
	StatusDelisted
	// StatusNoData means upstream returned an empty series for the range.
	StatusNoData
	// StatusFailed means all retry regimes were exhausted or the error was
	// terminal.
	StatusFailed
)

// String returns the run-report label of the status.
func (s Status) String() string {
	switch s {
	case StatusFetched:
		return "fetched"
	case StatusCached:
		return "cached"
	case StatusDelisted:
		return "delisted"
	case StatusNoData:
		return "no_data"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the per-symbol outcome of a run.
type Result struct {
	Symbol   string
	Status   Status
	Bars     int // bars written this run
	Rejected int // bars dropped by validation
	Attempts int // network attempts across all ranges and regimes
	Kind     yahoo.ErrorKind
	Err      error
	Duration time.Duration
}

// Summary aggregates a whole run.
type Summary struct {
	Results  []Result
	Fetched  int
	Cached   int
	Delisted int
	NoData   int
	Failed   int
	Started  time.Time
	Elapsed  time.Duration
}

// Failures returns the failed results, in input order.
func (s *Summary) Failures() []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusFetched:
		s.Fetched++
	case StatusCached:
		s.Cached++
	case StatusDelisted:
		s.Delisted++
	case StatusNoData:
		s.NoData++
	case StatusFailed:
		s.Failed++
	}
}
