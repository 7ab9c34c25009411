package symbols

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Universe tokens accepted on the command line.
const (
	UniverseDow30     = "dow30"
	UniverseIndices   = "indices"
	UniverseSP500     = "sp500"
	UniversePortfolio = "portfolio"
	UniverseBroker    = "broker"
)

// dow30 is the Dow Jones Industrial Average constituent list. Constituents
// change rarely; operators can override with a file-based universe.
var dow30 = []string{
	"AAPL", "AMGN", "AMZN", "AXP", "BA", "CAT", "CRM", "CSCO", "CVX", "DIS",
	"GS", "HD", "HON", "IBM", "JNJ", "JPM", "KO", "MCD", "MMM", "MRK",
	"MSFT", "NKE", "NVDA", "PG", "SHW", "TRV", "UNH", "V", "VZ", "WMT",
}

// majorIndices are the index symbols tracked by the indices universe.
var majorIndices = []string{
	"^GSPC", "^DJI", "^IXIC", "^RUT", "^VIX", "^FTSE", "^N225",
}

// Loader resolves universe tokens and symbol files to symbol lists.
// File-backed universes (sp500, portfolio, broker) live as one-symbol-per-line
// text files in the universe directory; list acquisition itself happens
// outside this tool.
type Loader struct {
	dir string
	log zerolog.Logger
}

// NewLoader creates a universe loader rooted at dir.
func NewLoader(dir string, log zerolog.Logger) *Loader {
	return &Loader{
		dir: dir,
		log: log.With().Str("component", "universe").Logger(),
	}
}

// Resolve maps a universe token to its symbol list.
func (l *Loader) Resolve(token string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case UniverseDow30:
		return append([]string(nil), dow30...), nil
	case UniverseIndices:
		return append([]string(nil), majorIndices...), nil
	case UniverseSP500, UniversePortfolio, UniverseBroker:
		path := filepath.Join(l.dir, strings.ToLower(token)+".txt")
		syms, err := FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("universe %q: %w", token, err)
		}
		l.log.Info().Str("universe", token).Int("symbols", len(syms)).Msg("Loaded universe file")
		return syms, nil
	default:
		return nil, fmt.Errorf("unknown universe %q", token)
	}
}

// FromFile reads a symbol list file: one symbol per line, blank lines and
// #-comments ignored, duplicates removed.
func FromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var syms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sym := strings.ToUpper(line)
		if !seen[sym] {
			seen[sym] = true
			syms = append(syms, sym)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbol file: %w", err)
	}
	return syms, nil
}

// Dedupe removes duplicates from an explicit symbol list, preserving order.
func Dedupe(symbols []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// Universes lists the accepted universe tokens, for help text.
func Universes() []string {
	u := []string{UniverseDow30, UniverseIndices, UniverseSP500, UniversePortfolio, UniverseBroker}
	sort.Strings(u)
	return u
}
