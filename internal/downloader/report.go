package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ReportFileName is the failure report written next to the CSV output.
const ReportFileName = "failed_symbols_report.txt"

// WriteFailureReport writes the run's failure report into dir. With zero
// failures any stale report from a previous run is removed instead.
func WriteFailureReport(dir string, summary *Summary, at time.Time) error {
	path := filepath.Join(dir, ReportFileName)

	failures := summary.Failures()
	if len(failures) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale report: %w", err)
		}
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Failed symbols report\n")
	fmt.Fprintf(&b, "Generated: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Symbols attempted: %d, failed: %d\n\n", len(summary.Results), len(failures))

	b.WriteString("Failures by error kind:\n")
	for _, kc := range kindHistogram(failures) {
		fmt.Fprintf(&b, "  %-20s %d\n", kc.kind, kc.count)
	}
	b.WriteString("\n")

	b.WriteString("Symbol details:\n")
	for _, r := range failures {
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		fmt.Fprintf(&b, "  %-10s %-20s attempts=%d  %s\n", r.Symbol, r.Kind.String(), r.Attempts, msg)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

type kindCount struct {
	kind  string
	count int
}

// kindHistogram counts failures per error kind, most frequent first.
func kindHistogram(failures []Result) []kindCount {
	counts := make(map[string]int)
	for _, r := range failures {
		counts[r.Kind.String()]++
	}

	out := make([]kindCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, kindCount{kind: k, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].kind < out[j].kind
	})
	return out
}
