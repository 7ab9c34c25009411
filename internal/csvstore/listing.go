package csvstore

import (
	"encoding/csv"
	"fmt"
	"os"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// ListingEntry is one row of a symbol listing export.
type ListingEntry struct {
	Symbol  string
	Name    string
	Market  string
	IsIndex bool
}

var listingHeader = []string{"Symbol", "Name", "Market", "Type"}

// WriteListing exports a symbol listing CSV. Unlike the data files, listings
// are written in Shift-JIS so spreadsheet tools configured for Japanese
// locales open the names correctly.
func WriteListing(path string, entries []ListingEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create listing file: %w", err)
	}
	defer f.Close()

	enc := transform.NewWriter(f, japanese.ShiftJIS.NewEncoder())
	w := csv.NewWriter(enc)

	if err := w.Write(listingHeader); err != nil {
		return fmt.Errorf("failed to write listing header: %w", err)
	}
	for _, e := range entries {
		kind := "stock"
		if e.IsIndex {
			kind = "index"
		}
		if err := w.Write([]string{e.Symbol, e.Name, e.Market, kind}); err != nil {
			return fmt.Errorf("failed to write listing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush listing: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish encoding: %w", err)
	}
	return nil
}
