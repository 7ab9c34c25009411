package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"stockdl/internal/csvstore"
	"stockdl/internal/symbols"
)

var (
	listSymbols     []string
	listSymbolsFile string
	listUniverse    string
	listOutput      string
)

func init() {
	f := listcsvCmd.Flags()
	f.StringSliceVar(&listSymbols, "symbols", nil, "Explicit comma-separated symbol list")
	f.StringVar(&listSymbolsFile, "symbols-file", "", "File with one symbol per line")
	f.StringVar(&listUniverse, "universe", "", "Curated universe token (dow30, indices, sp500, portfolio, broker)")
	f.StringVar(&listOutput, "listing-file", "", "Listing file path (default: {output-dir}/listing.csv)")
	rootCmd.AddCommand(listcsvCmd)
}

var listcsvCmd = &cobra.Command{
	Use:   "listcsv",
	Short: "Export the selected symbol set as a Shift-JIS listing CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		syms, err := selectSymbols(cfg, log, listSymbols, listSymbolsFile, listUniverse)
		if err != nil {
			return err
		}

		entries := make([]csvstore.ListingEntry, 0, len(syms))
		for _, sym := range syms {
			entry := csvstore.ListingEntry{Symbol: sym, Name: sym, Market: "US"}
			if symbols.IsIndex(sym) {
				entry.Market = "INDEX"
				entry.IsIndex = true
			}
			entries = append(entries, entry)
		}

		path := listOutput
		if path == "" {
			path = filepath.Join(cfg.OutputDir, "listing.csv")
		}
		if err := csvstore.WriteListing(path, entries); err != nil {
			return err
		}

		fmt.Printf("wrote %d symbols to %s\n", len(entries), path)
		return nil
	},
}
