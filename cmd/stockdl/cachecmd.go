package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stockdl/internal/cache"
)

func init() {
	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or wipe the coverage cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe all cached coverage, delisted flags, and sentinels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		store, err := cache.Open(cfg.CachePath, log)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ClearAll(); err != nil {
			return err
		}
		fmt.Println("cache cleared:", cfg.CachePath)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise cache contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		store, err := cache.Open(cfg.CachePath, log)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats()
		if err != nil {
			return err
		}
		fmt.Printf("symbols with coverage: %d\n", stats.Symbols)
		fmt.Printf("delisted symbols:      %d\n", stats.Delisted)
		fmt.Printf("no-data intervals:     %d\n", stats.NoDataIntervals)

		if day, fresh, err := store.LatestTradingDaySentinel(); err == nil && !day.IsZero() {
			state := "stale"
			if fresh {
				state = "fresh"
			}
			fmt.Printf("latest trading day:    %s (%s)\n", day.Format(dateLayout), state)
		}
		return nil
	},
}
