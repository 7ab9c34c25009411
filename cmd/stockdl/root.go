package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stockdl/internal/config"
	"stockdl/internal/symbols"
	"stockdl/pkg/logger"
)

const dateLayout = "2006-01-02"

var rootCmd = &cobra.Command{
	Use:           "stockdl",
	Short:         "Batch downloader for historical daily stock bars",
	Long:          "stockdl downloads historical daily bars into per-symbol CSV files,\nskipping ranges its trading-calendar cache proves are already on disk.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("output-dir", "", "Directory for per-symbol CSV files")
	pf.String("cache-path", "", "Path of the coverage cache database")
	pf.String("universe-dir", "", "Directory holding universe symbol files")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.Bool("pretty", false, "Human-readable console log output")

	viper.BindPFlag("output_dir", pf.Lookup("output-dir"))
	viper.BindPFlag("cache_path", pf.Lookup("cache-path"))
	viper.BindPFlag("universe_dir", pf.Lookup("universe-dir"))
	viper.BindPFlag("log_level", pf.Lookup("log-level"))
	viper.BindPFlag("pretty", pf.Lookup("pretty"))
}

// Execute runs the CLI. Any error, including per-symbol failures surfaced by
// the download command, exits with code 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration: env defaults from config.Load, with any
// changed flag overriding through viper.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	viper.SetDefault("output_dir", cfg.OutputDir)
	viper.SetDefault("cache_path", cfg.CachePath)
	viper.SetDefault("universe_dir", cfg.UniverseDir)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("concurrent", cfg.Concurrency)
	viper.SetDefault("max_retries", cfg.MaxRetries)
	viper.SetDefault("retry_delay_ms", cfg.RetryDelayMS)
	viper.SetDefault("rate_limit_delay_ms", cfg.RateLimitDelayMS)
	viper.SetDefault("rate_per_second", cfg.RatePerSecond)
	viper.SetDefault("exponential", cfg.Exponential)
	viper.SetDefault("jitter", cfg.Jitter)

	cfg.OutputDir = viper.GetString("output_dir")
	cfg.CachePath = viper.GetString("cache_path")
	cfg.UniverseDir = viper.GetString("universe_dir")
	cfg.LogLevel = viper.GetString("log_level")
	cfg.Concurrency = viper.GetInt("concurrent")
	cfg.MaxRetries = viper.GetInt("max_retries")
	cfg.RetryDelayMS = viper.GetInt("retry_delay_ms")
	cfg.RateLimitDelayMS = viper.GetInt("rate_limit_delay_ms")
	cfg.RatePerSecond = viper.GetInt("rate_per_second")
	cfg.Exponential = viper.GetBool("exponential")
	cfg.Jitter = viper.GetBool("jitter")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: viper.GetBool("pretty"),
	})
	logger.SetGlobalLogger(log)
	return log
}

// selectSymbols applies the mutually exclusive input selectors.
func selectSymbols(cfg *config.Config, log zerolog.Logger, explicit []string, file, universe string) ([]string, error) {
	selectors := 0
	if len(explicit) > 0 {
		selectors++
	}
	if file != "" {
		selectors++
	}
	if universe != "" {
		selectors++
	}
	if selectors != 1 {
		return nil, errors.New("exactly one of --symbols, --symbols-file, --universe is required")
	}

	switch {
	case len(explicit) > 0:
		return symbols.Dedupe(explicit), nil
	case file != "":
		return symbols.FromFile(file)
	default:
		loader := symbols.NewLoader(cfg.UniverseDir, log)
		syms, err := loader.Resolve(universe)
		if err != nil {
			return nil, fmt.Errorf("%w (known universes: %s)", err, strings.Join(symbols.Universes(), ", "))
		}
		return syms, nil
	}
}

// parseWindow resolves the requested date window: default one year back
// through today.
func parseWindow(startStr, endStr string, now time.Time) (time.Time, time.Time, error) {
	start := now.AddDate(-1, 0, 0)
	end := now

	var err error
	if startStr != "" {
		if start, err = time.ParseInLocation(dateLayout, startStr, time.UTC); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --start-date %q: expected yyyy-MM-dd", startStr)
		}
	}
	if endStr != "" {
		if end, err = time.ParseInLocation(dateLayout, endStr, time.UTC); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --end-date %q: expected yyyy-MM-dd", endStr)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end-date precedes --start-date")
	}
	return start, end, nil
}
