package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stockdl/internal/cache"
	"stockdl/internal/calendar"
	"stockdl/internal/clients/yahoo"
	"stockdl/internal/config"
	"stockdl/internal/csvstore"
	"stockdl/internal/downloader"
	"stockdl/internal/fetch"
	"stockdl/internal/scheduler"
)

var (
	flagSymbols     []string
	flagSymbolsFile string
	flagUniverse    string
	flagStartDate   string
	flagEndDate     string
	flagCacheClear  bool
	flagForceUpdate bool
	flagSchedule    string
)

func init() {
	f := downloadCmd.Flags()
	f.StringSliceVar(&flagSymbols, "symbols", nil, "Explicit comma-separated symbol list")
	f.StringVar(&flagSymbolsFile, "symbols-file", "", "File with one symbol per line")
	f.StringVar(&flagUniverse, "universe", "", "Curated universe token (dow30, indices, sp500, portfolio, broker)")
	f.StringVar(&flagStartDate, "start-date", "", "Window start yyyy-MM-dd (default: 1 year ago)")
	f.StringVar(&flagEndDate, "end-date", "", "Window end yyyy-MM-dd (default: today)")
	f.Int("concurrent", downloader.DefaultConcurrency, "Worker count (max 10)")
	f.Int("max-retries", 3, "Attempts per range in the normal retry regime")
	f.Int("retry-delay-ms", 1000, "Base backoff delay in milliseconds")
	f.Int("rate-limit-delay-ms", 30000, "Minimum delay after HTTP 429 in milliseconds")
	f.Bool("exponential", true, "Exponential backoff between retries")
	f.Bool("jitter", true, "Randomise backoff delays by ±20%")
	f.StringVar(&flagSchedule, "schedule", "", "Cron schedule; keep running and refresh on it")
	f.BoolVar(&flagCacheClear, "cache-clear", false, "Wipe the cache before running")
	f.BoolVar(&flagForceUpdate, "force-update", false, "Bypass the cache and always fetch")

	viper.BindPFlag("concurrent", f.Lookup("concurrent"))
	viper.BindPFlag("max_retries", f.Lookup("max-retries"))
	viper.BindPFlag("retry_delay_ms", f.Lookup("retry-delay-ms"))
	viper.BindPFlag("rate_limit_delay_ms", f.Lookup("rate-limit-delay-ms"))
	viper.BindPFlag("exponential", f.Lookup("exponential"))
	viper.BindPFlag("jitter", f.Lookup("jitter"))

	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download daily bars for a symbol set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		syms, err := selectSymbols(cfg, log, flagSymbols, flagSymbolsFile, flagUniverse)
		if err != nil {
			return err
		}
		start, end, err := parseWindow(flagStartDate, flagEndDate, time.Now())
		if err != nil {
			return err
		}

		cacheStore, err := cache.Open(cfg.CachePath, log)
		if err != nil {
			return fmt.Errorf("cache unavailable: %w", err)
		}
		defer cacheStore.Close()

		if flagCacheClear {
			if err := cacheStore.ClearAll(); err != nil {
				return fmt.Errorf("cache wipe failed: %w", err)
			}
		}

		if err := preflight(cfg, cacheStore, log); err != nil {
			return err
		}

		csvStore, err := csvstore.New(cfg.OutputDir, log)
		if err != nil {
			return err
		}

		client := yahoo.NewClient(log, yahoo.WithRateLimit(cfg.RatePerSecond))
		orch := downloader.New(client, cacheStore, csvStore, downloader.Options{
			Concurrency: cfg.Concurrency,
			ForceUpdate: flagForceUpdate,
			Policy:      policyFromConfig(cfg),
		}, log)

		run := func() error {
			return runOnce(cmd.Context(), orch, csvStore, log, syms, start, end)
		}

		if flagSchedule != "" {
			return runScheduled(log, flagSchedule, run)
		}
		return run()
	},
}

func runOnce(ctx context.Context, orch *downloader.Orchestrator, csvStore *csvstore.Store, log zerolog.Logger, syms []string, start, end time.Time) error {
	summary, err := orch.Run(ctx, syms, start, end)
	if err != nil {
		return err
	}

	for _, r := range summary.Results {
		fmt.Printf("%-10s %-9s bars=%d attempts=%d\n", r.Symbol, r.Status, r.Bars, r.Attempts)
	}
	fmt.Printf("fetched=%d cached=%d delisted=%d no_data=%d failed=%d elapsed=%s\n",
		summary.Fetched, summary.Cached, summary.Delisted, summary.NoData, summary.Failed,
		summary.Elapsed.Round(time.Millisecond))

	if err := downloader.WriteFailureReport(csvStore.Dir(), summary, time.Now()); err != nil {
		return err
	}
	if summary.Failed > 0 {
		fmt.Println("failure report:", csvStore.Dir()+"/"+downloader.ReportFileName)
		return fmt.Errorf("%d of %d symbols failed", summary.Failed, len(summary.Results))
	}
	return nil
}

// preflight runs the daily environment check, memoised in the cache so
// repeated runs on the same day skip it.
func preflight(cfg *config.Config, cacheStore *cache.Store, log zerolog.Logger) error {
	today := calendar.DateOf(calendar.NowEastern())

	passed, found, err := cacheStore.PreflightRecord(today)
	if err != nil {
		return err
	}
	if !found {
		perr := cfg.Preflight()
		passed = perr == nil
		if err := cacheStore.SetPreflightRecord(today, passed); err != nil {
			log.Warn().Err(err).Msg("Failed to record preflight result")
		}
		if perr != nil {
			return fmt.Errorf("preflight failed: %w", perr)
		}
		return nil
	}
	if !passed {
		return fmt.Errorf("preflight already failed today; fix the environment and rerun with --cache-clear")
	}
	return nil
}

// runScheduled runs the download immediately, then again on the cron schedule
// until interrupted.
func runScheduled(log zerolog.Logger, spec string, run func() error) error {
	sched := scheduler.New(log)
	job := scheduler.Job{Name: "download", Run: run}

	if err := sched.AddJob(spec, job); err != nil {
		return fmt.Errorf("bad --schedule %q: %w", spec, err)
	}
	if err := sched.RunNow(job); err != nil {
		log.Error().Err(err).Msg("Initial download failed, staying scheduled")
	}
	sched.Start()
	defer sched.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")
	return nil
}

func policyFromConfig(cfg *config.Config) fetch.Policy {
	policy := fetch.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxRetries
	policy.BaseDelay = time.Duration(cfg.RetryDelayMS) * time.Millisecond
	policy.RateLimitDelay = time.Duration(cfg.RateLimitDelayMS) * time.Millisecond
	policy.Exponential = cfg.Exponential
	policy.Jitter = cfg.Jitter
	return policy
}
