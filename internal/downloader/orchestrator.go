// Package downloader orchestrates a download run: it fans symbols out over a
// bounded worker pool, consults the coverage cache to skip settled work,
// retries transient upstream failures, validates what comes back, and lands
// the survivors in per-symbol CSV files.
package downloader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockdl/internal/cache"
	"stockdl/internal/calendar"
	"stockdl/internal/clients/yahoo"
	"stockdl/internal/csvstore"
	"stockdl/internal/fetch"
	"stockdl/internal/symbols"
	"stockdl/internal/validate"
)

// Concurrency bounds for the worker pool.
const (
	DefaultConcurrency = 3
	MaxConcurrency     = 10
)

// BarSource fetches daily bars for one wire-form symbol.
type BarSource interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]yahoo.DailyBar, error)
}

// Options tunes a run.
type Options struct {
	Concurrency int          // worker count, clamped to [1, MaxConcurrency]
	ForceUpdate bool         // bypass the coverage cache
	Policy      fetch.Policy // retry tuning; zero value means DefaultPolicy
}

// Orchestrator runs download batches. Safe for sequential reuse; one Run at a
// time.
type Orchestrator struct {
	source  BarSource
	cache   *cache.Store
	csv     *csvstore.Store
	policy  fetch.Policy
	cooloff *fetch.Cooloff
	workers int
	force   bool
	log     zerolog.Logger

	// Injectable for tests.
	now func() time.Time
}

// New wires an orchestrator over the given source and stores.
func New(source BarSource, cacheStore *cache.Store, csvStore *csvstore.Store, opts Options, log zerolog.Logger) *Orchestrator {
	workers := opts.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if workers > MaxConcurrency {
		workers = MaxConcurrency
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = fetch.DefaultPolicy()
	}

	return &Orchestrator{
		source:  source,
		cache:   cacheStore,
		csv:     csvStore,
		policy:  policy,
		cooloff: fetch.NewCooloff(),
		workers: workers,
		force:   opts.ForceUpdate,
		log:     log.With().Str("component", "downloader").Logger(),
		now:     time.Now,
	}
}

// Run downloads the requested window for every symbol and returns the
// per-symbol outcomes. The run itself only errors on cancellation; individual
// symbol failures land in the summary.
func (o *Orchestrator) Run(ctx context.Context, syms []string, start, end time.Time) (*Summary, error) {
	now := o.now()
	summary := &Summary{Started: now}

	if err := o.cache.PutLatestTradingDaySentinel(calendar.LastTradingDay(now)); err != nil {
		o.log.Warn().Err(err).Msg("Failed to record trading-day sentinel")
	}

	o.log.Info().
		Int("symbols", len(syms)).
		Int("workers", o.workers).
		Time("start", start).
		Time("end", end).
		Bool("force", o.force).
		Msg("Starting download run")

	jobs := make(chan int)
	results := make([]Result, len(syms))

	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = o.processSymbol(ctx, syms[i], start, end, now)
			}
		}()
	}

	for i := range syms {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return summary, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	for _, r := range results {
		summary.add(r)
	}
	summary.Elapsed = time.Since(now)

	o.log.Info().
		Int("fetched", summary.Fetched).
		Int("cached", summary.Cached).
		Int("delisted", summary.Delisted).
		Int("no_data", summary.NoData).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.Elapsed).
		Msg("Download run finished")

	return summary, nil
}

func (o *Orchestrator) processSymbol(ctx context.Context, symbol string, start, end, now time.Time) Result {
	began := time.Now()
	res := Result{Symbol: symbol}
	log := o.log.With().Str("symbol", symbol).Logger()

	ranges, cached := o.plan(symbol, start, end, now, log)
	if cached {
		res.Status = StatusCached
		res.Duration = time.Since(began)
		log.Debug().Msg("Cache covers requested range, skipping")
		return res
	}

	// One wall-clock budget for the symbol across all its ranges and regimes.
	budgetCtx, cancel := context.WithTimeout(ctx, o.policy.Budget())
	defer cancel()

	wireSym := symbols.WireForm(symbol)
	var collected []yahoo.DailyBar
	sawNoData := false

	for _, rng := range ranges {
		bars, attempts, err := o.fetchRange(budgetCtx, wireSym, rng)
		res.Attempts += attempts
		if err == nil {
			collected = append(collected, bars...)
			continue
		}

		fe := yahoo.Classify(err)
		switch fe.Kind {
		case yahoo.KindDelisted:
			return o.finishDelisted(symbol, res, began, log)
		case yahoo.KindNoData:
			sawNoData = true
			if cerr := o.cache.RecordNoDataRange(symbol, rng.Start, rng.End); cerr != nil {
				log.Warn().Err(cerr).Msg("Failed to record no-data range")
			}
		default:
			res.Status = StatusFailed
			res.Kind = fe.Kind
			res.Err = fe
			res.Duration = time.Since(began)
			log.Error().
				Str("kind", fe.Kind.String()).
				Int("attempts", res.Attempts).
				Err(fe).
				Msg("Symbol failed")
			return res
		}
	}

	if len(collected) == 0 {
		if sawNoData {
			res.Status = StatusNoData
		} else {
			res.Status = StatusCached
		}
		res.Duration = time.Since(began)
		return res
	}

	valid, rejected := validate.Bars(collected)
	res.Rejected = rejected
	if rejected > 0 {
		log.Warn().Int("rejected", rejected).Msg("Dropped bars failing validation")
	}

	if _, err := o.csv.MergeAndWrite(symbols.FileForm(symbol), valid); err != nil {
		res.Status = StatusFailed
		res.Kind = yahoo.KindStorage
		res.Err = err
		res.Duration = time.Since(began)
		log.Error().Err(err).Msg("Failed to write CSV")
		return res
	}

	// Coverage is published only after the CSV write is durable.
	effEnd := calendar.AdjustToLatestTradingDay(end, now)
	if err := o.cache.PutCoverage(cache.Coverage{
		Symbol:         symbol,
		CoveredStart:   calendar.DateOf(start),
		CoveredEnd:     effEnd,
		LastUpdate:     now.UTC(),
		LastTradingDay: calendar.LastTradingDay(now),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to update coverage")
	}

	res.Status = StatusFetched
	res.Bars = len(valid)
	res.Duration = time.Since(began)
	log.Info().Int("bars", res.Bars).Int("attempts", res.Attempts).Msg("Symbol fetched")
	return res
}

// plan resolves which date ranges need the network. The cache is advisory:
// read errors degrade to a full fetch rather than failing the symbol.
func (o *Orchestrator) plan(symbol string, start, end, now time.Time, log zerolog.Logger) ([]cache.Interval, bool) {
	effEnd := calendar.AdjustToLatestTradingDay(end, now)
	full := cache.Interval{Start: calendar.DateOf(start), End: effEnd}
	if full.End.Before(full.Start) {
		return nil, true
	}

	if o.force {
		return []cache.Interval{full}, false
	}

	need, ranges, err := o.cache.NeedsFetch(symbol, start, end, now)
	if err != nil {
		log.Warn().Err(err).Msg("Cache lookup failed, fetching full range")
		return []cache.Interval{full}, false
	}
	return ranges, !need
}

// fetchRange runs the normal retry regime and, if it exhausts on a retryable
// error, one stronger pass. Attempts are summed across both regimes.
func (o *Orchestrator) fetchRange(ctx context.Context, wireSym string, rng cache.Interval) ([]yahoo.DailyBar, int, error) {
	fn := func(ctx context.Context) ([]yahoo.DailyBar, error) {
		return o.source.FetchBars(ctx, wireSym, rng.Start, rng.End)
	}

	normal := fetch.New(o.policy, o.cooloff, o.log)
	bars, attempts, err := normal.Do(ctx, wireSym, fn)
	if err == nil {
		return bars, attempts, nil
	}
	if budgetErr := o.timeoutError(ctx, wireSym); budgetErr != nil {
		return nil, attempts, budgetErr
	}
	if fe := yahoo.Classify(err); !fe.Retryable() {
		return nil, attempts, err
	}

	// The normal budget ran out on something retryable; escalate once.
	special := fetch.New(o.policy.Special(), o.cooloff, o.log)
	bars, extra, err := special.Do(ctx, wireSym, fn)
	attempts += extra
	if err != nil {
		if budgetErr := o.timeoutError(ctx, wireSym); budgetErr != nil {
			return nil, attempts, budgetErr
		}
		return nil, attempts, err
	}
	return bars, attempts, nil
}

// timeoutError maps an expired per-symbol budget to its own error kind so the
// failure report separates slowness from upstream rejection.
func (o *Orchestrator) timeoutError(ctx context.Context, wireSym string) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return &yahoo.FetchError{
		Kind:    yahoo.KindTimeout,
		Symbol:  wireSym,
		Message: "per-symbol time budget exhausted",
	}
}

func (o *Orchestrator) finishDelisted(symbol string, res Result, began time.Time, log zerolog.Logger) Result {
	if err := o.cache.MarkDelisted(symbol); err != nil {
		log.Warn().Err(err).Msg("Failed to mark delisted")
	}
	if err := o.csv.WriteEmpty(symbols.FileForm(symbol)); err != nil {
		log.Warn().Err(err).Msg("Failed to write empty CSV for delisted symbol")
	}
	res.Status = StatusDelisted
	res.Duration = time.Since(began)
	log.Info().Msg("Symbol reported delisted upstream")
	return res
}
