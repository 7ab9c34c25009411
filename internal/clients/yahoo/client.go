// Package yahoo fetches historical daily bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stockdl/internal/calendar"
)

const (
	defaultBaseURL   = "https://query1.finance.yahoo.com"
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 2 // requests per second across all workers

	// Body excerpt size retained for malformed responses in the failure report.
	sampleSize = 200
)

// Client is a Yahoo Finance chart API client. One instance serves many
// concurrent requests; the limiter paces them globally.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL overrides the API host (used by tests).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the request pacing in requests per second.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new Yahoo Finance client
func NewClient(log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
		log:     log.With().Str("client", "yahoo").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBars fetches daily bars for wireSymbol over the inclusive date range
// [start, end]. Bars come back sorted ascending by date; sessions the
// upstream padded with nulls are dropped. Failures are *FetchError values.
func (c *Client) FetchBars(ctx context.Context, wireSymbol string, start, end time.Time) ([]DailyBar, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: KindTransient, Symbol: wireSymbol, Message: "cancelled while waiting for rate limiter", cause: err}
	}

	params := url.Values{}
	params.Set("period1", strconv.FormatInt(unixDate(start), 10))
	params.Set("period2", strconv.FormatInt(unixDate(end.AddDate(0, 0, 1)), 10))
	params.Set("interval", "1d")
	params.Set("events", "history")

	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(wireSymbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindBadRequest, Symbol: wireSymbol, Message: err.Error(), cause: err}
	}

	// Exactly these three headers. Larger header sets have been observed to
	// trigger HTTP 431 from the upstream.
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://finance.yahoo.com/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, Symbol: wireSymbol, Message: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, Symbol: wireSymbol, Message: "failed to read response body: " + err.Error(), cause: err}
	}

	if fe := classifyStatus(resp, wireSymbol); fe != nil {
		return nil, fe
	}

	bars, ferr := parseChart(body, wireSymbol)
	if ferr != nil {
		return nil, ferr
	}

	c.log.Debug().
		Str("symbol", wireSymbol).
		Int("bars", len(bars)).
		Time("start", start).
		Time("end", end).
		Msg("Fetched daily bars")

	return bars, nil
}

// unixDate returns the Unix timestamp of midnight UTC on t's date.
func unixDate(t time.Time) int64 {
	return calendar.DateOf(t).Unix()
}

func classifyStatus(resp *http.Response, symbol string) *FetchError {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return &FetchError{
			Kind:       KindRateLimited,
			Symbol:     symbol,
			Message:    "rate limited by upstream",
			StatusCode: code,
			RetryAfter: retryAfter(resp),
		}
	case code >= 500:
		return &FetchError{Kind: KindServerError, Symbol: symbol, Message: "upstream server error", StatusCode: code}
	case code >= 400:
		return &FetchError{Kind: KindBadRequest, Symbol: symbol, Message: "upstream rejected request", StatusCode: code}
	default:
		return &FetchError{Kind: KindMalformed, Symbol: symbol, Message: "unexpected status", StatusCode: code}
	}
}

// retryAfter parses the Retry-After header, seconds form only.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func parseChart(body []byte, symbol string) ([]DailyBar, *FetchError) {
	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &FetchError{
			Kind:    KindMalformed,
			Symbol:  symbol,
			Message: "failed to parse response: " + err.Error(),
			Sample:  sample(body),
			cause:   err,
		}
	}

	if apiErr := result.Chart.Error; apiErr != nil {
		if apiErr.Code == "Not Found" && strings.Contains(apiErr.Description, "may be delisted") {
			return nil, &FetchError{Kind: KindDelisted, Symbol: symbol, Message: apiErr.Description}
		}
		return nil, &FetchError{
			Kind:    KindMalformed,
			Symbol:  symbol,
			Message: fmt.Sprintf("upstream error %s: %s", apiErr.Code, apiErr.Description),
		}
	}

	if len(result.Chart.Result) == 0 {
		return nil, &FetchError{Kind: KindNoData, Symbol: symbol, Message: "empty result array"}
	}

	chart := result.Chart.Result[0]
	if len(chart.Timestamp) == 0 || len(chart.Indicators.Quote) == 0 {
		return nil, &FetchError{Kind: KindNoData, Symbol: symbol, Message: "no sessions in window"}
	}

	quote := chart.Indicators.Quote[0]
	var adjClose []*float64
	if len(chart.Indicators.AdjClose) > 0 {
		adjClose = chart.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]DailyBar, 0, len(chart.Timestamp))
	for i, ts := range chart.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			continue
		}
		// A null at any OHLC index means the session has no usable bar.
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue
		}

		bar := DailyBar{
			Date:  calendar.DateOf(calendar.Eastern(time.Unix(ts, 0))),
			Open:  *quote.Open[i],
			High:  *quote.High[i],
			Low:   *quote.Low[i],
			Close: *quote.Close[i],
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			bar.Volume = *quote.Volume[i]
		}
		bar.AdjClose = bar.Close
		if i < len(adjClose) && adjClose[i] != nil {
			bar.AdjClose = *adjClose[i]
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, &FetchError{Kind: KindNoData, Symbol: symbol, Message: "all sessions null in window"}
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func sample(body []byte) string {
	if len(body) > sampleSize {
		return string(body[:sampleSize])
	}
	return string(body)
}
