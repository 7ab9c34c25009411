package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClient(zerolog.Nop(), WithHTTPClient(hc), WithRateLimit(1000))
}

// chartJSON builds a minimal upstream response for the given sessions.
// A nil open marks the session as null-padded.
func chartJSON(timestamps []int64, opens []any) string {
	ts := ""
	for i, v := range timestamps {
		if i > 0 {
			ts += ","
		}
		ts += fmt.Sprintf("%d", v)
	}
	field := func(base float64, bump float64) string {
		s := ""
		for i, o := range opens {
			if i > 0 {
				s += ","
			}
			if o == nil {
				s += "null"
			} else {
				s += fmt.Sprintf("%g", base+float64(i)+bump)
			}
		}
		return s
	}
	return fmt.Sprintf(`{"chart":{"result":[{"timestamp":[%s],
		"indicators":{"quote":[{"open":[%s],"high":[%s],"low":[%s],"close":[%s],"volume":[%s]}],
		"adjclose":[{"adjclose":[%s]}]}}],"error":null}}`,
		ts, field(100, 0), field(100, 2), field(100, -1), field(100, 1), field(1000, 0), field(100, 0.5))
}

func TestFetchBarsSuccess(t *testing.T) {
	c := newTestClient(t)

	// Sessions open 2024-01-02 and 2024-01-03 (09:30 ET = 14:30 UTC).
	timestamps := []int64{1704205800, 1704292200}
	var gotURL string
	var gotHeaders http.Header
	httpmock.RegisterResponder("GET", "https://query1.finance.yahoo.com/v8/finance/chart/AAPL",
		func(req *http.Request) (*http.Response, error) {
			gotURL = req.URL.String()
			gotHeaders = req.Header
			return httpmock.NewStringResponse(200, chartJSON(timestamps, []any{1, 1})), nil
		})

	start := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), "AAPL", start, end)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 102.0, bars[0].High)
	assert.Equal(t, 99.0, bars[0].Low)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 100.5, bars[0].AdjClose)
	assert.Equal(t, int64(1000), bars[0].Volume)
	assert.True(t, bars[0].Date.Before(bars[1].Date))

	// Protocol contract: query parameters and the three headers, nothing else.
	assert.Contains(t, gotURL, "interval=1d")
	assert.Contains(t, gotURL, "events=history")
	assert.Contains(t, gotURL, fmt.Sprintf("period1=%d", start.Unix()))
	assert.Contains(t, gotURL, fmt.Sprintf("period2=%d", end.AddDate(0, 0, 1).Unix()))
	assert.Equal(t, "Mozilla/5.0", gotHeaders.Get("User-Agent"))
	assert.Equal(t, "application/json", gotHeaders.Get("Accept"))
	assert.Equal(t, "https://finance.yahoo.com/", gotHeaders.Get("Referer"))
}

func TestFetchBarsWireSymbolInURL(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("GET", "https://query1.finance.yahoo.com/v8/finance/chart/BRK-B",
		httpmock.NewStringResponder(200, chartJSON([]int64{1717421400}, []any{1})))

	d := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), "BRK-B", d, d)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestFetchBarsNullSessionsDropped(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("GET", "https://query1.finance.yahoo.com/v8/finance/chart/AAPL",
		httpmock.NewStringResponder(200, chartJSON([]int64{1704205800, 1704292200, 1704378600}, []any{1, nil, 1})))

	start := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), "AAPL", start, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestFetchBarsErrorMapping(t *testing.T) {
	delistedBody := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`
	emptyBody := `{"chart":{"result":[],"error":null}}`
	allNullBody := chartJSON([]int64{1704153600}, []any{nil})

	tests := []struct {
		name     string
		status   int
		body     string
		headers  map[string]string
		wantKind ErrorKind
	}{
		{name: "rate limited", status: 429, body: "slow down", wantKind: KindRateLimited},
		{name: "server error", status: 503, body: "unavailable", wantKind: KindServerError},
		{name: "bad request", status: 404, body: "nope", wantKind: KindBadRequest},
		{name: "delisted", status: 200, body: delistedBody, wantKind: KindDelisted},
		{name: "empty result", status: 200, body: emptyBody, wantKind: KindNoData},
		{name: "all sessions null", status: 200, body: allNullBody, wantKind: KindNoData},
		{name: "malformed json", status: 200, body: "<html>not json</html>", wantKind: KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			resp := httpmock.NewStringResponse(tt.status, tt.body)
			for k, v := range tt.headers {
				resp.Header.Set(k, v)
			}
			httpmock.RegisterResponder("GET", "https://query1.finance.yahoo.com/v8/finance/chart/XYZQ",
				httpmock.ResponderFromResponse(resp))

			d := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
			_, err := c.FetchBars(context.Background(), "XYZQ", d, d)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestFetchBarsRetryAfterSurfaced(t *testing.T) {
	c := newTestClient(t)

	resp := httpmock.NewStringResponse(429, "slow down")
	resp.Header = http.Header{}
	resp.Header.Set("Retry-After", "42")
	httpmock.RegisterResponder("GET", "https://query1.finance.yahoo.com/v8/finance/chart/AAPL",
		httpmock.ResponderFromResponse(resp))

	d := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	_, err := c.FetchBars(context.Background(), "AAPL", d, d)
	require.Error(t, err)

	fe := Classify(err)
	assert.Equal(t, KindRateLimited, fe.Kind)
	assert.Equal(t, 42*time.Second, fe.RetryAfter)
}

func TestFetchBarsMalformedKeepsSample(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder("GET", "https://query1.finance.yahoo.com/v8/finance/chart/AAPL",
		httpmock.NewStringResponder(200, "<!DOCTYPE html><html>blocked</html>"))

	d := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	_, err := c.FetchBars(context.Background(), "AAPL", d, d)
	require.Error(t, err)

	fe := Classify(err)
	assert.Equal(t, KindMalformed, fe.Kind)
	assert.Contains(t, fe.Sample, "DOCTYPE")
}

func TestClassifyWrapsUnknownErrors(t *testing.T) {
	fe := Classify(fmt.Errorf("connection reset by peer"))
	assert.Equal(t, KindTransient, fe.Kind)
	assert.True(t, fe.Retryable())
}
