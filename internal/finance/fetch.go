package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"

// YahooProvider fetches daily bars from the Yahoo Finance chart API.
type YahooProvider struct {
	Client   *http.Client
	Hosts    []string // base URLs tried in order
	Backoffs []time.Duration
}

// NewYahooProvider returns a provider using both public query hosts.
func NewYahooProvider(timeout time.Duration) *YahooProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooProvider{
		Client:   &http.Client{Timeout: timeout},
		Hosts:    []string{"https://query1.finance.yahoo.com", "https://query2.finance.yahoo.com"},
		Backoffs: []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second},
	}
}

func (p *YahooProvider) Name() string { return "yahoo" }

// FetchDailyBars fetches daily OHLCV bars for ticker over [start, end). Every
// host is tried on each attempt; the last failure is returned as a ProviderError.
func (p *YahooProvider) FetchDailyBars(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error) {
	var yc yahooChartResp
	var lastErr error
	for attempt := 0; attempt < len(p.Backoffs)+1; attempt++ {
		for _, host := range p.Hosts {
			lastErr = p.fetchChart(ctx, host, ticker, start, end, &yc)
			if lastErr == nil {
				break
			}
			if ctx.Err() != nil {
				return nil, &ProviderError{Provider: p.Name(), Ticker: ticker, Err: ctx.Err()}
			}
			log.Debug().Str("host", host).Str("ticker", ticker).Err(lastErr).Msg("yahoo: request failed")
		}
		if lastErr == nil {
			break
		}
		if attempt < len(p.Backoffs) {
			select {
			case <-time.After(p.Backoffs[attempt]):
			case <-ctx.Done():
				return nil, &ProviderError{Provider: p.Name(), Ticker: ticker, Err: ctx.Err()}
			}
		}
	}
	if lastErr != nil {
		return nil, &ProviderError{Provider: p.Name(), Ticker: ticker, Err: lastErr}
	}
	bars, err := barsFromChart(&yc)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Ticker: ticker, Err: err}
	}
	return bars, nil
}

func (p *YahooProvider) fetchChart(ctx context.Context, host, ticker string, start, end time.Time, out *yahooChartResp) error {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d&events=div,splits",
		strings.TrimRight(host, "/"), url.PathEscape(ticker), start.Unix(), end.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", yahooUserAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", fmt.Sprintf("https://finance.yahoo.com/quote/%s/history", strings.ToUpper(ticker)))

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("failed to read yahoo response: %w", readErr)
	}
	if resp.StatusCode == http.StatusTooManyRequests || strings.HasPrefix(string(body), "Edge: Too Many Requests") {
		return fmt.Errorf("yahoo returned 429: Edge: Too Many Requests")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yahoo returned %d: %s", resp.StatusCode, preview(body))
	}
	if strings.HasPrefix(string(body), "<") {
		return fmt.Errorf("yahoo returned non-json body: %s", preview(body))
	}
	*out = yahooChartResp{}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse yahoo json: %v; body: %s", err, preview(body))
	}
	if out.Chart.Error != nil {
		return fmt.Errorf("yahoo api error %s: %s", out.Chart.Error.Code, out.Chart.Error.Description)
	}
	return nil
}

func barsFromChart(yc *yahooChartResp) ([]Bar, error) {
	if len(yc.Chart.Result) == 0 || len(yc.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, errors.New("no data")
	}
	res := yc.Chart.Result[0]
	q := res.Indicators.Quote[0]
	loc := exchangeLocation(res.Meta.ExchangeTimezoneName, res.Meta.GmtOffset)
	bars := make([]Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		bars = append(bars, Bar{
			Date:   tradingDate(ts, loc),
			Open:   valueAt(q.Open, i),
			High:   valueAt(q.High, i),
			Low:    valueAt(q.Low, i),
			Close:  valueAt(q.Close, i),
			Volume: valueAt(q.Volume, i),
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func valueAt(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return math.NaN()
	}
	return *vals[i]
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// Load fetches every ticker from src and assembles a raw table on the union
// of their dates. Columns are ordered ticker-major in the order given, fields
// in OHLCVFields order. A ticker without a bar on some date gets NaN there.
func Load(ctx context.Context, src BarSource, tickers []string, start, end time.Time) (*RawTable, error) {
	if len(tickers) == 0 {
		return nil, schemaErrorf("no tickers requested")
	}
	perTicker := make(map[string]map[time.Time]Bar, len(tickers))
	dateSet := make(map[time.Time]struct{})
	for _, ticker := range tickers {
		bars, err := src.FetchDailyBars(ctx, ticker, start, end)
		if err != nil {
			return nil, err
		}
		log.Info().Str("ticker", ticker).Int("bars", len(bars)).Str("source", src.Name()).Msg("loader: fetched")
		m := make(map[time.Time]Bar, len(bars))
		for _, b := range bars {
			m[b.Date] = b
			dateSet[b.Date] = struct{}{}
		}
		perTicker[ticker] = m
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	t := &RawTable{Dates: dates}
	for _, ticker := range tickers {
		for _, field := range OHLCVFields {
			col := make([]float64, len(dates))
			for r, d := range dates {
				col[r] = math.NaN()
				if b, ok := perTicker[ticker][d]; ok {
					col[r], _ = b.Field(field)
				}
			}
			t.Columns = append(t.Columns, ColumnKey{Ticker: ticker, Field: field})
			t.Values = append(t.Values, col)
		}
	}
	return t, nil
}
