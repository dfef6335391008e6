package telegram

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketForecast/internal/config"
	"marketForecast/internal/finance"
	"marketForecast/internal/pipeline"
	"marketForecast/internal/storage"
)

type call struct {
	method string
	chatID string
	text   string
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	if method == "getMe" {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"fc","username":"forecast_bot"}}`))
		return
	}
	text := r.FormValue("text")
	if text == "" {
		text = r.FormValue("caption")
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, chatID: r.FormValue("chat_id"), text: text})
	f.mu.Unlock()
	if method == "setWebhook" {
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
}

func (f *fakeAPI) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newTestNotifier(t *testing.T) (*Notifier, *fakeAPI) {
	t.Helper()
	fake := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	n, err := NewNotifierWithEndpoint("TOKEN", srv.URL+"/bot%s/%s", 42, srv.Client())
	require.NoError(t, err)
	return n, fake
}

type stubRunner struct {
	report string
	charts []string
	err    error
}

func (s stubRunner) RunReport(context.Context) (string, []string, error) {
	return s.report, s.charts, s.err
}

type ctxRunner struct {
	seen chan error
}

func (r ctxRunner) RunReport(ctx context.Context) (string, []string, error) {
	r.seen <- ctx.Err()
	return "", nil, ctx.Err()
}

// waveSource serves a weekday-only sine price path.
type waveSource struct{}

func (waveSource) Name() string { return "wave" }

func (waveSource) FetchDailyBars(_ context.Context, ticker string, start, end time.Time) ([]finance.Bar, error) {
	base := map[string]float64{"TSLA": 200, "BND": 70}[ticker]
	var bars []finance.Bar
	i := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		px := base*(1+0.0005*float64(i)) + base*0.04*math.Sin(float64(i)/3)
		bars = append(bars, finance.Bar{Date: d, Open: px, High: px * 1.01, Low: px * 0.99, Close: px, Volume: 1e6})
		i++
	}
	return bars, nil
}

func pipelineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Data.Tickers = []string{"TSLA", "BND"}
	cfg.Data.Start = "2023-01-01"
	cfg.Data.End = "2024-01-01"
	cfg.Data.RawPath = filepath.Join(dir, "raw_data.csv")
	cfg.Data.CleanedPath = filepath.Join(dir, "cleaned_data.csv")
	cfg.Analysis.ReportsDir = filepath.Join(dir, "reports")
	cfg.Analysis.RollingWindow = 5
	cfg.Analysis.DecompositionPeriod = 20
	cfg.Forecast.Horizon = 10
	cfg.Forecast.ARIMA.P = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

type stubLister struct {
	runs  []storage.Run
	limit int
}

func (s *stubLister) RecentRuns(limit int) ([]storage.Run, error) {
	s.limit = limit
	return s.runs, nil
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("aaaa\nbbbb\ncccc\n", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc\n"}, parts)

	long := strings.Repeat("x", 25)
	parts = splitMessage(long, 10)
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, parts)
	for _, p := range splitMessage(strings.Repeat("line\n", 2000), maxMessageLen) {
		assert.LessOrEqual(t, len(p), maxMessageLen)
	}
}

func TestNotifierSendTextAndPhoto(t *testing.T) {
	t.Parallel()
	n, fake := newTestNotifier(t)

	require.NoError(t, n.SendText("hello"))
	img := filepath.Join(t.TempDir(), "closing_prices.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG"), 0o644))
	require.NoError(t, n.SendPhoto(img, ""))
	require.NoError(t, n.SetWebhook("https://example.com/telegram/webhook"))

	calls := fake.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, call{"sendMessage", "42", "hello"}, calls[0])
	assert.Equal(t, "sendPhoto", calls[1].method)
	assert.Equal(t, "closing_prices", calls[1].text)
	assert.Equal(t, "setWebhook", calls[2].method)
}

func TestHandlersForecast(t *testing.T) {
	t.Parallel()
	n, fake := newTestNotifier(t)
	img := filepath.Join(t.TempDir(), "tsla_arima_forecast.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG"), 0o644))
	h := NewHandlers(context.Background(), n, stubRunner{report: "TSLA_Close ARIMA RMSE=1.0", charts: []string{img}}, nil)

	h.HandleMessage(7, "/forecast")

	calls := fake.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "7", calls[0].chatID)
	assert.Contains(t, calls[0].text, "Running")
	assert.Equal(t, "TSLA_Close ARIMA RMSE=1.0", calls[1].text)
	assert.Equal(t, "sendPhoto", calls[2].method)
}

func TestHandlersForecastDeliversOnce(t *testing.T) {
	t.Parallel()
	n, fake := newTestNotifier(t)
	cfg := pipelineConfig(t)
	p := pipeline.New(cfg, waveSource{}, pipeline.WithNotifier(n))
	h := NewHandlers(context.Background(), n, p, nil)

	h.HandleMessage(42, "/forecast")

	charts, err := filepath.Glob(filepath.Join(cfg.Analysis.ReportsDir, "*.png"))
	require.NoError(t, err)
	require.NotEmpty(t, charts)

	var texts []string
	photos := 0
	for _, c := range fake.snapshot() {
		assert.Equal(t, "42", c.chatID)
		switch c.method {
		case "sendMessage":
			texts = append(texts, c.text)
		case "sendPhoto":
			photos++
		}
	}
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Running")
	assert.Contains(t, texts[1], "Forecast TSLA_Close, horizon 10")
	assert.Equal(t, len(charts), photos)
}

func TestHandlersForecastUsesServeContext(t *testing.T) {
	t.Parallel()
	n, fake := newTestNotifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := ctxRunner{seen: make(chan error, 1)}
	h := NewHandlers(ctx, n, runner, nil)

	h.HandleMessage(7, "/forecast")

	assert.ErrorIs(t, <-runner.seen, context.Canceled)
	calls := fake.snapshot()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].text, "Forecast failed")
}

func TestHandlersForecastFailure(t *testing.T) {
	t.Parallel()
	n, fake := newTestNotifier(t)
	h := NewHandlers(context.Background(), n, stubRunner{err: errors.New("provider down")}, nil)

	h.HandleMessage(7, "/forecast@forecast_bot")

	calls := fake.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "Forecast failed: provider down", calls[1].text)
}

func TestHandlersRunsAndHelp(t *testing.T) {
	t.Parallel()
	n, fake := newTestNotifier(t)
	lister := &stubLister{runs: []storage.Run{{
		ID: "0123456789abcdef", StartedAt: time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC),
		Target: "TSLA_Close", Horizon: 30, Status: storage.StatusFailed, Error: "yahoo: timeout",
	}}}
	h := NewHandlers(context.Background(), n, nil, lister)

	h.HandleMessage(7, "/runs 500")
	h.HandleMessage(7, "/help")
	h.HandleMessage(7, "/forecast")
	h.HandleMessage(7, "just chatting")

	assert.Equal(t, 50, lister.limit)
	calls := fake.snapshot()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].text, "2024-03-01 22:30  failed  TSLA_Close h=30  01234567")
	assert.Contains(t, calls[0].text, "yahoo: timeout")
	assert.Contains(t, calls[1].text, "/runs [N]")
	assert.Equal(t, "Forecasting is not available.", calls[2].text)
}

func TestFormatRunsEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "No runs recorded yet.", FormatRuns(nil))
}

func TestWebhookHandler(t *testing.T) {
	t.Parallel()
	n, fake := newTestNotifier(t)
	h := NewHandlers(context.Background(), n, nil, nil)
	handler := WebhookHandler(h)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":1}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := []byte(`{"update_id":2,"message":{"message_id":5,"date":0,"chat":{"id":9,"type":"private"},"text":"/help"}}`)
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Eventually(t, func() bool {
		calls := fake.snapshot()
		return len(calls) == 1 && calls[0].chatID == "9"
	}, 2*time.Second, 10*time.Millisecond)
}
