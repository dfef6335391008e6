// Package pipeline wires the loader, cleaner, explorer and forecaster into one
// run and hands the outcome to storage, metrics and the notifier.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marketForecast/internal/config"
	"marketForecast/internal/finance"
	"marketForecast/internal/forecast"
	"marketForecast/internal/metrics"
	"marketForecast/internal/storage"
)

// Notifier delivers a finished report.
type Notifier interface {
	SendText(text string) error
	SendPhoto(path, caption string) error
}

// Commentator turns a report into a short note.
type Commentator interface {
	Comment(ctx context.Context, report string) (string, error)
}

// Pipeline runs Loader → Cleaner → {Explorer, Forecaster}. The store, metrics,
// notifier and commentator are optional.
type Pipeline struct {
	cfg         *config.Config
	source      finance.BarSource
	renderer    *finance.Renderer
	store       *storage.Store
	metrics     *metrics.Recorder
	notifier    Notifier
	commentator Commentator

	mu sync.Mutex // one run at a time
}

type Option func(*Pipeline)

func WithStore(s *storage.Store) Option { return func(p *Pipeline) { p.store = s } }
func WithMetrics(m *metrics.Recorder) Option { return func(p *Pipeline) { p.metrics = m } }
func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }
func WithCommentator(c Commentator) Option { return func(p *Pipeline) { p.commentator = c } }
func WithRenderer(r *finance.Renderer) Option { return func(p *Pipeline) { p.renderer = r } }

func New(cfg *config.Config, source finance.BarSource, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, source: source, renderer: finance.NewRenderer(cfg.Analysis.ReportsDir)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Exploration holds the read-only analysis of a cleaned table.
type Exploration struct {
	Returns       *finance.CleanedTable
	Rolling       []finance.Series
	Outliers      []finance.Outlier
	Decomposition *finance.Decomposition // nil when the target is shorter than two periods
	Risk          []finance.RiskMetrics
	Charts        []string
}

// Fetch loads the configured tickers and writes the raw CSV.
func (p *Pipeline) Fetch(ctx context.Context) (*finance.RawTable, error) {
	var raw *finance.RawTable
	err := p.stage("fetch", func() error {
		var err error
		raw, err = finance.Load(ctx, p.source, p.cfg.Data.Tickers, p.cfg.StartDate(), p.cfg.EndDate())
		if err != nil {
			return err
		}
		return finance.WriteRawCSV(p.cfg.Data.RawPath, raw)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("rows", raw.Rows()).Int("columns", len(raw.Columns)).Str("path", p.cfg.Data.RawPath).Msg("pipeline: raw data saved")
	return raw, nil
}

// Clean cleans raw and writes the cleaned CSV.
func (p *Pipeline) Clean(raw *finance.RawTable) (*finance.CleanedTable, error) {
	if dups := finance.DuplicateDates(raw.Dates); len(dups) > 0 {
		log.Warn().Int("count", len(dups)).Time("first", dups[0]).Msg("pipeline: raw data has duplicate dates")
	}
	for col, n := range finance.LeadingGaps(raw) {
		if n > 0 {
			log.Info().Str("column", col).Int("rows", n).Msg("pipeline: leading gap drops rows for every asset")
		}
	}
	var ct *finance.CleanedTable
	err := p.stage("clean", func() error {
		var err error
		ct, err = finance.CleanAndSave(raw, p.cfg.Data.CleanedPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("rows", ct.Rows()).Int("dropped", raw.Rows()-ct.Rows()).Str("path", p.cfg.Data.CleanedPath).Msg("pipeline: cleaned data saved")
	return ct, nil
}

// Explore computes returns, rolling means, outliers, the target's
// decomposition and per-asset risk, and renders their charts.
func (p *Pipeline) Explore(ct *finance.CleanedTable) (*Exploration, error) {
	a := p.cfg.Analysis
	exp := &Exploration{}
	err := p.stage("explore", func() error {
		var err error
		if exp.Returns, err = finance.DailyReturns(ct); err != nil {
			return err
		}
		for _, label := range ct.ColumnsWithSuffix(finance.FieldClose) {
			s, err := ct.Series(label)
			if err != nil {
				return err
			}
			m := finance.RollingMean(s, a.RollingWindow)
			m.Name = label
			exp.Rolling = append(exp.Rolling, m)
		}
		exp.Outliers = finance.Outliers(exp.Returns, a.OutlierThreshold)
		if exp.Risk, err = finance.AssessRisk(exp.Returns); err != nil {
			return err
		}

		target, err := ct.Series(p.cfg.Forecast.Target)
		if err != nil {
			return err
		}
		exp.Decomposition, err = finance.Decompose(target, a.DecompositionPeriod)
		if errors.Is(err, finance.ErrInsufficientData) {
			log.Warn().Err(err).Str("series", target.Name).Msg("pipeline: decomposition skipped")
			exp.Decomposition, err = nil, nil
		}
		if err != nil {
			return err
		}
		return p.renderExploration(ct, exp)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("outliers", len(exp.Outliers)).Int("charts", len(exp.Charts)).Msg("pipeline: exploration done")
	return exp, nil
}

func (p *Pipeline) renderExploration(ct *finance.CleanedTable, exp *Exploration) error {
	r := p.renderer
	steps := []func() (string, error){
		func() (string, error) { return r.ClosingPrices(ct) },
		func() (string, error) { return r.DailyReturns(exp.Returns) },
		func() (string, error) { return r.RollingMean(exp.Rolling, p.cfg.Analysis.RollingWindow) },
		func() (string, error) { return r.Outliers(exp.Outliers, p.cfg.Analysis.OutlierThreshold) },
	}
	if exp.Decomposition != nil {
		steps = append(steps, func() (string, error) { return r.Decomposition(exp.Decomposition) })
	}
	for _, step := range steps {
		path, err := step()
		if errors.Is(err, finance.ErrInsufficientData) {
			log.Warn().Err(err).Msg("pipeline: chart skipped")
			continue
		}
		if err != nil {
			return err
		}
		exp.Charts = append(exp.Charts, path)
	}
	return nil
}

// Forecast backtests and forecasts the target series with both models and
// renders one chart per model: recent history, the backtest over the held-out
// window and the forward forecast past the last observation.
func (p *Pipeline) Forecast(ctx context.Context, ct *finance.CleanedTable) ([]forecast.Evaluation, []string, error) {
	f := p.cfg.Forecast
	var evals []forecast.Evaluation
	var charts []string
	err := p.stage("forecast", func() error {
		s, err := ct.Series(f.Target)
		if err != nil {
			return err
		}
		evals, err = forecast.Run(ctx, s, f.Horizon, forecast.NewARIMA(f.ARIMA.P, f.ARIMA.D), forecast.NewAdditive())
		if err != nil {
			return err
		}
		asset := assetOf(f.Target)
		history := s.Tail(min(s.Len(), historyWindow*f.Horizon))
		for _, ev := range evals {
			path, err := p.renderer.Forecast(asset, ev.Model, history,
				pointSeries(ev.Model+" backtest", ev.Backtest.Predictions()),
				pointSeries(ev.Model+" forecast", ev.Forecast.Predictions()))
			if errors.Is(err, finance.ErrInsufficientData) {
				log.Warn().Err(err).Str("model", ev.Model).Msg("pipeline: chart skipped")
				continue
			}
			if err != nil {
				return err
			}
			charts = append(charts, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return evals, charts, nil
}

// Run executes every stage, records the outcome and sends the report to the
// notifier. Delivery failures are logged and do not fail the run.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	return p.run(ctx, true)
}

// RunReport runs the pipeline without notifying and returns the report text
// and chart paths, for callers that deliver the reply themselves.
func (p *Pipeline) RunReport(ctx context.Context) (string, []string, error) {
	rep, err := p.run(ctx, false)
	if err != nil {
		return "", nil, err
	}
	return rep.Text(), rep.Charts(), nil
}

func (p *Pipeline) run(ctx context.Context, notify bool) (*Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rep := &Report{
		Tickers: p.cfg.Data.Tickers,
		Start:   p.cfg.StartDate(),
		End:     p.cfg.EndDate(),
		Target:  p.cfg.Forecast.Target,
		Horizon: p.cfg.Forecast.Horizon,
		Started: time.Now().UTC(),
	}
	if p.store != nil {
		id, err := p.store.StartRun(strings.Join(rep.Tickers, ","), rep.Target, rep.Horizon, rep.Started)
		if err != nil {
			log.Error().Err(err).Msg("pipeline: run not recorded")
		}
		rep.RunID = id
	}
	log.Info().Str("run_id", rep.RunID).Strs("tickers", rep.Tickers).Str("target", rep.Target).Msg("pipeline: run started")

	err := p.execute(ctx, rep)
	rep.Finished = time.Now().UTC()
	p.finish(rep, err)
	if err != nil {
		if notify {
			p.notifyFailure(rep, err)
		}
		return rep, err
	}
	p.comment(ctx, rep)
	if notify {
		p.deliver(rep)
	}
	return rep, nil
}

func (p *Pipeline) execute(ctx context.Context, rep *Report) error {
	raw, err := p.Fetch(ctx)
	if err != nil {
		return err
	}
	ct, err := p.Clean(raw)
	if err != nil {
		return err
	}
	rep.Rows = ct.Rows()
	if rep.Exploration, err = p.Explore(ct); err != nil {
		return err
	}
	rep.Evaluations, rep.ForecastCharts, err = p.Forecast(ctx, ct)
	return err
}

func (p *Pipeline) finish(rep *Report, runErr error) {
	status := storage.StatusOK
	if runErr != nil {
		status = storage.StatusFailed
		log.Error().Err(runErr).Str("run_id", rep.RunID).Msg("pipeline: run failed")
	} else {
		log.Info().Str("run_id", rep.RunID).Dur("elapsed", rep.Finished.Sub(rep.Started)).Msg("pipeline: run finished")
	}
	if p.metrics != nil {
		p.metrics.RecordRun(status)
		if runErr == nil {
			for _, ev := range rep.Evaluations {
				p.metrics.RecordForecast(rep.Target, ev.Model, ev.Metrics.RMSE, ev.Metrics.MAPE, ev.MetricsErr == nil)
			}
			for _, r := range rep.Exploration.Risk {
				p.metrics.RecordRisk(r.Asset, r.VaR95)
			}
		}
	}
	if p.store == nil || rep.RunID == "" {
		return
	}
	if runErr == nil {
		if err := p.saveMetrics(rep); err != nil {
			log.Error().Err(err).Str("run_id", rep.RunID).Msg("pipeline: metrics not saved")
		}
	}
	if err := p.store.FinishRun(rep.RunID, rep.Finished, runErr); err != nil {
		log.Error().Err(err).Str("run_id", rep.RunID).Msg("pipeline: run status not saved")
	}
}

func (p *Pipeline) saveMetrics(rep *Report) error {
	for _, ev := range rep.Evaluations {
		m := storage.ForecastMetric{Model: ev.Model, RMSE: ev.Metrics.RMSE, MAPE: ev.Metrics.MAPE}
		if pts := ev.Forecast.Predictions(); len(pts) > 0 {
			m.FirstDate = pts[0].Date
			m.LastForecast = pts[len(pts)-1].Value
		}
		if err := p.store.SaveForecastMetric(rep.RunID, m); err != nil {
			return err
		}
	}
	for _, r := range rep.Exploration.Risk {
		m := storage.RiskMetric{Asset: r.Asset, VaR95: r.VaR95, Sharpe: r.Sharpe, Volatility: r.AnnualVolatility, MaxDrawdown: r.MaxDrawdown}
		if err := p.store.SaveRiskMetric(rep.RunID, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) comment(ctx context.Context, rep *Report) {
	if p.commentator == nil {
		return
	}
	note, err := p.commentator.Comment(ctx, rep.Text())
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: commentary unavailable")
		return
	}
	rep.Commentary = note
}

func (p *Pipeline) deliver(rep *Report) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendText(rep.Text()); err != nil {
		log.Error().Err(err).Msg("pipeline: report not delivered")
		return
	}
	for _, path := range rep.Charts() {
		if err := p.notifier.SendPhoto(path, ""); err != nil {
			log.Error().Err(err).Str("path", path).Msg("pipeline: chart not delivered")
		}
	}
}

func (p *Pipeline) notifyFailure(rep *Report, runErr error) {
	if p.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Forecast run %s failed: %v", shortID(rep.RunID), runErr)
	if err := p.notifier.SendText(msg); err != nil {
		log.Error().Err(err).Msg("pipeline: failure not delivered")
	}
}

// stage times fn and counts its failure under name.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if p.metrics != nil {
		p.metrics.RecordStage(name, time.Since(start).Seconds())
		if err != nil {
			p.metrics.RecordError(name)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// historyWindow is the number of horizons of history drawn before a forecast.
const historyWindow = 3

func pointSeries(name string, pts []forecast.Point) finance.Series {
	s := finance.Series{Name: name, Dates: make([]time.Time, len(pts)), Values: make([]float64, len(pts))}
	for i, pt := range pts {
		s.Dates[i], s.Values[i] = pt.Date, pt.Value
	}
	return s
}

func assetOf(label string) string {
	return strings.TrimSuffix(label, "_"+finance.FieldClose)
}
