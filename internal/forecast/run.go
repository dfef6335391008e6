package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"marketForecast/internal/finance"
)

// Evaluation is one model's outcome on a series: a backtest scored against
// the held-out window and a forecast fitted on the full series.
type Evaluation struct {
	Model      string
	Actual     finance.Series // the last horizon observations
	Backtest   Result         // fitted without Actual, dated over Actual
	Forecast   Result         // fitted on the full series, dated past it
	Metrics    Metrics
	MetricsErr error // set when MAPE is undefined; RMSE is still valid
	Elapsed    time.Duration
}

// Run fits every model twice: on the series minus its last horizon points,
// scored against them, and on the full series for the forward forecast. The
// models run concurrently, each on its own copy of the series. Results are in
// the order of models.
func Run(ctx context.Context, s finance.Series, horizon int, models ...Model) ([]Evaluation, error) {
	if len(models) == 0 {
		return nil, errors.New("no models to run")
	}
	if err := checkSeries(s, horizon); err != nil {
		return nil, err
	}
	if s.Len() <= horizon {
		return nil, &finance.InsufficientDataError{What: "holdout of " + s.Name, Have: s.Len(), Need: horizon + 1}
	}
	train := s.Head(s.Len() - horizon)
	actual := s.Tail(horizon)

	out := make([]Evaluation, len(models))
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, err := evaluateModel(m, s.Clone(), train.Clone(), actual, horizon)
			if err != nil {
				return fmt.Errorf("%s: %w", m.Name(), err)
			}
			out[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func evaluateModel(m Model, full, train, actual finance.Series, horizon int) (Evaluation, error) {
	start := time.Now()
	back, err := m.FitForecast(train, horizon)
	if err != nil {
		return Evaluation{}, err
	}
	fwd, err := m.FitForecast(full, horizon)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Model: m.Name(), Actual: actual, Backtest: back, Forecast: fwd}
	ev.Metrics, err = Evaluate(actual.Values, Values(back))
	switch {
	case errors.Is(err, ErrUndefinedMAPE):
		ev.MetricsErr = err
		log.Warn().Str("model", m.Name()).Str("series", full.Name).Err(err).Msg("forecast: mape undefined")
	case err != nil:
		return Evaluation{}, err
	}
	ev.Elapsed = time.Since(start)
	log.Info().Str("model", m.Name()).Str("series", full.Name).
		Float64("rmse", ev.Metrics.RMSE).Float64("mape", ev.Metrics.MAPE).
		Dur("elapsed", ev.Elapsed).Msg("forecast: evaluated")
	return ev, nil
}
