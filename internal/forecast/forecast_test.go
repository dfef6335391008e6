package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketForecast/internal/finance"
)

func dailySeries(name string, start time.Time, values []float64) finance.Series {
	s := finance.Series{Name: name, Values: values}
	for i := range values {
		s.Dates = append(s.Dates, start.AddDate(0, 0, i))
	}
	return s
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func TestConstantSeriesForecasts(t *testing.T) {
	t.Parallel()
	s := dailySeries("X_Close", day0, constant(60, 100))

	for _, m := range []Model{NewARIMA(5, 1), NewAdditive()} {
		m := m
		t.Run(m.Name(), func(t *testing.T) {
			t.Parallel()
			res, err := m.FitForecast(s.Clone(), 5)
			require.NoError(t, err)
			pts := res.Predictions()
			require.Len(t, pts, 5)
			for i, p := range pts {
				assert.InDelta(t, 100.0, p.Value, 1e-6)
				assert.Equal(t, day0.AddDate(0, 0, 60+i), p.Date)
			}

			metrics, err := Evaluate(constant(5, 100), Values(res))
			require.NoError(t, err)
			assert.InDelta(t, 0.0, metrics.RMSE, 1e-6)
			assert.InDelta(t, 0.0, metrics.MAPE, 1e-8)
		})
	}
}

func TestARIMAFollowsLinearTrend(t *testing.T) {
	t.Parallel()
	vals := make([]float64, 80)
	for i := range vals {
		vals[i] = 50 + 2*float64(i) + 0.01*math.Sin(float64(i))
	}
	res, err := NewARIMA(5, 1).FitForecast(dailySeries("T", day0, vals), 3)
	require.NoError(t, err)
	for i, v := range Values(res) {
		assert.InDelta(t, 50+2*float64(80+i), v, 1.0)
	}
}

func TestAdditiveFollowsLinearTrend(t *testing.T) {
	t.Parallel()
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = 10 + 0.5*float64(i)
	}
	res, err := NewAdditive().FitForecast(dailySeries("T", day0, vals), 10)
	require.NoError(t, err)
	ar := res.(*AdditiveResult)
	assert.Len(t, ar.InSample(), 100)
	assert.NotEmpty(t, ar.Changepoints)
	assert.True(t, ar.Weekly)
	assert.False(t, ar.Yearly)
	for i, v := range Values(res) {
		assert.InDelta(t, 10+0.5*float64(100+i), v, 1.0)
	}
}

func TestInsufficientData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		model Model
		n     int
	}{
		{"arima below minimum", NewARIMA(5, 1), 11},
		{"additive single point", NewAdditive(), 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.model.FitForecast(dailySeries("S", day0, constant(tt.n, 5)), 5)
			require.Error(t, err)
			assert.True(t, errors.Is(err, finance.ErrInsufficientData))
		})
	}

	_, err := NewARIMA(5, 1).FitForecast(dailySeries("S", day0, constant(12, 5)), 5)
	assert.NoError(t, err)
}

func TestDuplicateDatesRejected(t *testing.T) {
	t.Parallel()
	s := dailySeries("D", day0, constant(30, 1))
	s.Dates[10] = s.Dates[9]
	_, err := NewAdditive().FitForecast(s, 5)
	assert.ErrorIs(t, err, finance.ErrSchema)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	m, err := Evaluate([]float64{1, 2, 4}, []float64{2, 2, 2})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(5.0/3.0), m.RMSE, 1e-12)
	assert.InDelta(t, (1.0+0+0.5)/3, m.MAPE, 1e-12)

	_, err = Evaluate(constant(30, 1), constant(25, 1))
	var ae *AlignmentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 30, ae.Actual)
	assert.Equal(t, 25, ae.Predicted)
	assert.ErrorIs(t, err, ErrAlignment)

	_, err = Evaluate(nil, nil)
	assert.ErrorIs(t, err, ErrAlignment)

	m, err = Evaluate([]float64{3, 0, 1}, []float64{3, 1, 1})
	assert.ErrorIs(t, err, ErrUndefinedMAPE)
	assert.True(t, math.IsNaN(m.MAPE))
	assert.InDelta(t, math.Sqrt(1.0/3.0), m.RMSE, 1e-12)
}

func TestRunBacktestsBothModels(t *testing.T) {
	t.Parallel()
	s := dailySeries("SPY_Close", day0, constant(60, 100))
	evs, err := Run(context.Background(), s, 5, NewARIMA(5, 1), NewAdditive())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "ARIMA", evs[0].Model)
	assert.Equal(t, "Additive", evs[1].Model)
	for _, ev := range evs {
		assert.NoError(t, ev.MetricsErr)
		assert.Equal(t, s.Tail(5).Dates, ev.Actual.Dates)
		assert.InDelta(t, 0.0, ev.Metrics.RMSE, 1e-6)
		require.Len(t, ev.Forecast.Predictions(), 5)
		assert.Equal(t, day0.AddDate(0, 0, 60), ev.Forecast.Predictions()[0].Date)
	}
	assert.Equal(t, constant(60, 100), s.Values)
}

func TestRunRejectsShortHoldout(t *testing.T) {
	t.Parallel()
	_, err := Run(context.Background(), dailySeries("S", day0, constant(5, 1)), 5, NewARIMA(5, 1))
	assert.ErrorIs(t, err, finance.ErrInsufficientData)
}

func TestChangepointIndices(t *testing.T) {
	t.Parallel()
	assert.Nil(t, changepointIndices(2, 25, 0.8))
	idx := changepointIndices(1000, 25, 0.8)
	assert.Len(t, idx, 25)
	assert.Equal(t, 799, idx[len(idx)-1])
	short := changepointIndices(10, 25, 0.8)
	assert.Len(t, short, 7)
}
