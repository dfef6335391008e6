package storage

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite("file:" + filepath.Join(t.TempDir(), "runs.db") + "?_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, InitSchema(db))
	require.NoError(t, InitSchema(db))
	return NewStore(db)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	t0 := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	first, err := s.StartRun("TSLA,BND,SPY", "TSLA_Close", 30, t0)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(first, t0.Add(time.Minute), nil))

	second, err := s.StartRun("TSLA", "TSLA_Close", 5, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(second, t0.Add(2*time.Hour), errors.New("yahoo TSLA: 429")))
	assert.NotEqual(t, first, second)

	runs, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "yahoo TSLA: 429", runs[0].Error)
	assert.Equal(t, StatusOK, runs[1].Status)
	assert.Equal(t, t0, runs[1].StartedAt)
	assert.Equal(t, t0.Add(time.Minute), runs[1].FinishedAt)
	assert.Equal(t, 30, runs[1].Horizon)

	limited, err := s.RecentRuns(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMetricsRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	id, err := s.StartRun("SPY", "SPY_Close", 30, time.Now())
	require.NoError(t, err)

	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveForecastMetric(id, ForecastMetric{Model: "ARIMA", RMSE: 1.5, MAPE: 0.02, FirstDate: day, LastForecast: 600}))
	require.NoError(t, s.SaveForecastMetric(id, ForecastMetric{Model: "Additive", RMSE: 2.5, MAPE: math.NaN(), FirstDate: day, LastForecast: 610}))
	require.NoError(t, s.SaveRiskMetric(id, RiskMetric{Asset: "SPY", VaR95: -0.017, Sharpe: 0.05, Volatility: 0.18, MaxDrawdown: 0.34}))

	fm, err := s.ForecastMetrics(id)
	require.NoError(t, err)
	require.Len(t, fm, 2)
	assert.Equal(t, "ARIMA", fm[0].Model)
	assert.Equal(t, 0.02, fm[0].MAPE)
	assert.Equal(t, day, fm[0].FirstDate)
	assert.True(t, math.IsNaN(fm[1].MAPE))

	rm, err := s.RiskMetrics(id)
	require.NoError(t, err)
	assert.Equal(t, []RiskMetric{{Asset: "SPY", VaR95: -0.017, Sharpe: 0.05, Volatility: 0.18, MaxDrawdown: 0.34}}, rm)

	none, err := s.RiskMetrics("missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
