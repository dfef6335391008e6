package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordRun("ok")
	r.RecordRun("ok")
	r.RecordRun("failed")
	r.RecordError("fetch")
	r.RecordStage("clean", 0.25)
	r.RecordForecast("TSLA_Close", "ARIMA", 12.5, 0.04, true)
	r.RecordRisk("TSLA", -0.055)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fetch")))
	assert.Equal(t, 12.5, testutil.ToFloat64(r.forecastRMSE.WithLabelValues("TSLA_Close", "ARIMA")))
	assert.Equal(t, 0.04, testutil.ToFloat64(r.forecastMAPE.WithLabelValues("TSLA_Close", "ARIMA")))
	assert.Equal(t, -0.055, testutil.ToFloat64(r.valueAtRisk.WithLabelValues("TSLA")))

	r.RecordForecast("TSLA_Close", "ARIMA", 13, 0, false)
	assert.Equal(t, 0, testutil.CollectAndCount(r.forecastMAPE))

	count, err := testutil.GatherAndCount(reg, "forecast_pipeline_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
