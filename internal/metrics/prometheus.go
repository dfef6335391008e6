// Package metrics exposes pipeline metrics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records pipeline runs, stage latency and forecast accuracy.
type Recorder struct {
	runsTotal     *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	forecastRMSE  *prometheus.GaugeVec
	forecastMAPE  *prometheus.GaugeVec
	valueAtRisk   *prometheus.GaugeVec
}

// New registers the pipeline metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecast_pipeline_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecast_pipeline_errors_total",
				Help: "Total number of errors by stage",
			},
			[]string{"stage"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecast_pipeline_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		forecastRMSE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forecast_rmse",
				Help: "RMSE of the latest backtest per series and model",
			},
			[]string{"series", "model"},
		),
		forecastMAPE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forecast_mape",
				Help: "MAPE of the latest backtest per series and model",
			},
			[]string{"series", "model"},
		),
		valueAtRisk: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "asset_value_at_risk_95",
				Help: "Latest 95% daily value at risk per asset",
			},
			[]string{"asset"},
		),
	}
}

// RecordRun counts a finished run.
func (r *Recorder) RecordRun(status string) {
	r.runsTotal.WithLabelValues(status).Inc()
}

// RecordError counts a failure in a stage.
func (r *Recorder) RecordError(stage string) {
	r.errorsTotal.WithLabelValues(stage).Inc()
}

// RecordStage records a stage latency in seconds.
func (r *Recorder) RecordStage(stage string, seconds float64) {
	r.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordForecast records backtest accuracy. An undefined MAPE is not exported.
func (r *Recorder) RecordForecast(series, model string, rmse, mape float64, mapeDefined bool) {
	r.forecastRMSE.WithLabelValues(series, model).Set(rmse)
	if mapeDefined {
		r.forecastMAPE.WithLabelValues(series, model).Set(mape)
	} else {
		r.forecastMAPE.DeleteLabelValues(series, model)
	}
}

// RecordRisk records an asset's value at risk.
func (r *Recorder) RecordRisk(asset string, var95 float64) {
	r.valueAtRisk.WithLabelValues(asset).Set(var95)
}
