// Package forecast fits univariate forecasting models to a price series and
// scores them against a held-out window.
package forecast

import (
	"fmt"
	"math"
	"time"

	"marketForecast/internal/finance"
)

// Point is one dated prediction.
type Point struct {
	Date  time.Time
	Value float64
}

// Model fits a series and forecasts horizon steps past its last date. Each
// call works on its own copy of the series and leaves the model reusable.
type Model interface {
	Name() string
	FitForecast(s finance.Series, horizon int) (Result, error)
}

// Result is a fitted model's forecast. Implementations carry their own
// fitted state; only the predictions are comparable across models.
type Result interface {
	Model() string
	Predictions() []Point
}

// Values returns the predicted values of r in date order.
func Values(r Result) []float64 {
	pts := r.Predictions()
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

// futureDates extends last by one calendar day per step.
func futureDates(last time.Time, horizon int) []time.Time {
	out := make([]time.Time, horizon)
	for i := range out {
		out[i] = last.AddDate(0, 0, i+1)
	}
	return out
}

// checkSeries rejects series the models cannot index unambiguously.
func checkSeries(s finance.Series, horizon int) error {
	if horizon <= 0 {
		return &finance.SchemaError{Reason: fmt.Sprintf("forecast horizon must be positive, got %d", horizon)}
	}
	if len(s.Dates) != len(s.Values) {
		return &finance.SchemaError{Reason: fmt.Sprintf("series %q has %d dates for %d values", s.Name, len(s.Dates), len(s.Values))}
	}
	if dups := finance.DuplicateDates(s.Dates); len(dups) > 0 {
		return &finance.SchemaError{Reason: fmt.Sprintf("series %q has %d duplicate dates, first %s",
			s.Name, len(dups), dups[0].Format("2006-01-02"))}
	}
	for i := 1; i < len(s.Dates); i++ {
		if s.Dates[i].Before(s.Dates[i-1]) {
			return &finance.SchemaError{Reason: fmt.Sprintf("series %q is not in date order at row %d", s.Name, i)}
		}
	}
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &finance.SchemaError{Reason: fmt.Sprintf("series %q has a non-finite value at row %d", s.Name, i)}
		}
	}
	return nil
}
