package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"marketForecast/internal/forecast"
)

// Report is the outcome of one pipeline run.
type Report struct {
	RunID    string
	Tickers  []string
	Start    time.Time
	End      time.Time
	Target   string
	Horizon  int
	Rows     int
	Started  time.Time
	Finished time.Time

	Exploration    *Exploration
	Evaluations    []forecast.Evaluation
	ForecastCharts []string
	Commentary     string
}

// Charts returns every rendered chart, exploration first.
func (r *Report) Charts() []string {
	var out []string
	if r.Exploration != nil {
		out = append(out, r.Exploration.Charts...)
	}
	return append(out, r.ForecastCharts...)
}

// Text renders the report as plain text for chat delivery.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Forecast run %s\n", shortID(r.RunID))
	fmt.Fprintf(&b, "%s, %s to %s, %d rows\n", strings.Join(r.Tickers, ", "),
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), r.Rows)

	if e := r.Exploration; e != nil && len(e.Risk) > 0 {
		b.WriteString("\nRisk (daily returns)\n")
		for _, m := range e.Risk {
			fmt.Fprintf(&b, "%-6s VaR95 %s  Sharpe %.3f  vol %s  max DD %s\n",
				m.Asset, pct(m.VaR95), m.Sharpe, pct(m.AnnualVolatility), pct(m.MaxDrawdown))
		}
		fmt.Fprintf(&b, "Outliers: %d daily moves\n", len(e.Outliers))
	}

	if len(r.Evaluations) > 0 {
		fmt.Fprintf(&b, "\nForecast %s, horizon %d\n", r.Target, r.Horizon)
		for _, ev := range r.Evaluations {
			mape := pct(ev.Metrics.MAPE)
			if ev.MetricsErr != nil {
				mape = "n/a"
			}
			fmt.Fprintf(&b, "%-8s RMSE %.4f  MAPE %s", ev.Model, ev.Metrics.RMSE, mape)
			if pts := ev.Forecast.Predictions(); len(pts) > 0 {
				last := pts[len(pts)-1]
				fmt.Fprintf(&b, "  %s %.2f", last.Date.Format("2006-01-02"), last.Value)
			}
			b.WriteString("\n")
		}
	}

	if r.Commentary != "" {
		b.WriteString("\n")
		b.WriteString(r.Commentary)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func shortID(id string) string {
	if id == "" {
		return "(unrecorded)"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
