package forecast

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"marketForecast/internal/finance"
)

const (
	weeklyPeriodDays = 7.0
	yearlyPeriodDays = 365.25
)

// Additive fits y(t) = g(t) + s(t): a piecewise-linear trend with changepoints
// spread over the first ChangepointRange of history, plus Fourier seasonality.
// Changepoint and seasonal coefficients are shrunk toward zero with Gaussian
// priors of the given scales.
type Additive struct {
	Changepoints     int
	ChangepointRange float64
	ChangepointPrior float64
	SeasonalityPrior float64
	WeeklyOrder      int
	YearlyOrder      int
}

// NewAdditive returns a model with the customary defaults.
func NewAdditive() *Additive {
	return &Additive{
		Changepoints:     25,
		ChangepointRange: 0.8,
		ChangepointPrior: 0.05,
		SeasonalityPrior: 10,
		WeeklyOrder:      3,
		YearlyOrder:      10,
	}
}

func (m *Additive) Name() string { return "Additive" }

// AdditiveResult holds the fit over history and future dates.
type AdditiveResult struct {
	Dates        []time.Time // history followed by the forecast dates
	Fitted       []float64   // model value on every date
	Trend        []float64
	Seasonal     []float64
	Changepoints []time.Time
	Weekly       bool
	Yearly       bool
	History      int // number of leading in-sample dates
}

func (r *AdditiveResult) Model() string { return "Additive" }

func (r *AdditiveResult) Predictions() []Point {
	out := make([]Point, 0, len(r.Dates)-r.History)
	for i := r.History; i < len(r.Dates); i++ {
		out = append(out, Point{Date: r.Dates[i], Value: r.Fitted[i]})
	}
	return out
}

// InSample returns the fitted values over the history.
func (r *AdditiveResult) InSample() []float64 {
	return append([]float64(nil), r.Fitted[:r.History]...)
}

type additiveDesign struct {
	origin   time.Time
	spanDays float64
	cps      []float64 // changepoints in scaled time
	weekly   int
	yearly   int
}

func (d *additiveDesign) width() int {
	return 2 + len(d.cps) + 2*d.weekly + 2*d.yearly
}

// row returns the regressors for date, split into trend and seasonal blocks.
func (d *additiveDesign) row(date time.Time) []float64 {
	days := date.Sub(d.origin).Hours() / 24
	t := days / d.spanDays
	row := make([]float64, 0, d.width())
	row = append(row, 1, t)
	for _, c := range d.cps {
		row = append(row, math.Max(0, t-c))
	}
	row = appendFourier(row, days, weeklyPeriodDays, d.weekly)
	row = appendFourier(row, days, yearlyPeriodDays, d.yearly)
	return row
}

func appendFourier(row []float64, days, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		x := 2 * math.Pi * float64(k) * days / period
		row = append(row, math.Sin(x), math.Cos(x))
	}
	return row
}

func (m *Additive) FitForecast(s finance.Series, horizon int) (Result, error) {
	if err := checkSeries(s, horizon); err != nil {
		return nil, err
	}
	n := s.Len()
	if n < 2 {
		return nil, &finance.InsufficientDataError{What: "additive trend", Have: n, Need: 2}
	}
	first, last := s.Dates[0], s.Dates[n-1]
	spanDays := last.Sub(first).Hours() / 24
	if spanDays <= 0 {
		return nil, &finance.InsufficientDataError{What: "additive trend over a zero-length span", Have: n, Need: 2}
	}

	scale := 0.0
	for _, v := range s.Values {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}
	y := make([]float64, n)
	for i, v := range s.Values {
		y[i] = v / scale
	}

	d := &additiveDesign{origin: first, spanDays: spanDays}
	var cpDates []time.Time
	for _, idx := range changepointIndices(n, m.Changepoints, m.ChangepointRange) {
		d.cps = append(d.cps, s.Dates[idx].Sub(first).Hours()/24/spanDays)
		cpDates = append(cpDates, s.Dates[idx])
	}
	if spanDays >= 2*weeklyPeriodDays {
		d.weekly = m.WeeklyOrder
	}
	if spanDays >= 2*yearlyPeriodDays {
		d.yearly = m.YearlyOrder
	}

	rows := make([][]float64, n)
	for i, date := range s.Dates {
		rows[i] = d.row(date)
	}
	sigma2 := math.Max(diffVariance(y)/2, 1e-8)
	penalty := make([]float64, d.width())
	for j := range penalty {
		switch {
		case j < 2:
			penalty[j] = 1e-9
		case j < 2+len(d.cps):
			penalty[j] = sigma2/(m.ChangepointPrior*m.ChangepointPrior) + 1e-9
		default:
			penalty[j] = sigma2/(m.SeasonalityPrior*m.SeasonalityPrior) + 1e-9
		}
	}
	beta, err := ridgeSolve(rows, y, penalty)
	if err != nil {
		return nil, err
	}

	dates := append(append([]time.Time(nil), s.Dates...), futureDates(last, horizon)...)
	res := &AdditiveResult{
		Dates:        dates,
		Fitted:       make([]float64, len(dates)),
		Trend:        make([]float64, len(dates)),
		Seasonal:     make([]float64, len(dates)),
		Changepoints: cpDates,
		Weekly:       d.weekly > 0,
		Yearly:       d.yearly > 0,
		History:      n,
	}
	trendCols := 2 + len(d.cps)
	for i, date := range dates {
		row := d.row(date)
		var g, sv float64
		for j, x := range row {
			if j < trendCols {
				g += beta[j] * x
			} else {
				sv += beta[j] * x
			}
		}
		res.Trend[i] = g * scale
		res.Seasonal[i] = sv * scale
		res.Fitted[i] = (g + sv) * scale
	}
	log.Debug().Str("series", s.Name).Int("changepoints", len(d.cps)).
		Bool("weekly", res.Weekly).Bool("yearly", res.Yearly).Msg("forecast: additive fitted")
	return res, nil
}

// changepointIndices spreads up to count changepoints evenly over the first
// share of n observations, excluding the first observation.
func changepointIndices(n, count int, share float64) []int {
	hist := int(math.Floor(float64(n) * share))
	if count+1 > hist {
		count = hist - 1
	}
	if count <= 0 {
		return nil
	}
	out := make([]int, 0, count)
	step := float64(hist-1) / float64(count)
	prev := 0
	for i := 1; i <= count; i++ {
		idx := int(math.Round(float64(i) * step))
		if idx <= prev {
			continue
		}
		out = append(out, idx)
		prev = idx
	}
	return out
}

func diffVariance(y []float64) float64 {
	if len(y) < 3 {
		return 0
	}
	d := difference(y)
	mean := 0.0
	for _, v := range d {
		mean += v
	}
	mean /= float64(len(d))
	ss := 0.0
	for _, v := range d {
		ss += (v - mean) * (v - mean)
	}
	return ss / float64(len(d)-1)
}
