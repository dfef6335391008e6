package forecast

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"marketForecast/internal/finance"
)

// ARIMA is an autoregressive integrated model without moving-average terms:
// the series is differenced D times and AR(P) coefficients are fitted by
// conditional least squares, without a constant.
type ARIMA struct {
	P int
	D int
}

// NewARIMA returns an ARIMA(p, d, 0) model.
func NewARIMA(p, d int) *ARIMA { return &ARIMA{P: p, D: d} }

func (m *ARIMA) Name() string { return "ARIMA" }

// MinObservations is the shortest series the model fits: enough differenced
// rows for P+1 regression equations.
func (m *ARIMA) MinObservations() int { return 2*m.P + m.D + 1 }

// ARIMAResult holds the fitted coefficients and the recursive forecast.
type ARIMAResult struct {
	P, D         int
	Coefficients []float64 // Coefficients[i] multiplies lag i+1
	Sigma2       float64   // mean squared in-sample residual
	Forecast     []Point
}

func (r *ARIMAResult) Model() string { return "ARIMA" }
func (r *ARIMAResult) Predictions() []Point { return append([]Point(nil), r.Forecast...) }
func (r *ARIMAResult) Order() string { return fmt.Sprintf("ARIMA(%d,%d,0)", r.P, r.D) }

func (m *ARIMA) FitForecast(s finance.Series, horizon int) (Result, error) {
	if m.P < 0 || m.D < 0 {
		return nil, &finance.SchemaError{Reason: fmt.Sprintf("invalid ARIMA order (%d,%d,0)", m.P, m.D)}
	}
	if err := checkSeries(s, horizon); err != nil {
		return nil, err
	}
	if need := m.MinObservations(); s.Len() < need {
		return nil, &finance.InsufficientDataError{What: "ARIMA fit", Have: s.Len(), Need: need}
	}

	// tails[k] is the last value of the series differenced k times.
	z := append([]float64(nil), s.Values...)
	tails := make([]float64, m.D)
	for k := 0; k < m.D; k++ {
		tails[k] = z[len(z)-1]
		z = difference(z)
	}

	coef, sigma2, err := fitAR(z, m.P)
	if err != nil {
		return nil, fmt.Errorf("arima fit %s: %w", s.Name, err)
	}

	ext := append([]float64(nil), z...)
	for h := 0; h < horizon; h++ {
		next := 0.0
		for i, c := range coef {
			next += c * ext[len(ext)-1-i]
		}
		ext = append(ext, next)
	}
	path := ext[len(z):]
	for k := m.D - 1; k >= 0; k-- {
		path = integrate(path, tails[k])
	}

	dates := futureDates(s.Dates[len(s.Dates)-1], horizon)
	res := &ARIMAResult{P: m.P, D: m.D, Coefficients: coef, Sigma2: sigma2, Forecast: make([]Point, horizon)}
	for i := range res.Forecast {
		res.Forecast[i] = Point{Date: dates[i], Value: path[i]}
	}
	log.Debug().Str("series", s.Name).Str("order", res.Order()).Float64("sigma2", sigma2).Msg("forecast: arima fitted")
	return res, nil
}

// fitAR regresses z[t] on z[t-1..t-p]. A small ridge keeps the normal
// equations solvable when the differenced series is constant.
func fitAR(z []float64, p int) ([]float64, float64, error) {
	if p == 0 {
		return nil, meanSquare(z), nil
	}
	rows := make([][]float64, 0, len(z)-p)
	y := make([]float64, 0, len(z)-p)
	trace := 0.0
	for t := p; t < len(z); t++ {
		row := make([]float64, p)
		for i := 0; i < p; i++ {
			row[i] = z[t-1-i]
			trace += row[i] * row[i]
		}
		rows = append(rows, row)
		y = append(y, z[t])
	}
	penalty := make([]float64, p)
	for i := range penalty {
		penalty[i] = 1e-10 * (1 + trace/float64(p))
	}
	coef, err := ridgeSolve(rows, y, penalty)
	if err != nil {
		return nil, 0, err
	}
	resid := make([]float64, len(y))
	for r, row := range rows {
		fit := 0.0
		for i, c := range coef {
			fit += c * row[i]
		}
		resid[r] = y[r] - fit
	}
	return coef, meanSquare(resid), nil
}

func difference(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := range out {
		out[i] = x[i+1] - x[i]
	}
	return out
}

func integrate(diffs []float64, start float64) []float64 {
	out := make([]float64, len(diffs))
	level := start
	for i, d := range diffs {
		level += d
		out[i] = level
	}
	return out
}

func meanSquare(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return s / float64(len(x))
}
