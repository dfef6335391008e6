package finance

import (
	"math"
	"time"
)

// Decomposition splits a series into trend, seasonal and residual parts with
// Observed = Trend + Seasonal + Resid wherever the trend is defined.
type Decomposition struct {
	Name     string
	Period   int
	Dates    []time.Time
	Observed []float64
	Trend    []float64 // NaN for the first and last Period/2 points
	Seasonal []float64
	Resid    []float64
}

// Decompose runs a classical additive decomposition. The trend is a centered
// moving average over one period (a 2xP average when the period is even); the
// seasonal component is the per-phase mean of the detrended series, shifted to
// sum to zero over a period. At least two full periods are required.
func Decompose(s Series, period int) (*Decomposition, error) {
	if period < 2 {
		return nil, schemaErrorf("decomposition period must be at least 2, got %d", period)
	}
	n := s.Len()
	if n < 2*period {
		return nil, &InsufficientDataError{What: "seasonal decomposition", Have: n, Need: 2 * period}
	}

	trend := centeredMovingAverage(s.Values, period)

	phaseSum := make([]float64, period)
	phaseCount := make([]int, period)
	for i, v := range s.Values {
		if isMissing(trend[i]) {
			continue
		}
		phaseSum[i%period] += v - trend[i]
		phaseCount[i%period]++
	}
	phaseMean := make([]float64, period)
	grand := 0.0
	for p := range phaseMean {
		if phaseCount[p] > 0 {
			phaseMean[p] = phaseSum[p] / float64(phaseCount[p])
		}
		grand += phaseMean[p]
	}
	grand /= float64(period)

	d := &Decomposition{
		Name:     s.Name,
		Period:   period,
		Dates:    append([]time.Time(nil), s.Dates...),
		Observed: append([]float64(nil), s.Values...),
		Trend:    trend,
		Seasonal: make([]float64, n),
		Resid:    make([]float64, n),
	}
	for i, v := range s.Values {
		d.Seasonal[i] = phaseMean[i%period] - grand
		d.Resid[i] = v - trend[i] - d.Seasonal[i]
	}
	return d, nil
}

func centeredMovingAverage(x []float64, period int) []float64 {
	n := len(x)
	weights := make([]float64, period+1)
	if period%2 == 0 {
		for i := range weights {
			weights[i] = 1 / float64(period)
		}
		weights[0] /= 2
		weights[period] /= 2
	} else {
		weights = weights[:period]
		for i := range weights {
			weights[i] = 1 / float64(period)
		}
	}
	half := len(weights) / 2
	out := make([]float64, n)
	for i := range out {
		if i < half || i+half >= n {
			out[i] = math.NaN()
			continue
		}
		acc := 0.0
		for k, w := range weights {
			acc += w * x[i-half+k]
		}
		out[i] = acc
	}
	return out
}
