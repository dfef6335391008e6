package finance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252.0

// RiskMetrics summarises the daily-return distribution of one asset.
type RiskMetrics struct {
	Asset            string
	VaR95            float64 // 5% quantile of daily returns; negative means a loss
	Sharpe           float64 // mean daily return / sample std, no risk-free rate
	AnnualVolatility float64
	MaxDrawdown      float64 // fraction of the running peak, compounded from returns
	Observations     int
}

// AssessRisk computes risk metrics for every column of a daily-returns table.
func AssessRisk(returns *CleanedTable) ([]RiskMetrics, error) {
	out := make([]RiskMetrics, 0, len(returns.Columns))
	for c, label := range returns.Columns {
		asset := strings.TrimSuffix(label, "_"+FieldClose)
		m, err := riskOf(asset, returns.Values[c])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func riskOf(asset string, rets []float64) (RiskMetrics, error) {
	if len(rets) < 2 {
		return RiskMetrics{}, &InsufficientDataError{What: "risk metrics for " + asset, Have: len(rets), Need: 2}
	}
	mean, std := stat.MeanStdDev(rets, nil)

	var sharpe float64
	if std > 0 {
		sharpe = mean / std
	}
	m := RiskMetrics{
		Asset:            asset,
		VaR95:            quantile(rets, 0.05),
		Sharpe:           sharpe,
		AnnualVolatility: std * math.Sqrt(tradingDaysPerYear),
		MaxDrawdown:      maxDrawdown(equityCurve(rets)),
		Observations:     len(rets),
	}

	for name, v := range map[string]float64{
		"VaR": m.VaR95, "Sharpe ratio": m.Sharpe, "volatility": m.AnnualVolatility, "max drawdown": m.MaxDrawdown,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return RiskMetrics{}, fmt.Errorf("invalid %s for %s: %f", name, asset, v)
		}
	}
	return m, nil
}

// quantile returns the p-quantile with linear interpolation between order statistics.
func quantile(values []float64, p float64) float64 {
	vals := append([]float64(nil), values...)
	sort.Float64s(vals)
	if len(vals) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return vals[0]
	}
	if p >= 1 {
		return vals[len(vals)-1]
	}
	pos := p * float64(len(vals)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(vals) {
		return vals[lo]
	}
	frac := pos - float64(lo)
	return vals[lo]*(1-frac) + vals[hi]*frac
}

// equityCurve compounds returns from a starting value of 1.
func equityCurve(rets []float64) []float64 {
	values := make([]float64, len(rets)+1)
	values[0] = 1
	for i, r := range rets {
		values[i+1] = values[i] * (1 + r)
	}
	return values
}

// maxDrawdown is the largest peak-to-trough decline as a fraction of the peak.
func maxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}

	maxDD := 0.0
	peak := values[0]
	if peak <= 0 {
		for i := 1; i < len(values); i++ {
			if values[i] > 0 {
				peak = values[i]
				break
			}
		}
		if peak <= 0 {
			return 0.0
		}
	}

	for _, value := range values {
		if value > peak {
			peak = value
		}
		if peak > 0 && value >= 0 {
			if dd := (peak - value) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
