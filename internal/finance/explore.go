package finance

import (
	"math"
	"strings"
	"time"
)

// DailyReturns computes the percent change of every *_Close column. The first
// row, which has no predecessor, is dropped along with any row whose change is
// undefined because the previous close was zero.
func DailyReturns(t *CleanedTable) (*CleanedTable, error) {
	closes := t.ColumnsWithSuffix(FieldClose)
	if len(closes) == 0 {
		return nil, schemaErrorf("no %s columns", FieldClose)
	}
	if t.Rows() < 2 {
		return nil, &InsufficientDataError{What: "daily returns", Have: t.Rows(), Need: 2}
	}

	changes := make([][]float64, len(closes))
	for c, label := range closes {
		prices := t.Values[t.Index(label)]
		col := make([]float64, len(prices))
		col[0] = math.NaN()
		for r := 1; r < len(prices); r++ {
			prev := prices[r-1]
			if prev == 0 {
				col[r] = math.NaN()
				continue
			}
			col[r] = (prices[r] - prev) / prev
		}
		changes[c] = col
	}

	out := &CleanedTable{Columns: closes, Values: make([][]float64, len(closes))}
	for r, d := range t.Dates {
		complete := true
		for c := range changes {
			if isMissing(changes[c][r]) {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		out.Dates = append(out.Dates, d)
		for c := range changes {
			out.Values[c] = append(out.Values[c], changes[c][r])
		}
	}
	if out.Rows() == 0 {
		return nil, &EmptyResultError{Stage: "daily returns", Rows: t.Rows()}
	}
	return out, nil
}

// RollingMean returns the trailing mean over window observations. The first
// window-1 values are NaN.
func RollingMean(s Series, window int) Series {
	out := Series{Name: s.Name, Dates: append([]time.Time(nil), s.Dates...), Values: make([]float64, s.Len())}
	sum := 0.0
	for i, v := range s.Values {
		sum += v
		if i >= window {
			sum -= s.Values[i-window]
		}
		if window <= 0 || i < window-1 {
			out.Values[i] = math.NaN()
			continue
		}
		out.Values[i] = sum / float64(window)
	}
	return out
}

// RollingStd returns the trailing sample standard deviation over window
// observations. The first window-1 values are NaN, as is every value when
// window < 2.
func RollingStd(s Series, window int) Series {
	out := Series{Name: s.Name, Dates: append([]time.Time(nil), s.Dates...), Values: make([]float64, s.Len())}
	for i := range s.Values {
		if window < 2 || i < window-1 {
			out.Values[i] = math.NaN()
			continue
		}
		w := s.Values[i-window+1 : i+1]
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= float64(window)
		ss := 0.0
		for _, v := range w {
			ss += (v - mean) * (v - mean)
		}
		out.Values[i] = math.Sqrt(ss / float64(window-1))
	}
	return out
}

// Outlier is a daily return whose magnitude exceeds the configured threshold.
type Outlier struct {
	Asset  string
	Date   time.Time
	Return float64
}

// Outliers lists every |return| > threshold in returns, asset-major, dates ascending.
func Outliers(returns *CleanedTable, threshold float64) []Outlier {
	var out []Outlier
	for c, label := range returns.Columns {
		asset := strings.TrimSuffix(label, "_"+FieldClose)
		for r, v := range returns.Values[c] {
			if math.Abs(v) > threshold {
				out = append(out, Outlier{Asset: asset, Date: returns.Dates[r], Return: v})
			}
		}
	}
	return out
}
