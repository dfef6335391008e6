package finance

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Standard OHLCV field names as returned by the provider.
const (
	FieldOpen   = "Open"
	FieldHigh   = "High"
	FieldLow    = "Low"
	FieldClose  = "Close"
	FieldVolume = "Volume"
)

// OHLCVFields lists the fields the provider returns, in column order.
var OHLCVFields = []string{FieldClose, FieldHigh, FieldLow, FieldOpen, FieldVolume}

// ColumnKey is the two-level (ticker, field) label of a raw column.
type ColumnKey struct {
	Ticker string
	Field  string
}

// Flatten joins the two levels with an underscore.
func (k ColumnKey) Flatten() string {
	return strings.TrimSpace(k.Ticker + "_" + k.Field)
}

// RawTable is the provider's multi-asset table. Values is column-major:
// Values[c][r] is column c at Dates[r]. Missing cells are NaN.
type RawTable struct {
	Dates   []time.Time
	Columns []ColumnKey
	Values  [][]float64
}

// Rows returns the number of dated rows.
func (t *RawTable) Rows() int { return len(t.Dates) }

// CleanedTable is the flattened, gap-free table consumed by analysis and forecasting.
type CleanedTable struct {
	Dates   []time.Time
	Columns []string
	Values  [][]float64
}

// Rows returns the number of dated rows.
func (t *CleanedTable) Rows() int { return len(t.Dates) }

// Index returns the position of a column label, or -1.
func (t *CleanedTable) Index(label string) int {
	for i, c := range t.Columns {
		if c == label {
			return i
		}
	}
	return -1
}

// Series extracts one column by label. The returned series owns its slices.
func (t *CleanedTable) Series(label string) (Series, error) {
	i := t.Index(label)
	if i < 0 {
		return Series{}, schemaErrorf("column %q not found", label)
	}
	s := Series{
		Name:   label,
		Dates:  make([]time.Time, len(t.Dates)),
		Values: make([]float64, len(t.Values[i])),
	}
	copy(s.Dates, t.Dates)
	copy(s.Values, t.Values[i])
	return s, nil
}

// ColumnsWithSuffix returns labels ending in "_"+field, e.g. every *_Close column.
func (t *CleanedTable) ColumnsWithSuffix(field string) []string {
	var out []string
	for _, c := range t.Columns {
		if strings.HasSuffix(c, "_"+field) {
			out = append(out, c)
		}
	}
	return out
}

// Subset returns a copy restricted to the given labels, in the given order.
func (t *CleanedTable) Subset(labels []string) (*CleanedTable, error) {
	out := &CleanedTable{
		Dates:   append([]time.Time(nil), t.Dates...),
		Columns: make([]string, 0, len(labels)),
		Values:  make([][]float64, 0, len(labels)),
	}
	for _, l := range labels {
		i := t.Index(l)
		if i < 0 {
			return nil, schemaErrorf("column %q not found", l)
		}
		out.Columns = append(out.Columns, l)
		out.Values = append(out.Values, append([]float64(nil), t.Values[i]...))
	}
	return out, nil
}

// Series is a single dated column.
type Series struct {
	Name   string
	Dates  []time.Time
	Values []float64
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Values) }

// Clone returns a deep copy.
func (s Series) Clone() Series {
	return Series{
		Name:   s.Name,
		Dates:  append([]time.Time(nil), s.Dates...),
		Values: append([]float64(nil), s.Values...),
	}
}

// Head returns the first n observations as an independent series.
func (s Series) Head(n int) Series {
	if n > s.Len() {
		n = s.Len()
	}
	if n < 0 {
		n = 0
	}
	return Series{
		Name:   s.Name,
		Dates:  append([]time.Time(nil), s.Dates[:n]...),
		Values: append([]float64(nil), s.Values[:n]...),
	}
}

// Tail returns the last n observations as an independent series.
func (s Series) Tail(n int) Series {
	if n > s.Len() {
		n = s.Len()
	}
	if n < 0 {
		n = 0
	}
	start := s.Len() - n
	return Series{
		Name:   s.Name,
		Dates:  append([]time.Time(nil), s.Dates[start:]...),
		Values: append([]float64(nil), s.Values[start:]...),
	}
}

// DuplicateDates returns dates that occur more than once, ascending.
func DuplicateDates(dates []time.Time) []time.Time {
	seen := make(map[time.Time]int, len(dates))
	for _, d := range dates {
		seen[d]++
	}
	var dups []time.Time
	for d, n := range seen {
		if n > 1 {
			dups = append(dups, d)
		}
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i].Before(dups[j]) })
	return dups
}

// NormalizeDate truncates a timestamp to its calendar date in UTC.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isMissing(v float64) bool { return math.IsNaN(v) }
