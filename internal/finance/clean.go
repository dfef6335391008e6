package finance

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Clean flattens the two-level column labels of raw, forward-fills each column,
// and drops rows that still hold a missing value. Rows come out in ascending
// date order; duplicate dates are kept as-is.
func Clean(raw *RawTable) (*CleanedTable, error) {
	if err := validateRaw(raw); err != nil {
		return nil, err
	}

	labels := make([]string, len(raw.Columns))
	owner := make(map[string]ColumnKey, len(raw.Columns))
	for i, key := range raw.Columns {
		label := key.Flatten()
		if prev, ok := owner[label]; ok {
			return nil, schemaErrorf("columns (%s, %s) and (%s, %s) both flatten to %q",
				prev.Ticker, prev.Field, key.Ticker, key.Field, label)
		}
		owner[label] = key
		labels[i] = label
	}

	order := make([]int, len(raw.Dates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return raw.Dates[order[a]].Before(raw.Dates[order[b]]) })

	flat := &CleanedTable{
		Dates:   make([]time.Time, len(order)),
		Columns: labels,
		Values:  make([][]float64, len(labels)),
	}
	for r, src := range order {
		flat.Dates[r] = raw.Dates[src]
	}
	for c := range labels {
		col := make([]float64, len(order))
		for r, src := range order {
			col[r] = raw.Values[c][src]
		}
		flat.Values[c] = col
	}

	if dups := DuplicateDates(flat.Dates); len(dups) > 0 {
		log.Warn().Int("dates", len(dups)).Time("first", dups[0]).Msg("clean: duplicate dates passed through")
	}

	return FillAndDrop(flat)
}

// FillAndDrop applies the missing-value policy to an already flattened table:
// forward-fill every column, then drop rows that are still incomplete. On a
// table without missing values it returns an identical copy.
func FillAndDrop(t *CleanedTable) (*CleanedTable, error) {
	if t == nil || t.Dates == nil {
		return nil, schemaErrorf("missing date index")
	}
	if len(t.Values) != len(t.Columns) {
		return nil, schemaErrorf("%d labels but %d value columns", len(t.Columns), len(t.Values))
	}

	filled := make([][]float64, len(t.Values))
	for c, col := range t.Values {
		if len(col) != len(t.Dates) {
			return nil, schemaErrorf("column %q has %d values for %d dates", t.Columns[c], len(col), len(t.Dates))
		}
		filled[c] = forwardFill(col)
	}

	keep := make([]int, 0, len(t.Dates))
	for r := range t.Dates {
		complete := true
		for c := range filled {
			if isMissing(filled[c][r]) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, r)
		}
	}
	if len(keep) == 0 {
		return nil, &EmptyResultError{Stage: "drop incomplete rows", Rows: len(t.Dates)}
	}
	if dropped := len(t.Dates) - len(keep); dropped > 0 {
		log.Debug().Int("dropped", dropped).Int("kept", len(keep)).Msg("clean: dropped incomplete rows")
	}

	out := &CleanedTable{
		Dates:   make([]time.Time, len(keep)),
		Columns: append([]string(nil), t.Columns...),
		Values:  make([][]float64, len(filled)),
	}
	for i, r := range keep {
		out.Dates[i] = t.Dates[r]
	}
	for c, col := range filled {
		vals := make([]float64, len(keep))
		for i, r := range keep {
			vals[i] = col[r]
		}
		out.Values[c] = vals
	}
	return out, nil
}

// CleanAndSave cleans raw and writes the result to path. Nothing is written
// when cleaning fails.
func CleanAndSave(raw *RawTable, path string) (*CleanedTable, error) {
	ct, err := Clean(raw)
	if err != nil {
		return nil, err
	}
	if err := WriteCleanedCSV(path, ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// LeadingGaps reports, per column, how many leading values of raw are missing.
// These rows are dropped for every asset once the table is cleaned.
func LeadingGaps(raw *RawTable) map[string]int {
	out := make(map[string]int, len(raw.Columns))
	for c, key := range raw.Columns {
		n := 0
		for _, v := range raw.Values[c] {
			if !isMissing(v) {
				break
			}
			n++
		}
		out[key.Flatten()] = n
	}
	return out
}

// forwardFill replaces each missing value with the most recent non-missing one.
// Leading missing values stay missing.
func forwardFill(col []float64) []float64 {
	out := make([]float64, len(col))
	last, seen := 0.0, false
	for i, v := range col {
		if isMissing(v) {
			if seen {
				out[i] = last
			} else {
				out[i] = v
			}
			continue
		}
		last, seen = v, true
		out[i] = v
	}
	return out
}

func validateRaw(raw *RawTable) error {
	if raw == nil || len(raw.Dates) == 0 {
		return schemaErrorf("missing date index")
	}
	for i, d := range raw.Dates {
		if d.IsZero() {
			return schemaErrorf("row %d has no date", i)
		}
	}
	if len(raw.Columns) == 0 {
		return schemaErrorf("no columns")
	}
	if len(raw.Values) != len(raw.Columns) {
		return schemaErrorf("%d labels but %d value columns", len(raw.Columns), len(raw.Values))
	}
	for c, col := range raw.Values {
		if len(col) != len(raw.Dates) {
			return schemaErrorf("column (%s, %s) has %d values for %d dates",
				raw.Columns[c].Ticker, raw.Columns[c].Field, len(col), len(raw.Dates))
		}
	}
	return nil
}
