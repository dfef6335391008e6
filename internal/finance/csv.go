package finance

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var dateLayouts = []string{
	dateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339,
}

// ReadRawCSV reads a raw table persisted with a two-row header. The first
// header row carries tickers and the second carries fields; files written by
// newer pandas versions with the field row first (label "Price") are accepted
// too. An optional index-name row ("Date,,,") is skipped.
func ReadRawCSV(path string) (*RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw csv: %w", err)
	}
	defer f.Close()
	return DecodeRawCSV(f)
}

// DecodeRawCSV parses the raw two-row-header format from r.
func DecodeRawCSV(r io.Reader) (*RawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, schemaErrorf("parse raw csv: %v", err)
	}
	if len(records) < 2 {
		return nil, schemaErrorf("raw csv needs two header rows, got %d rows", len(records))
	}
	tickers, fields := records[0], records[1]
	if strings.EqualFold(strings.TrimSpace(tickers[0]), "Price") {
		tickers, fields = fields, tickers
	}
	if len(tickers) != len(fields) || len(tickers) < 2 {
		return nil, schemaErrorf("header rows have %d and %d cells", len(tickers), len(fields))
	}

	t := &RawTable{Columns: make([]ColumnKey, len(tickers)-1)}
	for i := 1; i < len(tickers); i++ {
		t.Columns[i-1] = ColumnKey{Ticker: strings.TrimSpace(tickers[i]), Field: strings.TrimSpace(fields[i])}
	}
	t.Values = make([][]float64, len(t.Columns))

	body := records[2:]
	if len(body) > 0 && isIndexNameRow(body[0]) {
		body = body[1:]
	}
	for r, rec := range body {
		if len(rec) != len(tickers) {
			return nil, schemaErrorf("row %d has %d cells, want %d", r+1, len(rec), len(tickers))
		}
		d, err := parseDate(rec[0])
		if err != nil {
			return nil, schemaErrorf("row %d: %v", r+1, err)
		}
		t.Dates = append(t.Dates, d)
		for c := range t.Columns {
			v, err := parseCell(rec[c+1])
			if err != nil {
				return nil, schemaErrorf("row %d column %d: %v", r+1, c+1, err)
			}
			t.Values[c] = append(t.Values[c], v)
		}
	}
	return t, nil
}

// WriteRawCSV persists a raw table with a (ticker, field) two-row header.
func WriteRawCSV(path string, t *RawTable) error {
	header1 := make([]string, 0, len(t.Columns)+1)
	header2 := make([]string, 0, len(t.Columns)+1)
	header1 = append(header1, "Ticker")
	header2 = append(header2, "Field")
	for _, k := range t.Columns {
		header1 = append(header1, k.Ticker)
		header2 = append(header2, k.Field)
	}
	rows := [][]string{header1, header2}
	for r, d := range t.Dates {
		rec := make([]string, 0, len(t.Columns)+1)
		rec = append(rec, d.Format(dateLayout))
		for c := range t.Columns {
			rec = append(rec, formatCell(t.Values[c][r]))
		}
		rows = append(rows, rec)
	}
	return writeCSVAtomic(path, rows)
}

// ReadCleanedCSV reads a cleaned table: single header, date first column.
func ReadCleanedCSV(path string) (*CleanedTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cleaned csv: %w", err)
	}
	defer f.Close()
	return DecodeCleanedCSV(f)
}

// DecodeCleanedCSV parses the cleaned single-header format from r.
func DecodeCleanedCSV(r io.Reader) (*CleanedTable, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, schemaErrorf("parse cleaned csv: %v", err)
	}
	if len(records) < 1 || len(records[0]) < 2 {
		return nil, schemaErrorf("cleaned csv has no columns")
	}
	header := records[0]
	t := &CleanedTable{
		Dates:   []time.Time{},
		Columns: make([]string, len(header)-1),
		Values:  make([][]float64, len(header)-1),
	}
	for i := 1; i < len(header); i++ {
		t.Columns[i-1] = strings.TrimSpace(header[i])
	}
	for r, rec := range records[1:] {
		d, err := parseDate(rec[0])
		if err != nil {
			return nil, schemaErrorf("row %d: %v", r+1, err)
		}
		t.Dates = append(t.Dates, d)
		for c := range t.Columns {
			v, err := parseCell(rec[c+1])
			if err != nil {
				return nil, schemaErrorf("row %d column %q: %v", r+1, t.Columns[c], err)
			}
			t.Values[c] = append(t.Values[c], v)
		}
	}
	return t, nil
}

// WriteCleanedCSV persists a cleaned table with ISO 8601 dates.
func WriteCleanedCSV(path string, t *CleanedTable) error {
	rows := make([][]string, 0, t.Rows()+1)
	rows = append(rows, append([]string{"Date"}, t.Columns...))
	for r, d := range t.Dates {
		rec := make([]string, 0, len(t.Columns)+1)
		rec = append(rec, d.Format(dateLayout))
		for c := range t.Columns {
			rec = append(rec, formatCell(t.Values[c][r]))
		}
		rows = append(rows, rec)
	}
	return writeCSVAtomic(path, rows)
}

// writeCSVAtomic writes to a temp file in the target directory and renames it
// into place, so readers never see a partial file.
func writeCSVAtomic(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp csv: %w", err)
	}
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename csv: %w", err)
	}
	return nil
}

func isIndexNameRow(rec []string) bool {
	if !strings.EqualFold(strings.TrimSpace(rec[0]), "Date") {
		return false
	}
	for _, cell := range rec[1:] {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
