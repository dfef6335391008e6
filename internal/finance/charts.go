package finance

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vicanso/go-charts/v2"
)

// Chart file names written by Renderer.
const (
	ClosingPricesChart = "closing_prices.png"
	DailyReturnsChart  = "daily_returns.png"
	RollingMeanChart   = "rolling_mean.png"
	OutliersChart      = "outliers.png"
)

// DecompositionChart is the file name of an asset's decomposition chart.
func DecompositionChart(asset string) string { return asset + "_decomposition.png" }

// ForecastChart is the file name of a model's forecast chart for an asset.
func ForecastChart(asset, model string) string {
	return fmt.Sprintf("%s_%s_forecast.png", asset, strings.ToLower(model))
}

// Renderer writes PNG charts into Dir. Every method returns the written path.
type Renderer struct {
	Dir    string
	Width  int
	Height int
}

// NewRenderer returns a renderer with the default canvas size.
func NewRenderer(dir string) *Renderer {
	return &Renderer{Dir: dir, Width: 1200, Height: 600}
}

// ClosingPrices overlays every *_Close column.
func (r *Renderer) ClosingPrices(t *CleanedTable) (string, error) {
	sub, err := t.Subset(t.ColumnsWithSuffix(FieldClose))
	if err != nil {
		return "", err
	}
	return r.lines(ClosingPricesChart, "Closing Prices", sub.Dates, sub.Columns, sub.Values)
}

// DailyReturns overlays the daily-return columns.
func (r *Renderer) DailyReturns(returns *CleanedTable) (string, error) {
	return r.lines(DailyReturnsChart, "Daily Returns", returns.Dates, returns.Columns, returns.Values)
}

// RollingMean overlays rolling means. Leading points without a full window are skipped.
func (r *Renderer) RollingMean(means []Series, window int) (string, error) {
	if len(means) == 0 {
		return "", errors.New("no series to plot")
	}
	skip := window - 1
	if skip < 0 {
		skip = 0
	}
	if skip >= means[0].Len() {
		return "", &InsufficientDataError{What: "rolling mean chart", Have: means[0].Len(), Need: window}
	}
	names := make([]string, len(means))
	values := make([][]float64, len(means))
	for i, s := range means {
		names[i] = s.Name
		values[i] = s.Values[skip:]
	}
	return r.lines(RollingMeanChart, fmt.Sprintf("%d-Day Rolling Mean", window), means[0].Dates[skip:], names, values)
}

// Outliers draws outlier returns as bars on the dates where any asset had one.
func (r *Renderer) Outliers(outliers []Outlier, threshold float64) (string, error) {
	if len(outliers) == 0 {
		log.Info().Float64("threshold", threshold).Msg("charts: no outliers to plot")
	}
	var assets []string
	seenAsset := map[string]int{}
	seenDate := map[time.Time]struct{}{}
	var dates []time.Time
	for _, o := range outliers {
		if _, ok := seenAsset[o.Asset]; !ok {
			seenAsset[o.Asset] = len(assets)
			assets = append(assets, o.Asset)
		}
		if _, ok := seenDate[o.Date]; !ok {
			seenDate[o.Date] = struct{}{}
			dates = append(dates, o.Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	pos := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		pos[d] = i
	}
	values := make([][]float64, len(assets))
	for i := range values {
		values[i] = make([]float64, len(dates))
	}
	for _, o := range outliers {
		values[seenAsset[o.Asset]][pos[o.Date]] = o.Return
	}
	if len(assets) == 0 {
		assets, dates, values = []string{"none"}, []time.Time{{}}, [][]float64{{0}}
	}

	seriesList := charts.NewSeriesListDataFromValues(values, charts.ChartTypeBar)
	for i := range seriesList {
		seriesList[i].Name = assets[i]
	}
	yMin, yMax := paddedRange(values...)
	title := fmt.Sprintf("Outliers (|return| > %.2f%%)", threshold*100)
	return r.render(OutliersChart, seriesList, title, dateLabels(dates), assets,
		charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5})
}

// Decomposition draws observed and trend on the left axis and seasonal and
// residual on the right, over the span where the trend is defined.
func (r *Renderer) Decomposition(d *Decomposition) (string, error) {
	var keep []int
	for i, v := range d.Trend {
		if !isMissing(v) {
			keep = append(keep, i)
		}
	}
	if len(keep) < 2 {
		return "", &InsufficientDataError{What: "decomposition chart", Have: len(keep), Need: 2}
	}
	pick := func(src []float64) []float64 {
		out := make([]float64, len(keep))
		for i, k := range keep {
			out[i] = src[k]
		}
		return out
	}
	dates := make([]time.Time, len(keep))
	for i, k := range keep {
		dates[i] = d.Dates[k]
	}
	names := []string{"Observed", "Trend", "Seasonal", "Residual"}
	values := [][]float64{pick(d.Observed), pick(d.Trend), pick(d.Seasonal), pick(d.Resid)}

	seriesList := charts.NewSeriesListDataFromValues(values, charts.ChartTypeLine)
	for i := range seriesList {
		seriesList[i].Name = names[i]
		seriesList[i].AxisIndex = i / 2
	}
	leftMin, leftMax := paddedRange(values[0], values[1])
	rightMin, rightMax := paddedRange(values[2], values[3])
	title := fmt.Sprintf("%s Seasonal Decomposition (period %d)", d.Name, d.Period)
	asset := strings.TrimSuffix(d.Name, "_"+FieldClose)
	return r.render(DecompositionChart(asset), seriesList, title, dateLabels(dates), names,
		charts.YAxisOption{Min: &leftMin, Max: &leftMax, DivideCount: 5},
		charts.YAxisOption{Min: &rightMin, Max: &rightMax, DivideCount: 5, Position: charts.PositionRight},
	)
}

// Forecast draws the recent history of a series, the backtest predictions
// over its held-out window and the forward forecast past its last date, each
// on its own dates. backtest may be empty.
func (r *Renderer) Forecast(asset, model string, history, backtest, forward Series) (string, error) {
	if history.Len() == 0 || forward.Len() == 0 {
		return "", fmt.Errorf("forecast chart needs history and forecast, got %d and %d points", history.Len(), forward.Len())
	}
	names := []string{"History", model + " backtest", model + " forecast"}
	parts := []Series{history, backtest, forward}
	if backtest.Len() == 0 {
		names = []string{names[0], names[2]}
		parts = []Series{history, forward}
	}
	dates, values := forecastFrame(parts...)
	title := fmt.Sprintf("%s %s Forecast", asset, model)
	return r.lines(ForecastChart(asset, model), title, dates, names, values)
}

// forecastFrame aligns series on the union of their dates; a series has NaN
// on dates it does not cover.
func forecastFrame(parts ...Series) ([]time.Time, [][]float64) {
	seen := map[time.Time]struct{}{}
	var dates []time.Time
	for _, s := range parts {
		for _, d := range s.Dates {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				dates = append(dates, d)
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	pos := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		pos[d] = i
	}
	values := make([][]float64, len(parts))
	for i, s := range parts {
		col := make([]float64, len(dates))
		for j := range col {
			col[j] = math.NaN()
		}
		for k, d := range s.Dates {
			col[pos[d]] = s.Values[k]
		}
		values[i] = col
	}
	return dates, values
}

func (r *Renderer) lines(file, title string, dates []time.Time, names []string, values [][]float64) (string, error) {
	if len(values) == 0 || len(dates) < 2 {
		return "", &InsufficientDataError{What: title + " chart", Have: len(dates), Need: 2}
	}
	yMin, yMax := paddedRange(values...)
	seriesList := charts.NewSeriesListDataFromValues(withNulls(values), charts.ChartTypeLine)
	for i := range seriesList {
		seriesList[i].Name = names[i]
	}
	return r.render(file, seriesList, title, dateLabels(dates), names,
		charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5})
}

func (r *Renderer) render(file string, seriesList charts.SeriesList, title string, xLabels, legend []string, yAxes ...charts.YAxisOption) (string, error) {
	split := 10
	if len(xLabels) < split {
		split = len(xLabels)
	}
	painter, err := charts.Render(charts.ChartOption{SeriesList: seriesList},
		charts.TitleTextOptionFunc(title),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: xLabels, BoundaryGap: charts.FalseFlag(), SplitNumber: split}),
		charts.YAxisOptionFunc(yAxes...),
		charts.LegendOptionFunc(charts.LegendOption{Data: legend}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(r.Width),
		charts.HeightOptionFunc(r.Height),
		charts.PNGTypeOption(),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", file, err)
	}
	img, err := painter.Bytes()
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", file, err)
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.Dir, file)
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", err
	}
	log.Debug().Str("path", path).Int("bytes", len(img)).Msg("charts: wrote")
	return path, nil
}

// withNulls copies values with NaN replaced by the chart null value, which
// breaks the line instead of plotting a point.
func withNulls(values [][]float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, vs := range values {
		out[i] = make([]float64, len(vs))
		for j, v := range vs {
			if isMissing(v) {
				v = charts.GetNullValue()
			}
			out[i][j] = v
		}
	}
	return out
}

func dateLabels(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(dateLayout)
	}
	return out
}

// paddedRange returns the min and max over all values, widened by 5% of the
// span so lines do not touch the frame.
func paddedRange(values ...[]float64) (float64, float64) {
	mn, mx := math.Inf(1), math.Inf(-1)
	for _, vs := range values {
		for _, v := range vs {
			if isMissing(v) || math.IsInf(v, 0) {
				continue
			}
			mn = math.Min(mn, v)
			mx = math.Max(mx, v)
		}
	}
	if math.IsInf(mn, 1) {
		return 0, 1
	}
	pad := (mx - mn) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(mx)*0.01, 1e-6)
	}
	return mn - pad, mx + pad
}
