package finance

import (
	"context"
	"time"
)

// Bar is one daily OHLCV observation. Fields the provider reported as null are NaN.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Field returns the value of the named OHLCV field.
func (b Bar) Field(name string) (float64, bool) {
	switch name {
	case FieldOpen:
		return b.Open, true
	case FieldHigh:
		return b.High, true
	case FieldLow:
		return b.Low, true
	case FieldClose:
		return b.Close, true
	case FieldVolume:
		return b.Volume, true
	}
	return 0, false
}

// BarSource fetches daily bars for a single ticker over [start, end).
type BarSource interface {
	Name() string
	FetchDailyBars(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error)
}

// yahooChartResp mirrors the Yahoo v8 chart response (trimmed to daily OHLCV).
type yahooChartResp struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string `json:"symbol"`
				GmtOffset            int    `json:"gmtoffset"`
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}
