// Package cache provides a Redis read-through cache for market-data sources.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"marketForecast/internal/finance"
)

// CachingSource decorates a finance.BarSource with Redis caching. With a nil
// client every call goes straight to the inner source.
type CachingSource struct {
	inner     finance.BarSource
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewCachingSource wraps inner. A non-positive ttl defaults to 12 hours and
// an empty namespace to "bars".
func NewCachingSource(rdb *redis.Client, ttl time.Duration, inner finance.BarSource, namespace string) *CachingSource {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if namespace == "" {
		namespace = "bars"
	}
	return &CachingSource{inner: inner, rdb: rdb, ttl: ttl, namespace: namespace}
}

func (c *CachingSource) Name() string { return c.inner.Name() }

// FetchDailyBars returns cached bars when present, otherwise fetches from the
// inner source and stores the result. Cache failures never fail the fetch.
func (c *CachingSource) FetchDailyBars(ctx context.Context, ticker string, start, end time.Time) ([]finance.Bar, error) {
	if c.rdb == nil {
		return c.inner.FetchDailyBars(ctx, ticker, start, end)
	}
	key := c.cacheKey(ticker, start, end)

	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var cached []cachedBar
		if err := json.Unmarshal(b, &cached); err == nil {
			log.Debug().Str("key", key).Int("bars", len(cached)).Msg("cache: hit")
			return fromCached(cached), nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	}

	bars, err := c.inner.FetchDailyBars(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(toCached(bars)); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("cache: store failed")
		}
	}
	return bars, nil
}

func (c *CachingSource) cacheKey(ticker string, start, end time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		c.namespace,
		safe(c.inner.Name()),
		safe(strings.ToUpper(ticker)),
		start.UTC().Format("20060102"),
		end.UTC().Format("20060102"),
	)
}

// cachedBar is the JSON form of a bar; nil stands for a missing value.
type cachedBar struct {
	Date   time.Time `json:"d"`
	Open   *float64  `json:"o"`
	High   *float64  `json:"h"`
	Low    *float64  `json:"l"`
	Close  *float64  `json:"c"`
	Volume *float64  `json:"v"`
}

func toCached(bars []finance.Bar) []cachedBar {
	out := make([]cachedBar, len(bars))
	for i, b := range bars {
		out[i] = cachedBar{Date: b.Date, Open: ptr(b.Open), High: ptr(b.High), Low: ptr(b.Low), Close: ptr(b.Close), Volume: ptr(b.Volume)}
	}
	return out
}

func fromCached(cached []cachedBar) []finance.Bar {
	out := make([]finance.Bar, len(cached))
	for i, b := range cached {
		out[i] = finance.Bar{Date: b.Date.UTC(), Open: val(b.Open), High: val(b.High), Low: val(b.Low), Close: val(b.Close), Volume: val(b.Volume)}
	}
	return out
}

func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func val(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
