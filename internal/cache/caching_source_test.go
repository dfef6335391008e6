package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketForecast/internal/finance"
)

type stubSource struct {
	calls int
	bars  []finance.Bar
	err   error
}

func (s *stubSource) Name() string { return "yahoo" }

func (s *stubSource) FetchDailyBars(_ context.Context, _ string, _, _ time.Time) ([]finance.Bar, error) {
	s.calls++
	return s.bars, s.err
}

var (
	start = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	key   = "bars:yahoo:TSLA:20230101:20230201"
)

func sampleBars() []finance.Bar {
	return []finance.Bar{
		{Date: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), Open: 118.47, High: 118.8, Low: 104.64, Close: 108.1, Volume: 231402800},
		{Date: time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC), Open: 109.11, High: 114.59, Low: 107.52, Close: math.NaN(), Volume: 180389000},
	}
}

func TestNewCachingSourceDefaults(t *testing.T) {
	t.Parallel()
	c := NewCachingSource(nil, 0, &stubSource{}, "")
	assert.Equal(t, 12*time.Hour, c.ttl)
	assert.Equal(t, "bars", c.namespace)
	assert.Equal(t, "yahoo", c.Name())
	assert.Equal(t, key, c.cacheKey("tsla", start, end))
}

func TestFetchNilRedisBypassesCache(t *testing.T) {
	t.Parallel()
	inner := &stubSource{bars: sampleBars()}
	c := NewCachingSource(nil, time.Hour, inner, "bars")
	bars, err := c.FetchDailyBars(context.Background(), "TSLA", start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 1, inner.calls)
}

func TestFetchCacheHit(t *testing.T) {
	t.Parallel()
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	payload, err := json.Marshal(toCached(sampleBars()))
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(payload))

	inner := &stubSource{}
	bars, err := NewCachingSource(rdb, time.Hour, inner, "bars").FetchDailyBars(context.Background(), "TSLA", start, end)
	require.NoError(t, err)
	assert.Equal(t, 0, inner.calls)
	require.Len(t, bars, 2)
	assert.Equal(t, sampleBars()[0], bars[0])
	assert.True(t, math.IsNaN(bars[1].Close))
	assert.Equal(t, 114.59, bars[1].High)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchCacheMissStores(t *testing.T) {
	t.Parallel()
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	payload, err := json.Marshal(toCached(sampleBars()))
	require.NoError(t, err)
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, payload, time.Hour).SetVal("OK")

	inner := &stubSource{bars: sampleBars()}
	bars, err := NewCachingSource(rdb, time.Hour, inner, "bars").FetchDailyBars(context.Background(), "TSLA", start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Len(t, bars, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchCorruptedEntryIsDeleted(t *testing.T) {
	t.Parallel()
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	payload, err := json.Marshal(toCached(sampleBars()))
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal("not json")
	mock.ExpectDel(key).SetVal(1)
	mock.ExpectSet(key, payload, time.Hour).SetVal("OK")

	inner := &stubSource{bars: sampleBars()}
	_, err = NewCachingSource(rdb, time.Hour, inner, "bars").FetchDailyBars(context.Background(), "TSLA", start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchInnerErrorPropagates(t *testing.T) {
	t.Parallel()
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	want := &finance.ProviderError{Provider: "yahoo", Ticker: "TSLA", Err: errors.New("429")}
	mock.ExpectGet(key).RedisNil()

	_, err := NewCachingSource(rdb, time.Hour, &stubSource{err: want}, "bars").FetchDailyBars(context.Background(), "TSLA", start, end)
	assert.ErrorIs(t, err, finance.ErrProvider)
	assert.Same(t, want, err)
}
