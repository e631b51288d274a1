package tiingo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/wealthsync/pkg/connector/base"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/testutil"
)

type fakeTiingo struct {
	iexCalls  int
	lastQuery map[string]string
}

func (f *fakeTiingo) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/test", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"message":"You successfully sent a request"}`))
	})
	mux.HandleFunc("/iex/AAPL", func(w http.ResponseWriter, r *http.Request) {
		f.iexCalls++
		_, _ = w.Write([]byte(`[{"last":null,"tngoLast":189.25}]`))
	})
	mux.HandleFunc("/iex/NOPE", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/iex/BUSY", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/tiingo/crypto/prices", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = w.Write([]byte(`[{"ticker":"btcusd","priceData":[
			{"date":"2024-01-02T00:00:00Z","open":"42000","high":"45000","low":"41000","close":"44000","volume":"1200"}
		]}]`))
	})
	mux.HandleFunc("/tiingo/daily/AAPL/prices", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = w.Write([]byte(`[
			{"date":"2024-01-02T00:00:00.000Z","open":187.15,"high":188.44,"low":183.89,"close":185.64,"volume":82488700},
			{"date":"2024-01-03T00:00:00.000Z","open":184.22,"high":185.88,"low":183.43,"close":184.25,"volume":58414500}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeTiingo) record(r *http.Request) {
	f.lastQuery = map[string]string{}
	for k := range r.URL.Query() {
		f.lastQuery[k] = r.URL.Query().Get(k)
	}
}

func newTestConnector(t *testing.T, srv *httptest.Server, key string) *TiingoConnector {
	t.Helper()
	testutil.TestLogger(t)
	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	c, err := NewTiingoConnector("prices", map[string]interface{}{
		"api_key":     key,
		"base_url":    srv.URL,
		"max_retries": 0,
	}, base.WithClock(clock))
	require.NoError(t, err)
	return c
}

func TestNewTiingoConnectorRequiresKey(t *testing.T) {
	_, err := NewTiingoConnector("prices", map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, "missing required config keys: [api_key]", err.Error())
}

func TestAuthenticate(t *testing.T) {
	srv := (&fakeTiingo{}).server(t)
	ctx := context.Background()

	bad := newTestConnector(t, srv, "bad")
	status, err := bad.Authenticate(ctx)
	assert.Equal(t, "Invalid API key", status.Message)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))

	good := newTestConnector(t, srv, "good")
	status, err = good.Authenticate(ctx)
	require.NoError(t, err)
	assert.True(t, status.OK)
	assert.True(t, good.HealthCheck(ctx).OK)
}

func TestHoldingsAndTransactionsNotSupported(t *testing.T) {
	srv := (&fakeTiingo{}).server(t)
	c := newTestConnector(t, srv, "good")

	h, err := c.Holdings(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, h.Supported())

	tx, err := c.Transactions(context.Background(), core.TransactionQuery{})
	require.NoError(t, err)
	assert.False(t, tx.Supported())
}

func TestCurrentPrice(t *testing.T) {
	f := &fakeTiingo{}
	srv := f.server(t)
	c := newTestConnector(t, srv, "good")
	ctx := context.Background()

	_, _, err := c.CurrentPrice(ctx, "AAPL")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataFetch))

	_, err = c.Authenticate(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		price, ok, err := c.CurrentPrice(ctx, "AAPL")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, price.Equal(decimal.RequireFromString("189.25")))
	}
	assert.Equal(t, 1, f.iexCalls, "second lookup is cached")
	_, cached := c.Cache().Get("price_AAPL")
	assert.True(t, cached)

	price, ok, err := c.CurrentPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(44000)))
	assert.Equal(t, "btcusd", f.lastQuery["tickers"])

	_, ok, err = c.CurrentPrice(ctx, "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.CurrentPrice(ctx, "BUSY")
	require.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
	hint, ok := errors.RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, RateLimitBackoff, hint)
}

func TestHistoricalPrices(t *testing.T) {
	f := &fakeTiingo{}
	srv := f.server(t)
	c := newTestConnector(t, srv, "good")
	ctx := context.Background()
	_, err := c.Authenticate(ctx)
	require.NoError(t, err)

	points, err := c.HistoricalPrices(ctx, "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2023-03-01", f.lastQuery["startDate"])
	assert.Equal(t, "2024-03-01", f.lastQuery["endDate"])
	assert.Equal(t, "daily", f.lastQuery["resampleFreq"])
	assert.True(t, points[1].Close.Equal(decimal.RequireFromString("184.25")))
	assert.Equal(t, 2024, points[0].Date.Year())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points, err = c.HistoricalPrices(ctx, "btcusd", start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "1day", f.lastQuery["resampleFreq"])
	assert.Equal(t, "2024-01-08", f.lastQuery["endDate"])
}

func TestIsCrypto(t *testing.T) {
	assert.True(t, IsCrypto("btc"))
	assert.True(t, IsCrypto("ethusd"))
	assert.False(t, IsCrypto("AAPL"))
	assert.Equal(t, "ethusd", cryptoTicker("ETH"))
	assert.Equal(t, "ethusd", cryptoTicker("ethusd"))
}
