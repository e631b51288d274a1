package exchange

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
	"github.com/ajitpratap0/wealthsync/pkg/models"
	"github.com/ajitpratap0/wealthsync/pkg/testutil"
)

const (
	jan1 = int64(1704067200000) // 2024-01-01T00:00:00Z
	jan2 = jan1 + 86400000
	jan3 = jan2 + 86400000
)

func venueServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	balanceCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "key" || r.Header.Get("X-API-SIGN") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		balanceCalls++
		_, _ = w.Write([]byte(`{"total":{"BTC":"0.5","ETH":2,"USDT":"100","DUST":"0.000001","XYZ":"3","ZERO":"0"}}`))
	})
	mux.HandleFunc("/ticker/BTC-USD", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"last":"50000"}`))
	})
	mux.HandleFunc("/ticker/ETH-USD", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"last":null,"close":"3000"}`))
	})
	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1704067200000", r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`[
			{"id":"t1","symbol":"BTC/USDT","side":"buy","amount":"0.5","price":"40000","cost":"20000","timestamp":1704067200000,"fee":{"cost":"10"}},
			{"id":"t2","symbol":"ETH/USDT","side":"sell","amount":"1","price":"3000","cost":"3000","timestamp":1704326400000}
		]`))
	})
	mux.HandleFunc("/deposits", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"d1","currency":"usdt","amount":"500","status":"ok","timestamp":1704153600000},
			{"id":"d2","currency":"USDT","amount":"1","status":"pending","timestamp":1704153600000}
		]`))
	})
	mux.HandleFunc("/withdrawals", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/time", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"time":1704067200000}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &balanceCalls
}

func newTestConnector(t *testing.T, venues map[string]interface{}) *ExchangeConnector {
	t.Helper()
	testutil.TestLogger(t)
	clock := testutil.NewFakeClock(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	c, err := NewExchangeConnector("crypto", map[string]interface{}{
		"exchanges":   venues,
		"max_retries": 0,
	}, base.WithClock(clock))
	require.NoError(t, err)
	return c
}

func TestNewExchangeConnectorReportsMissingKeys(t *testing.T) {
	_, err := NewExchangeConnector("crypto", map[string]interface{}{
		"exchanges": map[string]interface{}{
			"binance": map[string]interface{}{"base_url": "http://x", "api_key": "k"},
			"kraken":  map[string]interface{}{"api_key": "k", "api_secret": "s"},
			"okx":     map[string]interface{}{"enabled": false},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "exchanges.binance.api_secret")
	assert.Contains(t, err.Error(), "exchanges.kraken.base_url")
	assert.NotContains(t, err.Error(), "okx")

	_, err = NewExchangeConnector("crypto", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestHoldingsPricesAndFiltersBalances(t *testing.T) {
	srv, balanceCalls := venueServer(t)
	c := newTestConnector(t, map[string]interface{}{
		"main": map[string]interface{}{"base_url": srv.URL, "api_key": "key", "api_secret": "secret"},
	})
	ctx := context.Background()

	_, err := c.Holdings(ctx, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataFetch), "fetch before authentication fails")

	status, err := c.Authenticate(ctx)
	require.NoError(t, err)
	assert.True(t, status.OK)
	assert.Equal(t, "Connected to 1 exchange(s): [main]", status.Message)

	res, err := c.Holdings(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 4, res.Len())

	bySymbol := map[string]models.Holding{}
	for _, h := range res.Rows() {
		bySymbol[h.Symbol] = h
	}
	assert.True(t, bySymbol["BTC"].MarketValue.Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, "Bitcoin", bySymbol["BTC"].Name)
	assert.True(t, bySymbol["ETH"].CurrentPrice.Equal(decimal.NewFromInt(3000)))
	assert.True(t, bySymbol["USDT"].CurrentPrice.Equal(decimal.NewFromInt(1)))
	assert.True(t, bySymbol["XYZ"].CurrentPrice.IsZero(), "unpriced assets are kept at zero")
	assert.Equal(t, "main", bySymbol["XYZ"].AccountID)
	assert.NotContains(t, bySymbol, "DUST")

	_, err = c.Holdings(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, *balanceCalls, "second holdings call is served from cache")
}

func TestTransactionsMergesTradesAndTransfers(t *testing.T) {
	srv, _ := venueServer(t)
	c := newTestConnector(t, map[string]interface{}{
		"main": map[string]interface{}{"base_url": srv.URL, "api_key": "key", "api_secret": "secret"},
	})
	ctx := context.Background()
	_, err := c.Authenticate(ctx)
	require.NoError(t, err)

	res, err := c.Transactions(ctx, core.TransactionQuery{
		Since: time.UnixMilli(jan1),
		Until: time.UnixMilli(jan3).UTC(),
	})
	require.NoError(t, err)
	rows := res.Rows()
	require.Len(t, rows, 2, "pending deposits and trades after until are dropped")

	assert.Equal(t, "main_dep_d1", rows[0].SourceID)
	assert.Equal(t, models.TransactionDeposit, rows[0].TransactionType)
	assert.Equal(t, "USDT", rows[0].Symbol)

	assert.Equal(t, "main_t1", rows[1].SourceID)
	assert.Equal(t, models.TransactionBuy, rows[1].TransactionType)
	assert.Equal(t, "BTC", rows[1].Symbol)
	assert.True(t, rows[1].Fees.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestAuthenticatePartialSuccess(t *testing.T) {
	srv, _ := venueServer(t)
	c := newTestConnector(t, map[string]interface{}{
		"good": map[string]interface{}{"base_url": srv.URL, "api_key": "key", "api_secret": "secret"},
		"bad":  map[string]interface{}{"base_url": srv.URL, "api_key": "wrong", "api_secret": "secret"},
	})
	ctx := context.Background()

	status, err := c.Authenticate(ctx)
	require.NoError(t, err)
	assert.True(t, status.OK)
	assert.Contains(t, status.Message, "Failed: bad")

	_, err = c.Holdings(ctx, "bad")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataFetch))

	infos, err := c.AccountInfo(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "good", infos[0].ID)

	assert.True(t, c.HealthCheck(ctx).OK)

	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Disconnect(ctx))
	assert.False(t, c.HealthCheck(ctx).OK)
}

func TestAuthenticateAllFailed(t *testing.T) {
	srv, _ := venueServer(t)
	c := newTestConnector(t, map[string]interface{}{
		"bad": map[string]interface{}{"base_url": srv.URL, "api_key": "wrong", "api_secret": "secret"},
	})

	status, err := c.Authenticate(context.Background())
	assert.False(t, status.OK)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.False(t, c.IsAuthenticated())
}

func TestBaseAsset(t *testing.T) {
	assert.Equal(t, "BTC", baseAsset("btc/usdt"))
	assert.Equal(t, "ETH", baseAsset("ETH"))
	assert.Equal(t, "UNKNOWN", baseAsset(""))
	assert.Equal(t, "Shiba Inu", AssetName("SHIB"))
	assert.Equal(t, "FOO", AssetName("FOO"))
	assert.True(t, IsStablecoin("GUSD"))
}
