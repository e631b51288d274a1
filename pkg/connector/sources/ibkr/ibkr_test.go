package ibkr

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

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type gateway struct {
	authenticated bool
	token         string
	lastDays      string
}

func (g *gateway) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pathAuthStatus, func(w http.ResponseWriter, r *http.Request) {
		if g.token != "" && r.Header.Get("Authorization") != "Bearer "+g.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if g.authenticated {
			_, _ = w.Write([]byte(`{"authenticated":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"authenticated":false}`))
	})
	mux.HandleFunc(pathAccounts, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"U1"},{"id":"U2"},{"id":""}]`))
	})
	mux.HandleFunc("/v1/api/portfolio/U1/positions/0", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"ticker":"AAPL","conid":265598,"contractDesc":"APPLE INC","position":10,"mktPrice":190.5,"mktValue":1905,"avgCost":150,"currency":"USD"},
			{"conid":8314,"position":"2","mktPrice":"100","mktValue":"200","avgCost":"90"}
		]`))
	})
	mux.HandleFunc("/v1/api/portfolio/U2/positions/0", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/v1/api/portfolio/U1/meta", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accountType":"INDIVIDUAL","accountTitle":"Main","baseCurrency":"USD"}`))
	})
	mux.HandleFunc(pathTrades, func(w http.ResponseWriter, r *http.Request) {
		g.lastDays = r.URL.Query().Get("days")
		_, _ = w.Write([]byte(`[
			{"execution_id":"E1","account":"U1","symbol":"AAPL","description":"APPLE INC","side":"B","size":"-5","price":"180","net_amount":"900","commission":"1.5","trade_time_r":1714521600000},
			{"execution_id":"E2","account":"U1","symbol":"MSFT","side":"SELL","size":"3","price":"400","net_amount":"1200","trade_time_r":1716940800000},
			{"execution_id":"E3","account":"U2","symbol":"IBM","side":"BUY","size":"1","price":"170","net_amount":"170","trade_time_r":1716940800000},
			{"execution_id":"E4","account":"U1","symbol":"XYZ","side":"???","size":"1","trade_time_r":1716940800000},
			{"execution_id":"E5","account":"U1","symbol":"OLD","side":"BUY","size":"1","trade_time_r":1600000000000}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestConnector(t *testing.T, settings map[string]interface{}) *IBKRConnector {
	t.Helper()
	return newNamedConnector(t, "ibkr", settings)
}

func newNamedConnector(t *testing.T, id string, settings map[string]interface{}) *IBKRConnector {
	t.Helper()
	testutil.TestLogger(t)
	settings["max_retries"] = 0
	c, err := NewIBKRConnector(id, settings, base.WithClock(testutil.NewFakeClock(now)))
	require.NoError(t, err)
	return c
}

func TestAuthenticateWithBearerToken(t *testing.T) {
	g := &gateway{authenticated: true, token: "jwt-123"}
	srv := g.server(t)
	ctx := context.Background()

	c := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL, "jwt_token": "jwt-123"})
	status, err := c.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Connected to 2 account(s)", status.Message)
	assert.Equal(t, []string{"U1", "U2"}, c.Accounts())
	assert.True(t, c.HealthCheck(ctx).OK)

	unsigned := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL})
	_, err = unsigned.Authenticate(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestAuthenticateRejectsLoggedOutGateway(t *testing.T) {
	srv := (&gateway{}).server(t)
	c := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL})

	status, err := c.Authenticate(context.Background())
	assert.False(t, status.OK)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Contains(t, status.Message, "Gateway not authenticated")
}

func TestAccountFilter(t *testing.T) {
	srv := (&gateway{authenticated: true}).server(t)
	c := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL, "account_filter": "U2"})
	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"U2"}, c.Accounts())

	none := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL, "account_filter": []interface{}{"U9"}})
	status, err := none.Authenticate(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "No accounts found or all filtered out", status.Message)
}

func TestHoldingsSkipsFailedAccount(t *testing.T) {
	srv := (&gateway{authenticated: true}).server(t)
	c := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL})
	ctx := context.Background()
	_, err := c.Authenticate(ctx)
	require.NoError(t, err)

	res, err := c.Holdings(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	aapl := res.Rows()[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, "APPLE INC", aapl.Name)
	assert.True(t, aapl.CostBasis.Valid)
	assert.True(t, aapl.CostBasis.Decimal.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, "U1", aapl.AccountID)

	byConid := res.Rows()[1]
	assert.Equal(t, "8314", byConid.Symbol)
	assert.Equal(t, models.DefaultCurrency, byConid.Currency)

	_, err = c.Holdings(ctx, "U2")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataFetch), "a single failing account is an error")
}

func TestTransactionsMapsSidesAndWindow(t *testing.T) {
	g := &gateway{authenticated: true}
	srv := g.server(t)
	c := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL})
	ctx := context.Background()
	_, err := c.Authenticate(ctx)
	require.NoError(t, err)

	res, err := c.Transactions(ctx, core.TransactionQuery{AccountID: "U1"})
	require.NoError(t, err)
	assert.Equal(t, "365", g.lastDays)

	rows := res.Rows()
	require.Len(t, rows, 2, "other accounts, unknown sides and trades outside the window are dropped")

	assert.Equal(t, "MSFT", rows[0].Symbol)
	assert.Equal(t, models.TransactionSell, rows[0].TransactionType)
	assert.Equal(t, "ibkr_E2", rows[0].SourceID)

	assert.Equal(t, "AAPL", rows[1].Symbol)
	assert.Equal(t, models.TransactionBuy, rows[1].TransactionType)
	assert.True(t, rows[1].Quantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, rows[1].Fees.Decimal.Equal(decimal.RequireFromString("1.5")))

	_, err = c.Transactions(ctx, core.TransactionQuery{Since: now.AddDate(0, 0, -30), Until: now})
	require.NoError(t, err)
	assert.Equal(t, "30", g.lastDays)
}

func TestAccountInfoAndDisconnect(t *testing.T) {
	srv := (&gateway{authenticated: true}).server(t)
	c := newTestConnector(t, map[string]interface{}{"gateway_url": srv.URL})
	ctx := context.Background()

	_, err := c.AccountInfo(ctx)
	assert.Error(t, err)

	_, err = c.Authenticate(ctx)
	require.NoError(t, err)
	infos, err := c.AccountInfo(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, core.AccountInfo{
		ID: "U1", Name: "Main", Type: "INDIVIDUAL", Currency: "USD",
		Extra: map[string]interface{}{"status": "connected"},
	}, infos[0])

	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Disconnect(ctx))
	assert.Empty(t, c.Accounts())
	assert.False(t, c.HealthCheck(ctx).OK)
}

func TestSourceIDsUseConfiguredID(t *testing.T) {
	g := &gateway{authenticated: true}
	srv := g.server(t)
	ctx := context.Background()

	ids := map[string]string{}
	for _, id := range []string{"ibkr_joint", "ibkr_ira"} {
		c := newNamedConnector(t, id, map[string]interface{}{"gateway_url": srv.URL})
		_, err := c.Authenticate(ctx)
		require.NoError(t, err)
		res, err := c.Transactions(ctx, core.TransactionQuery{AccountID: "U1"})
		require.NoError(t, err)
		require.NotEmpty(t, res.Rows())
		ids[id] = res.Rows()[0].SourceID
	}
	assert.Equal(t, "ibkr_joint_E2", ids["ibkr_joint"])
	assert.Equal(t, "ibkr_ira_E2", ids["ibkr_ira"])
}
