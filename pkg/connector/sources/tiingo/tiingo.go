// Package tiingo is a market data connector. It has no holdings or
// transactions; it serves prices through core.PriceProvider.
package tiingo

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/wealthsync/pkg/connector/base"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/models"
)

const (
	DefaultBaseURL = "https://api.tiingo.com"

	// RateLimitBackoff is the retry hint attached to HTTP 429 responses.
	RateLimitBackoff = 60 * time.Second

	dateLayout = "2006-01-02"
)

var cryptoSymbols = map[string]bool{
	"BTC": true, "ETH": true, "BNB": true, "SOL": true, "ADA": true, "XRP": true,
	"DOT": true, "DOGE": true, "AVAX": true, "MATIC": true, "LINK": true, "UNI": true,
	"ATOM": true, "LTC": true, "ETC": true, "XLM": true, "ALGO": true, "NEAR": true,
	"FTM": true, "SAND": true, "MANA": true, "APE": true, "SHIB": true, "CRO": true,
	"USDT": true, "USDC": true, "BUSD": true, "DAI": true,
}

type iexQuote struct {
	Last     decimal.NullDecimal `json:"last"`
	TngoLast decimal.NullDecimal `json:"tngoLast"`
}

type cryptoBar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type cryptoPrices struct {
	Ticker    string      `json:"ticker"`
	PriceData []cryptoBar `json:"priceData"`
}

// SymbolMatch is one search hit.
type SymbolMatch struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	AssetType   string `json:"assetType"`
	CountryCode string `json:"countryCode"`
}

// TiingoConnector reads prices with a Token api_key.
type TiingoConnector struct {
	*base.BaseConnector
	baseURL string
	headers map[string]string
}

// NewTiingoConnector requires api_key; base_url overrides the API host.
func NewTiingoConnector(id string, settings map[string]interface{}, opts ...base.Option) (*TiingoConnector, error) {
	b := base.NewBaseConnector(id, Metadata, settings, opts...)
	if err := b.ValidateConfig("api_key"); err != nil {
		return nil, err
	}
	return &TiingoConnector{
		BaseConnector: b,
		baseURL:       strings.TrimRight(b.Settings().String("base_url", DefaultBaseURL), "/"),
		headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Token " + b.Settings().String("api_key", ""),
		},
	}, nil
}

// Authenticate validates the API key against /api/test.
func (c *TiingoConnector) Authenticate(ctx context.Context) (core.Status, error) {
	if err := c.get(ctx, "/api/test", nil, nil); err != nil {
		if errors.IsType(err, errors.ErrorTypeAuthentication) {
			return core.StatusFailed("Invalid API key"), err
		}
		return core.StatusFailed("API test failed: " + err.Error()), err
	}
	c.SetAuthenticated(true)
	return core.StatusOK("Tiingo API key validated"), nil
}

// Holdings is not supported by a market data provider.
func (c *TiingoConnector) Holdings(context.Context, string) (core.Result[models.Holding], error) {
	return core.NotSupported[models.Holding](), nil
}

// Transactions is not supported by a market data provider.
func (c *TiingoConnector) Transactions(context.Context, core.TransactionQuery) (core.Result[models.Transaction], error) {
	return core.NotSupported[models.Transaction](), nil
}

// CurrentPrice returns the latest price of symbol. Crypto symbols are
// quoted against USD. ok is false when the symbol is unknown.
func (c *TiingoConnector) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if err := c.RequireAuthenticated(); err != nil {
		return decimal.Zero, false, err
	}
	key := "price_" + symbol
	if v, ok := c.Cache().Get(key); ok {
		if price, ok := v.(decimal.Decimal); ok {
			c.Collector().RecordCache(true)
			return price, true, nil
		}
	}
	c.Collector().RecordCache(false)

	var (
		price decimal.Decimal
		found bool
		err   error
	)
	if IsCrypto(symbol) {
		price, found, err = c.cryptoPrice(ctx, symbol)
	} else {
		price, found, err = c.stockPrice(ctx, symbol)
	}
	if err != nil || !found {
		return decimal.Zero, false, err
	}
	c.Cache().Set(key, price)
	return price, true, nil
}

func (c *TiingoConnector) stockPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	var quotes []iexQuote
	if err := c.get(ctx, "/iex/"+url.PathEscape(symbol), nil, &quotes); err != nil {
		return notFound(err)
	}
	if len(quotes) == 0 {
		return decimal.Zero, false, nil
	}
	switch q := quotes[0]; {
	case q.Last.Valid:
		return q.Last.Decimal, true, nil
	case q.TngoLast.Valid:
		return q.TngoLast.Decimal, true, nil
	}
	return decimal.Zero, false, nil
}

func (c *TiingoConnector) cryptoPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	var out []cryptoPrices
	q := url.Values{"tickers": {cryptoTicker(symbol)}}
	if err := c.get(ctx, "/tiingo/crypto/prices", q, &out); err != nil {
		return notFound(err)
	}
	if len(out) == 0 || len(out[0].PriceData) == 0 {
		return decimal.Zero, false, nil
	}
	return out[0].PriceData[0].Close, true, nil
}

// HistoricalPrices returns daily bars between start and end. Zero bounds
// default to the year ending now.
func (c *TiingoConnector) HistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]core.PricePoint, error) {
	if err := c.RequireAuthenticated(); err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = c.Now()
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}
	q := url.Values{
		"startDate": {start.Format(dateLayout)},
		"endDate":   {end.Format(dateLayout)},
	}

	var bars []cryptoBar
	if IsCrypto(symbol) {
		q.Set("tickers", cryptoTicker(symbol))
		q.Set("resampleFreq", "1day")
		var out []cryptoPrices
		if err := c.get(ctx, "/tiingo/crypto/prices", q, &out); err != nil {
			return nil, err
		}
		if len(out) > 0 {
			bars = out[0].PriceData
		}
	} else {
		q.Set("resampleFreq", "daily")
		if err := c.get(ctx, "/tiingo/daily/"+url.PathEscape(symbol)+"/prices", q, &bars); err != nil {
			return nil, err
		}
	}

	points := make([]core.PricePoint, 0, len(bars))
	for _, b := range bars {
		points = append(points, core.PricePoint(b))
	}
	return points, nil
}

// SearchSymbol looks up tickers by name or symbol.
func (c *TiingoConnector) SearchSymbol(ctx context.Context, query string, limit int) ([]SymbolMatch, error) {
	if err := c.RequireAuthenticated(); err != nil {
		return nil, err
	}
	var out []SymbolMatch
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/tiingo/utilities/search/"+url.PathEscape(query), q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck calls /api/test.
func (c *TiingoConnector) HealthCheck(ctx context.Context) core.Status {
	if !c.IsAuthenticated() {
		return core.StatusFailed("Not authenticated")
	}
	if err := c.HTTP().GetJSON(ctx, c.baseURL+"/api/test", c.headers, nil); err != nil {
		return core.StatusFailed("API check failed: " + err.Error())
	}
	return core.StatusOK("Tiingo API healthy")
}

// IsCrypto reports whether symbol is priced on the crypto endpoint.
func IsCrypto(symbol string) bool {
	return cryptoSymbols[strings.ToUpper(symbol)] || strings.HasSuffix(strings.ToLower(symbol), "usd")
}

// cryptoTicker maps BTC to btcusd.
func cryptoTicker(symbol string) string {
	t := strings.ToLower(symbol)
	if !strings.HasSuffix(t, "usd") {
		t += "usd"
	}
	return t
}

func notFound(err error) (decimal.Decimal, bool, error) {
	if code, ok := errors.StatusCode(err); ok && code == http.StatusNotFound {
		return decimal.Zero, false, nil
	}
	return decimal.Zero, false, err
}

func (c *TiingoConnector) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.Call(ctx, path, func(ctx context.Context) error {
		err := c.HTTP().GetJSON(ctx, u, c.headers, out)
		if errors.IsType(err, errors.ErrorTypeRateLimit) {
			if _, ok := errors.RetryAfter(err); !ok {
				return errors.NewRateLimit("Tiingo rate limit exceeded", RateLimitBackoff)
			}
		}
		return err
	})
}

var (
	_ core.Connector     = (*TiingoConnector)(nil)
	_ core.PriceProvider = (*TiingoConnector)(nil)
)
