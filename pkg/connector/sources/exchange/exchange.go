// Package exchange aggregates crypto exchange accounts behind one connector.
// Each entry under the exchanges setting is a venue with its own credentials
// and limiter:
//
//	exchanges:
//	  binance:
//	    base_url: https://api.binance.example
//	    api_key: ${BINANCE_KEY}
//	    api_secret: ${BINANCE_SECRET}
//	    rate_limit_per_second: 0.8
//
// Venues speak a small signed JSON dialect: /balance, /ticker/<SYM>-USD,
// /trades, /deposits, /withdrawals and /time.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/clients"
	"github.com/ajitpratap0/wealthsync/pkg/connector/base"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/models"
)

// DustThreshold is the smallest balance reported as a holding.
var DustThreshold = decimal.New(1, -5)

type venue struct {
	id      string
	baseURL string
	apiKey  string
	secret  string
	limiter *clients.RateLimiter
	ready   bool
}

// ExchangeConnector fans out to every enabled venue.
type ExchangeConnector struct {
	*base.BaseConnector
	venues []*venue
}

// NewExchangeConnector validates every enabled venue and reports all missing
// keys at once, e.g. exchanges.binance.api_secret.
func NewExchangeConnector(id string, settings map[string]interface{}, opts ...base.Option) (*ExchangeConnector, error) {
	b := base.NewBaseConnector(id, Metadata, settings, opts...)
	exchanges := b.Settings().Map("exchanges")
	if len(exchanges) == 0 {
		return nil, errors.NewConfiguration("No exchanges configured")
	}

	c := &ExchangeConnector{BaseConnector: b}
	var missing []string
	for _, name := range exchanges.Keys() {
		vs := exchanges.Map(name)
		if !vs.Bool("enabled", true) {
			b.Logger().Debug("skipping disabled exchange", zap.String("exchange", name))
			continue
		}
		for _, key := range vs.Missing("base_url", "api_key", "api_secret") {
			missing = append(missing, "exchanges."+name+"."+key)
		}
		c.venues = append(c.venues, &venue{
			id:      name,
			baseURL: strings.TrimRight(vs.String("base_url", ""), "/"),
			apiKey:  vs.String("api_key", ""),
			secret:  vs.String("api_secret", ""),
			limiter: b.NewRateLimiter(
				vs.Int("rate_limit_per_minute", Metadata.RateLimitPerMinute),
				vs.Float("rate_limit_per_second", 1),
			),
		})
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingConfig(missing)
	}
	if len(c.venues) == 0 {
		return nil, errors.NewConfiguration("No exchanges to authenticate")
	}
	return c, nil
}

// Authenticate checks every venue by fetching its balance. It succeeds when
// at least one venue authenticates.
func (c *ExchangeConnector) Authenticate(ctx context.Context) (core.Status, error) {
	var ok []string
	var failed []string
	var firstErr error
	for _, v := range c.venues {
		err := c.get(ctx, v, "/balance", nil, &balanceResponse{}, false)
		v.ready = err == nil
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return core.StatusFailed(ctxErr.Error()), ctxErr
			}
			if firstErr == nil {
				firstErr = err
			}
			c.Logger().Warn("exchange authentication failed", zap.String("exchange", v.id), zap.Error(err))
			failed = append(failed, fmt.Sprintf("%s: %v", v.id, err))
			continue
		}
		ok = append(ok, v.id)
	}

	c.SetAuthenticated(len(ok) > 0)
	switch {
	case len(ok) == 0:
		msg := "All connections failed: " + strings.Join(failed, "; ")
		if errors.IsType(firstErr, errors.ErrorTypeAuthentication) {
			return core.StatusFailed(msg), firstErr
		}
		return core.StatusFailed(msg), errors.NewAuthentication(c.ID(), msg)
	case len(failed) > 0:
		return core.StatusOK(fmt.Sprintf("Connected to %v. Failed: %s", ok, strings.Join(failed, "; "))), nil
	default:
		return core.StatusOK(fmt.Sprintf("Connected to %d exchange(s): %v", len(ok), ok)), nil
	}
}

// Holdings returns non-dust balances priced in USD. accountID selects one
// venue. A venue failure is logged unless every queried venue failed.
func (c *ExchangeConnector) Holdings(ctx context.Context, accountID string) (core.Result[models.Holding], error) {
	if err := c.RequireAuthenticated(); err != nil {
		return core.Result[models.Holding]{}, err
	}
	venues, err := c.selectVenues(accountID)
	if err != nil {
		return core.Result[models.Holding]{}, err
	}

	var rows []models.Holding
	var firstErr error
	failures := 0
	for _, v := range venues {
		holdings, err := base.Cached(c.BaseConnector, "holdings_"+v.id, func() ([]models.Holding, error) {
			return c.venueHoldings(ctx, v)
		})
		if err != nil {
			if ctx.Err() != nil {
				return core.Result[models.Holding]{}, err
			}
			failures++
			if firstErr == nil {
				firstErr = err
			}
			c.Logger().Error("failed to fetch holdings", zap.String("exchange", v.id), zap.Error(err))
			continue
		}
		rows = append(rows, holdings...)
	}
	if failures == len(venues) {
		return core.Result[models.Holding]{}, firstErr
	}
	return core.Rows(rows), nil
}

func (c *ExchangeConnector) venueHoldings(ctx context.Context, v *venue) ([]models.Holding, error) {
	var bal balanceResponse
	if err := c.get(ctx, v, "/balance", nil, &bal, true); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(bal.Total))
	for sym := range bal.Total {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	holdings := make([]models.Holding, 0, len(symbols))
	for _, sym := range symbols {
		qty := bal.Total[sym]
		if !qty.IsPositive() || qty.LessThan(DustThreshold) {
			continue
		}
		sym = strings.ToUpper(sym)
		price, err := c.price(ctx, v, sym)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, models.NewHolding(sym, AssetName(sym), qty, price, models.DefaultCurrency, v.id))
	}
	return holdings, nil
}

// price returns the USD price of sym, zero when the venue has no ticker for
// it. Stablecoins are valued at one.
func (c *ExchangeConnector) price(ctx context.Context, v *venue, sym string) (decimal.Decimal, error) {
	if IsStablecoin(sym) {
		return decimal.NewFromInt(1), nil
	}
	var t tickerResponse
	if err := c.get(ctx, v, "/ticker/"+sym+"-USD", nil, &t, false); err != nil {
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		c.Logger().Debug("no price for asset", zap.String("exchange", v.id), zap.String("symbol", sym), zap.Error(err))
		return decimal.Zero, nil
	}
	switch {
	case t.Last.Valid:
		return t.Last.Decimal, nil
	case t.Close.Valid:
		return t.Close.Decimal, nil
	}
	return decimal.Zero, nil
}

// Transactions returns trades, completed deposits and completed withdrawals,
// newest first.
func (c *ExchangeConnector) Transactions(ctx context.Context, q core.TransactionQuery) (core.Result[models.Transaction], error) {
	if err := c.RequireAuthenticated(); err != nil {
		return core.Result[models.Transaction]{}, err
	}
	venues, err := c.selectVenues(q.AccountID)
	if err != nil {
		return core.Result[models.Transaction]{}, err
	}

	params := url.Values{}
	if !q.Since.IsZero() {
		params.Set("since", strconv.FormatInt(q.Since.UnixMilli(), 10))
	}

	var rows []models.Transaction
	var firstErr error
	failures := 0
	for _, v := range venues {
		txns, err := c.venueTransactions(ctx, v, params)
		if err != nil {
			if ctx.Err() != nil {
				return core.Result[models.Transaction]{}, err
			}
			failures++
			if firstErr == nil {
				firstErr = err
			}
			c.Logger().Error("failed to fetch transactions", zap.String("exchange", v.id), zap.Error(err))
			continue
		}
		for _, t := range txns {
			if !q.Until.IsZero() && t.Date.After(q.Until) {
				continue
			}
			rows = append(rows, t)
		}
	}
	if failures == len(venues) {
		return core.Result[models.Transaction]{}, firstErr
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.After(rows[j].Date) })
	return core.Rows(rows), nil
}

func (c *ExchangeConnector) venueTransactions(ctx context.Context, v *venue, params url.Values) ([]models.Transaction, error) {
	now := c.Now().UTC()

	var trades []trade
	if err := c.get(ctx, v, "/trades", params, &trades, true); err != nil {
		return nil, err
	}
	txns := make([]models.Transaction, 0, len(trades))
	for _, tr := range trades {
		sym := baseAsset(tr.Symbol)
		kind := models.TransactionSell
		if strings.EqualFold(tr.Side, "buy") {
			kind = models.TransactionBuy
		}
		txns = append(txns, models.Transaction{
			Date:            fromMillis(tr.Timestamp, now),
			Symbol:          sym,
			Name:            AssetName(sym),
			TransactionType: kind,
			Quantity:        tr.Amount,
			Price:           tr.Price,
			Amount:          tr.Cost,
			Currency:        models.DefaultCurrency,
			SourceID:        nativeID(v.id, "", tr.ID),
			AccountID:       v.id,
		}.WithFees(tr.Fee.cost()))
	}

	for _, kind := range []struct {
		endpoint string
		prefix   string
		txType   models.TransactionType
	}{
		{"/deposits", "dep_", models.TransactionDeposit},
		{"/withdrawals", "wth_", models.TransactionWithdrawal},
	} {
		var transfers []transfer
		if err := c.get(ctx, v, kind.endpoint, params, &transfers, true); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.Logger().Debug("could not fetch transfers",
				zap.String("exchange", v.id), zap.String("endpoint", kind.endpoint), zap.Error(err))
			continue
		}
		for _, tf := range transfers {
			if tf.Status != "ok" {
				continue
			}
			sym := strings.ToUpper(tf.Currency)
			if sym == "" {
				sym = "UNKNOWN"
			}
			txns = append(txns, models.Transaction{
				Date:            fromMillis(tf.Timestamp, now),
				Symbol:          sym,
				Name:            AssetName(sym),
				TransactionType: kind.txType,
				Quantity:        tf.Amount,
				Amount:          tf.Amount,
				Currency:        models.DefaultCurrency,
				SourceID:        nativeID(v.id, kind.prefix, tf.ID),
				AccountID:       v.id,
			}.WithFees(tf.Fee.cost()))
		}
	}
	return txns, nil
}

// nativeID is empty when the venue gave no id, leaving derivation to the
// importer.
func nativeID(venueID, prefix, id string) string {
	if id == "" {
		return ""
	}
	return venueID + "_" + prefix + id
}

// AccountInfo lists the authenticated venues.
func (c *ExchangeConnector) AccountInfo(ctx context.Context) ([]core.AccountInfo, error) {
	if err := c.RequireAuthenticated(); err != nil {
		return nil, err
	}
	var out []core.AccountInfo
	for _, v := range c.venues {
		if !v.ready {
			continue
		}
		out = append(out, core.AccountInfo{
			ID:       v.id,
			Name:     v.id,
			Type:     "Crypto Exchange",
			Currency: models.DefaultCurrency,
			Extra:    map[string]interface{}{"status": "connected"},
		})
	}
	return out, nil
}

// HealthCheck pings /time on every authenticated venue.
func (c *ExchangeConnector) HealthCheck(ctx context.Context) core.Status {
	var issues []string
	healthy := 0
	for _, v := range c.venues {
		if !v.ready {
			continue
		}
		if err := c.get(ctx, v, "/time", nil, nil, false); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", v.id, err))
			continue
		}
		healthy++
	}
	if healthy == 0 && len(issues) == 0 {
		return core.StatusFailed("No exchanges connected")
	}
	if len(issues) > 0 {
		return core.StatusFailed("Issues: " + strings.Join(issues, "; "))
	}
	return core.StatusOK(fmt.Sprintf("All %d exchange(s) healthy", healthy))
}

// Disconnect forgets venue sessions and clears shared state.
func (c *ExchangeConnector) Disconnect(ctx context.Context) error {
	for _, v := range c.venues {
		v.ready = false
		v.limiter.Reset()
	}
	return c.BaseConnector.Disconnect(ctx)
}

func (c *ExchangeConnector) selectVenues(accountID string) ([]*venue, error) {
	var out []*venue
	for _, v := range c.venues {
		if !v.ready {
			continue
		}
		if accountID == "" || v.id == accountID {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		if accountID != "" {
			return nil, errors.NewDataFetch(fmt.Sprintf("exchange %s not authenticated", accountID), c.ID(), "")
		}
		return nil, errors.NewDataFetch("no authenticated exchanges", c.ID(), "")
	}
	return out, nil
}

// get calls a venue endpoint under the venue limiter. With retry set the
// connector retry policy applies.
func (c *ExchangeConnector) get(ctx context.Context, v *venue, path string, params url.Values, out interface{}, retry bool) error {
	attempt := func() (struct{}, error) {
		waited, err := v.limiter.Wait(ctx)
		c.Collector().RecordLimiterWait(waited)
		if err != nil {
			return struct{}{}, err
		}
		start := time.Now()
		err = c.HTTP().GetJSON(ctx, v.url(path, params), v.sign(http.MethodGet, path, c.Now()), out)
		status := "success"
		if err != nil {
			if status = string(errors.TypeOf(err)); status == "" {
				status = "error"
			}
		}
		c.Collector().RecordFetch(path, status, time.Since(start))
		return struct{}{}, err
	}
	if !retry {
		_, err := attempt()
		return err
	}
	_, err := base.Do(ctx, c.RetryPolicy(), attempt)
	return err
}

func (v *venue) url(path string, params url.Values) string {
	u := v.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// sign returns the authentication headers: the key, a millisecond timestamp
// and an HMAC-SHA256 of timestamp, method and path under the secret.
func (v *venue) sign(method, path string, now time.Time) map[string]string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(ts + method + path))
	return map[string]string{
		"X-API-KEY":       v.apiKey,
		"X-API-TIMESTAMP": ts,
		"X-API-SIGN":      hex.EncodeToString(mac.Sum(nil)),
	}
}

var (
	_ core.Connector           = (*ExchangeConnector)(nil)
	_ core.AccountInfoProvider = (*ExchangeConnector)(nil)
)
