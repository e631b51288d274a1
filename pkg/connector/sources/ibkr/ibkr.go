// Package ibkr reads positions and trades from an Interactive Brokers
// Client Portal gateway.
package ibkr

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/wealthsync/pkg/clients"
	"github.com/ajitpratap0/wealthsync/pkg/connector/base"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/models"
)

const (
	DefaultGatewayURL = "https://localhost:5000"
	DefaultWindow     = 365 * 24 * time.Hour

	pathAuthStatus = "/v1/api/iserver/auth/status"
	pathAccounts   = "/v1/api/portfolio/accounts"
	pathTrades     = "/v1/api/iserver/account/trades"
)

var sideTypes = map[string]models.TransactionType{
	"BUY":      models.TransactionBuy,
	"SELL":     models.TransactionSell,
	"DIV":      models.TransactionDividend,
	"INT":      models.TransactionInterest,
	"DEP":      models.TransactionDeposit,
	"WITH":     models.TransactionWithdrawal,
	"FEE":      models.TransactionFee,
	"SPLIT":    models.TransactionSplit,
	"MERGER":   models.TransactionMerger,
	"TRANSFER": models.TransactionTransfer,
}

type authStatus struct {
	Authenticated bool `json:"authenticated"`
}

type account struct {
	ID string `json:"id"`
}

type position struct {
	Ticker       string          `json:"ticker"`
	Conid        int64           `json:"conid"`
	ContractDesc string          `json:"contractDesc"`
	Position     decimal.Decimal `json:"position"`
	MktPrice     decimal.Decimal `json:"mktPrice"`
	MktValue     decimal.Decimal `json:"mktValue"`
	AvgCost      decimal.Decimal `json:"avgCost"`
	Currency     string          `json:"currency"`
}

type execution struct {
	ExecutionID string          `json:"execution_id"`
	Account     string          `json:"account"`
	Symbol      string          `json:"symbol"`
	Description string          `json:"description"`
	Side        string          `json:"side"`
	Size        decimal.Decimal `json:"size"`
	Price       decimal.Decimal `json:"price"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	Commission  decimal.Decimal `json:"commission"`
	Currency    string          `json:"currency"`
	TradeTimeMs int64           `json:"trade_time_r"`
}

type accountMeta struct {
	AccountType  string `json:"accountType"`
	AccountTitle string `json:"accountTitle"`
	BaseCurrency string `json:"baseCurrency"`
}

// IBKRConnector talks to one gateway. Settings: gateway_url, jwt_token,
// account_filter and verify_ssl (off by default for the self-signed local
// gateway).
type IBKRConnector struct {
	*base.BaseConnector

	gatewayURL    string
	accountFilter []string
	accounts      []string
}

// NewIBKRConnector builds the connector. A jwt_token is sent as a bearer
// token on every request.
func NewIBKRConnector(id string, settings map[string]interface{}, opts ...base.Option) (*IBKRConnector, error) {
	s := base.Settings(settings)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !s.Bool("verify_ssl", false) {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local gateway certificate
	}
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.Transport = transport

	b := base.NewBaseConnector(id, Metadata, settings,
		append([]base.Option{base.WithHTTPConfig(httpCfg)}, opts...)...)

	if token := s.String("jwt_token", ""); token != "" {
		oc, err := clients.NewOAuth2Client(context.Background(), &clients.OAuth2Config{
			GrantType:   clients.GrantStaticToken,
			AccessToken: token,
		}, nil, b.Logger())
		if err != nil {
			return nil, err
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: transport})
		b.SetHTTP(b.HTTP().WithHTTPClient(oc.Client(ctx, httpCfg.RequestTimeout)))
	}

	return &IBKRConnector{
		BaseConnector: b,
		gatewayURL:    strings.TrimRight(s.String("gateway_url", DefaultGatewayURL), "/"),
		accountFilter: s.StringSlice("account_filter"),
	}, nil
}

// Authenticate checks the gateway session and loads the linked accounts.
func (c *IBKRConnector) Authenticate(ctx context.Context) (core.Status, error) {
	var st authStatus
	if err := c.get(ctx, pathAuthStatus, &st); err != nil {
		return core.StatusFailed(fmt.Sprintf("Gateway check failed: %v", err)), err
	}
	if !st.Authenticated {
		msg := "Gateway not authenticated. Please login via IB Gateway first."
		return core.StatusFailed(msg), errors.NewAuthentication(c.ID(), msg)
	}

	var accts []account
	if err := c.get(ctx, pathAccounts, &accts); err != nil {
		return core.StatusFailed(fmt.Sprintf("Failed to get accounts: %v", err)), err
	}
	c.accounts = c.accounts[:0]
	for _, a := range accts {
		if a.ID == "" {
			continue
		}
		if len(c.accountFilter) > 0 && !slices.Contains(c.accountFilter, a.ID) {
			continue
		}
		c.accounts = append(c.accounts, a.ID)
	}
	if len(c.accounts) == 0 {
		msg := "No accounts found or all filtered out"
		return core.StatusFailed(msg), errors.NewAuthentication(c.ID(), msg)
	}

	c.SetAuthenticated(true)
	return core.StatusOK(fmt.Sprintf("Connected to %d account(s)", len(c.accounts))), nil
}

// Accounts returns the linked account ids after Authenticate.
func (c *IBKRConnector) Accounts() []string {
	return append([]string(nil), c.accounts...)
}

// Holdings returns positions for accountID, or for every linked account.
func (c *IBKRConnector) Holdings(ctx context.Context, accountID string) (core.Result[models.Holding], error) {
	if err := c.RequireAuthenticated(); err != nil {
		return core.Result[models.Holding]{}, err
	}

	var rows []models.Holding
	var firstErr error
	failures := 0
	targets := c.targets(accountID)
	for _, acct := range targets {
		holdings, err := base.Cached(c.BaseConnector, "holdings_"+acct, func() ([]models.Holding, error) {
			return c.accountHoldings(ctx, acct)
		})
		if err != nil {
			if ctx.Err() != nil {
				return core.Result[models.Holding]{}, err
			}
			failures++
			if firstErr == nil {
				firstErr = err
			}
			c.Logger().Error("failed to fetch holdings", zap.String("account", acct), zap.Error(err))
			continue
		}
		rows = append(rows, holdings...)
	}
	if failures > 0 && failures == len(targets) {
		return core.Result[models.Holding]{}, firstErr
	}
	return core.Rows(rows), nil
}

func (c *IBKRConnector) accountHoldings(ctx context.Context, acct string) ([]models.Holding, error) {
	var positions []position
	if err := c.get(ctx, "/v1/api/portfolio/"+acct+"/positions/0", &positions); err != nil {
		return nil, err
	}
	holdings := make([]models.Holding, 0, len(positions))
	for _, p := range positions {
		symbol := p.Ticker
		if symbol == "" {
			symbol = strconv.FormatInt(p.Conid, 10)
		}
		name := p.ContractDesc
		if name == "" {
			name = symbol
		}
		currency := p.Currency
		if currency == "" {
			currency = models.DefaultCurrency
		}
		h := models.Holding{
			Symbol:       symbol,
			Name:         name,
			Quantity:     p.Position,
			CurrentPrice: p.MktPrice,
			MarketValue:  p.MktValue,
			Currency:     currency,
			AccountID:    acct,
		}.WithCostBasis(p.AvgCost.Mul(p.Position))
		holdings = append(holdings, h.Normalize())
	}
	return holdings, nil
}

// Transactions returns executions inside the query window, newest first.
// The window defaults to the last 365 days.
func (c *IBKRConnector) Transactions(ctx context.Context, q core.TransactionQuery) (core.Result[models.Transaction], error) {
	if err := c.RequireAuthenticated(); err != nil {
		return core.Result[models.Transaction]{}, err
	}

	until := q.Until
	if until.IsZero() {
		until = c.Now()
	}
	since := q.Since
	if since.IsZero() {
		since = until.Add(-DefaultWindow)
	}
	days := int(until.Sub(since).Hours() / 24)
	if days < 1 {
		days = 1
	}

	var execs []execution
	if err := c.get(ctx, pathTrades+"?days="+strconv.Itoa(days), &execs); err != nil {
		return core.Result[models.Transaction]{}, err
	}

	targets := c.targets(q.AccountID)
	now := c.Now().UTC()
	rows := make([]models.Transaction, 0, len(execs))
	for _, e := range execs {
		acct := e.Account
		if acct == "" && len(targets) == 1 {
			acct = targets[0]
		}
		if acct != "" && !slices.Contains(targets, acct) {
			continue
		}

		kind, ok := sideTypes[strings.ToUpper(e.Side)]
		if !ok {
			if kind, ok = models.ParseTransactionType(e.Side); !ok {
				c.Logger().Warn("skipping execution with unknown side",
					zap.String("execution_id", e.ExecutionID), zap.String("side", e.Side))
				continue
			}
		}

		date := now
		if e.TradeTimeMs > 0 {
			date = time.UnixMilli(e.TradeTimeMs).UTC()
		}
		if date.Before(since) || date.After(until) {
			continue
		}

		name := e.Description
		if name == "" {
			name = e.Symbol
		}
		sourceID := ""
		if e.ExecutionID != "" {
			sourceID = models.GenerateSourceID(c.ID(), e.ExecutionID, time.Time{}, "", nil)
		}
		rows = append(rows, models.Transaction{
			Date:            date,
			Symbol:          e.Symbol,
			Name:            name,
			TransactionType: kind,
			Quantity:        e.Size.Abs(),
			Price:           e.Price,
			Amount:          e.NetAmount,
			Currency:        e.Currency,
			SourceID:        sourceID,
			AccountID:       acct,
		}.WithFees(e.Commission).Normalize("ibkr"))
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.After(rows[j].Date) })
	return core.Rows(rows), nil
}

// AccountInfo reads the portfolio metadata of every linked account.
// Accounts whose metadata cannot be read are logged and left out.
func (c *IBKRConnector) AccountInfo(ctx context.Context) ([]core.AccountInfo, error) {
	if err := c.RequireAuthenticated(); err != nil {
		return nil, err
	}
	var out []core.AccountInfo
	for _, acct := range c.accounts {
		var meta accountMeta
		if err := c.get(ctx, "/v1/api/portfolio/"+acct+"/meta", &meta); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.Logger().Error("failed to get account metadata", zap.String("account", acct), zap.Error(err))
			continue
		}
		info := core.AccountInfo{
			ID:       acct,
			Name:     meta.AccountTitle,
			Type:     meta.AccountType,
			Currency: meta.BaseCurrency,
			Extra:    map[string]interface{}{"status": "connected"},
		}
		if info.Type == "" {
			info.Type = "Unknown"
		}
		if info.Currency == "" {
			info.Currency = models.DefaultCurrency
		}
		out = append(out, info)
	}
	return out, nil
}

// HealthCheck re-reads the gateway session state.
func (c *IBKRConnector) HealthCheck(ctx context.Context) core.Status {
	if !c.IsAuthenticated() {
		return core.StatusFailed("Not authenticated")
	}
	var st authStatus
	if err := c.HTTP().GetJSON(ctx, c.gatewayURL+pathAuthStatus, nil, &st); err != nil {
		return core.StatusFailed(fmt.Sprintf("Gateway check failed: %v", err))
	}
	if !st.Authenticated {
		return core.StatusFailed("IBKR gateway not authenticated")
	}
	return core.StatusOK("IBKR gateway healthy and authenticated")
}

// Disconnect forgets the linked accounts.
func (c *IBKRConnector) Disconnect(ctx context.Context) error {
	c.accounts = nil
	return c.BaseConnector.Disconnect(ctx)
}

func (c *IBKRConnector) targets(accountID string) []string {
	if accountID != "" {
		return []string{accountID}
	}
	return c.accounts
}

func (c *IBKRConnector) get(ctx context.Context, path string, out interface{}) error {
	endpoint, _, _ := strings.Cut(path, "?")
	return c.Call(ctx, endpoint, func(ctx context.Context) error {
		return c.HTTP().GetJSON(ctx, c.gatewayURL+path, nil, out)
	})
}

var (
	_ core.Connector           = (*IBKRConnector)(nil)
	_ core.AccountInfoProvider = (*IBKRConnector)(nil)
)
