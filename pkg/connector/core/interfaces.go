package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/wealthsync/pkg/models"
)

// Category groups connectors by the kind of provider they talk to.
type Category string

const (
	CategoryBroker Category = "broker"
	CategoryCrypto Category = "crypto"
	CategoryMarket Category = "market"
	CategoryBank   Category = "bank"
	CategoryPlugin Category = "plugin"
)

// Metadata describes a connector type. It is created once per type and
// returned by value, so callers cannot mutate it.
type Metadata struct {
	Name               string   `json:"name"`
	Category           Category `json:"category"`
	Version            string   `json:"version"`
	Description        string   `json:"description"`
	SupportedAssets    []string `json:"supported_assets"`
	RequiresOAuth      bool     `json:"requires_oauth"`
	RequiresAPIKey     bool     `json:"requires_api_key"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty"`
	DocumentationURL   string   `json:"documentation_url,omitempty"`
}

// Status is the outcome of Authenticate and HealthCheck.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// StatusOK returns a successful status.
func StatusOK(msg string) Status { return Status{OK: true, Message: msg} }

// StatusFailed returns a failed status.
func StatusFailed(msg string) Status { return Status{Message: msg} }

// TransactionQuery selects the transactions to fetch. Zero times leave the
// corresponding bound to the connector's default window.
type TransactionQuery struct {
	AccountID string
	Since     time.Time
	Until     time.Time
}

// Connector is the contract every source implements, built-in or plugin.
//
// Authenticate must succeed before fetches; a fetch on an unauthenticated
// connector fails with a data fetch error. A failed fetch is always an
// error, never an empty result. Disconnect is idempotent.
type Connector interface {
	Metadata() Metadata
	Authenticate(ctx context.Context) (Status, error)
	Holdings(ctx context.Context, accountID string) (Result[models.Holding], error)
	Transactions(ctx context.Context, q TransactionQuery) (Result[models.Transaction], error)
	HealthCheck(ctx context.Context) Status
	Disconnect(ctx context.Context) error
}

// AccountInfo summarizes one account at a provider.
type AccountInfo struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Currency string                 `json:"currency"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// AccountInfoProvider is implemented by connectors that can list accounts.
type AccountInfoProvider interface {
	AccountInfo(ctx context.Context) ([]AccountInfo, error)
}

// PricePoint is one daily bar.
type PricePoint struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// PriceProvider is implemented by market data connectors.
type PriceProvider interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
	HistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]PricePoint, error)
}

// Balance is a cash balance in one currency.
type Balance struct {
	AccountID string          `json:"account_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Current   decimal.Decimal `json:"current"`
}

// BalanceProvider is implemented by connectors that report cash balances.
type BalanceProvider interface {
	Balances(ctx context.Context, accountID string) ([]Balance, error)
}

// Factory creates a connector instance for one configured source.
type Factory func(id string, settings map[string]interface{}) (Connector, error)
