package models

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when a source omits the currency code.
const DefaultCurrency = "USD"

// Holding is one normalized position row.
type Holding struct {
	Symbol       string              `json:"symbol"`
	Name         string              `json:"name"`
	Quantity     decimal.Decimal     `json:"quantity"`
	CurrentPrice decimal.Decimal     `json:"current_price"`
	MarketValue  decimal.Decimal     `json:"market_value"`
	CostBasis    decimal.NullDecimal `json:"cost_basis"`
	Currency     string              `json:"currency"`
	AccountID    string              `json:"account_id"`
}

// MarshalJSON writes every holdings column; an empty account is null.
func (h Holding) MarshalJSON() ([]byte, error) {
	type row Holding
	return json.Marshal(struct {
		row
		AccountID *string `json:"account_id"`
	}{row(h), nullable(h.AccountID)})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewHolding builds a holding with market value derived from quantity and price.
func NewHolding(symbol, name string, quantity, price decimal.Decimal, currency, accountID string) Holding {
	return Holding{
		Symbol:       symbol,
		Name:         name,
		Quantity:     quantity,
		CurrentPrice: price,
		MarketValue:  quantity.Mul(price),
		Currency:     currency,
		AccountID:    accountID,
	}
}

// WithCostBasis returns a copy with the cost basis set.
func (h Holding) WithCostBasis(cost decimal.Decimal) Holding {
	h.CostBasis = decimal.NullDecimal{Decimal: cost, Valid: true}
	return h
}

// Normalize upper-cases codes, fills defaults and derives a missing market value.
func (h Holding) Normalize() Holding {
	h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
	h.Currency = strings.ToUpper(strings.TrimSpace(h.Currency))
	if h.Currency == "" {
		h.Currency = DefaultCurrency
	}
	if h.Name == "" {
		h.Name = h.Symbol
	}
	if h.MarketValue.IsZero() && !h.Quantity.IsZero() {
		h.MarketValue = h.Quantity.Mul(h.CurrentPrice)
	}
	return h
}

// Key identifies a position within one source.
func (h Holding) Key(source string) string {
	return source + "|" + h.AccountID + "|" + h.Symbol
}

// SameValue reports whether two snapshots of a position are identical.
func (h Holding) SameValue(o Holding) bool {
	return h.Quantity.Equal(o.Quantity) &&
		h.CurrentPrice.Equal(o.CurrentPrice) &&
		h.MarketValue.Equal(o.MarketValue) &&
		h.CostBasis.Valid == o.CostBasis.Valid &&
		h.CostBasis.Decimal.Equal(o.CostBasis.Decimal) &&
		h.Currency == o.Currency &&
		h.Name == o.Name
}
