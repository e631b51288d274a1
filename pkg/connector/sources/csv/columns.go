package csv

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical column names mapped from the header spellings brokers use.
var columnAliases = map[string][]string{
	"symbol":           {"symbol", "ticker", "instrument", "security", "asset"},
	"name":             {"name", "description", "security name", "security description"},
	"quantity":         {"quantity", "qty", "shares", "units", "amount held"},
	"price":            {"current_price", "price", "last price", "market price", "close"},
	"market_value":     {"market_value", "market value", "value", "current value"},
	"cost_basis":       {"cost_basis", "cost basis", "total cost", "book cost"},
	"currency":         {"currency", "ccy", "currency code"},
	"account_id":       {"account_id", "account", "account number"},
	"date":             {"date", "trade date", "transaction date", "settlement date", "run date"},
	"transaction_type": {"transaction_type", "type", "action", "side", "activity"},
	"amount":           {"amount", "net amount", "total", "proceeds"},
	"fees":             {"fees", "fee", "commission", "commissions"},
	"source_id":        {"source_id", "id", "transaction id", "reference", "ref"},
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// header resolves canonical column names to positions.
type header map[string]int

func newHeader(row []string) header {
	h := header{}
	index := map[string]int{}
	for i, col := range row {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if i, ok := index[alias]; ok {
				h[canonical] = i
				break
			}
		}
	}
	return h
}

func (h header) missing(cols ...string) []string {
	var out []string
	for _, c := range cols {
		if _, ok := h[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func (h header) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseNumber accepts thousands separators, a currency sign and accounting
// negatives such as "(1,234.50)". Empty cells are not valid.
func parseNumber(s string) (decimal.Decimal, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || strings.EqualFold(s, "n/a") {
		return decimal.Zero, false, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid number %q", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, true, nil
}

func parseDate(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if layout != "" {
		return time.Parse(layout, s)
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
