package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type balanceResponse struct {
	Total map[string]decimal.Decimal `json:"total"`
}

type tickerResponse struct {
	Last  decimal.NullDecimal `json:"last"`
	Close decimal.NullDecimal `json:"close"`
}

type fee struct {
	Cost decimal.Decimal `json:"cost"`
}

type trade struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Timestamp int64           `json:"timestamp"`
	Fee       *fee            `json:"fee"`
}

// transfer is a deposit or a withdrawal.
type transfer struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Timestamp int64           `json:"timestamp"`
	Fee       *fee            `json:"fee"`
}

func (f *fee) cost() decimal.Decimal {
	if f == nil {
		return decimal.Zero
	}
	return f.Cost
}

// baseAsset returns BTC for "BTC/USDT".
func baseAsset(pair string) string {
	if pair == "" {
		return "UNKNOWN"
	}
	asset, _, _ := strings.Cut(pair, "/")
	return strings.ToUpper(asset)
}

func fromMillis(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

var cryptoNames = map[string]string{
	"BTC":   "Bitcoin",
	"ETH":   "Ethereum",
	"BNB":   "Binance Coin",
	"SOL":   "Solana",
	"ADA":   "Cardano",
	"XRP":   "Ripple",
	"DOT":   "Polkadot",
	"DOGE":  "Dogecoin",
	"AVAX":  "Avalanche",
	"MATIC": "Polygon",
	"LINK":  "Chainlink",
	"UNI":   "Uniswap",
	"ATOM":  "Cosmos",
	"LTC":   "Litecoin",
	"ETC":   "Ethereum Classic",
	"XLM":   "Stellar",
	"ALGO":  "Algorand",
	"NEAR":  "NEAR Protocol",
	"FTM":   "Fantom",
	"SAND":  "The Sandbox",
	"MANA":  "Decentraland",
	"APE":   "ApeCoin",
	"SHIB":  "Shiba Inu",
	"CRO":   "Cronos",
	"USDT":  "Tether",
	"USDC":  "USD Coin",
	"BUSD":  "Binance USD",
	"DAI":   "Dai",
	"TUSD":  "TrueUSD",
	"USDP":  "Pax Dollar",
}

var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "DAI": true,
	"TUSD": true, "USDP": true, "FRAX": true, "GUSD": true,
}

// AssetName maps a symbol to its display name, falling back to the symbol.
func AssetName(symbol string) string {
	if name, ok := cryptoNames[symbol]; ok {
		return name
	}
	return symbol
}

// IsStablecoin reports whether symbol is valued at one dollar.
func IsStablecoin(symbol string) bool { return stablecoins[symbol] }
