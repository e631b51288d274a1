package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// TransactionType is one of the standard transaction kinds.
type TransactionType string

// Standard transaction types.
const (
	TransactionBuy        TransactionType = "Buy"
	TransactionSell       TransactionType = "Sell"
	TransactionDividend   TransactionType = "Dividend"
	TransactionInterest   TransactionType = "Interest"
	TransactionDeposit    TransactionType = "Deposit"
	TransactionWithdrawal TransactionType = "Withdrawal"
	TransactionTransfer   TransactionType = "Transfer"
	TransactionFee        TransactionType = "Fee"
	TransactionSplit      TransactionType = "Split"
	TransactionMerger     TransactionType = "Merger"
)

// TransactionTypes maps every standard type to its description.
var TransactionTypes = map[TransactionType]string{
	TransactionBuy:        "Purchase of asset",
	TransactionSell:       "Sale of asset",
	TransactionDividend:   "Dividend payment received",
	TransactionInterest:   "Interest payment received",
	TransactionDeposit:    "Cash/asset deposit",
	TransactionWithdrawal: "Cash/asset withdrawal",
	TransactionTransfer:   "Internal transfer",
	TransactionFee:        "Transaction fee",
	TransactionSplit:      "Stock split",
	TransactionMerger:     "Merger/acquisition",
}

// Valid reports whether t is a standard type.
func (t TransactionType) Valid() bool {
	_, ok := TransactionTypes[t]
	return ok
}

// ParseTransactionType maps a source-specific label onto a standard type.
// Matching is case-insensitive and accepts common broker abbreviations.
func ParseTransactionType(s string) (TransactionType, bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	switch key {
	case "BUY", "B", "BOT", "BOUGHT", "PURCHASE":
		return TransactionBuy, true
	case "SELL", "S", "SLD", "SOLD", "SALE":
		return TransactionSell, true
	case "DIVIDEND", "DIV", "CASH DIVIDEND":
		return TransactionDividend, true
	case "INTEREST", "INT":
		return TransactionInterest, true
	case "DEPOSIT", "DEP":
		return TransactionDeposit, true
	case "WITHDRAWAL", "WITH", "WITHDRAW":
		return TransactionWithdrawal, true
	case "TRANSFER", "XFER":
		return TransactionTransfer, true
	case "FEE", "COMMISSION":
		return TransactionFee, true
	case "SPLIT", "STOCK SPLIT":
		return TransactionSplit, true
	case "MERGER", "ACQUISITION":
		return TransactionMerger, true
	}
	return TransactionType(s), false
}

// Transaction is one normalized transaction row.
type Transaction struct {
	Date            time.Time           `json:"date"`
	Symbol          string              `json:"symbol"`
	Name            string              `json:"name"`
	TransactionType TransactionType     `json:"transaction_type"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Price           decimal.Decimal     `json:"price"`
	Amount          decimal.Decimal     `json:"amount"`
	Currency        string              `json:"currency"`
	Fees            decimal.NullDecimal `json:"fees"`
	SourceID        string              `json:"source_id"`
	AccountID       string              `json:"account_id"`
}

// MarshalJSON writes every transaction column; an empty account is null.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type row Transaction
	return json.Marshal(struct {
		row
		AccountID *string `json:"account_id"`
	}{row(t), nullable(t.AccountID)})
}

// WithFees returns a copy with fees set.
func (t Transaction) WithFees(fees decimal.Decimal) Transaction {
	t.Fees = decimal.NullDecimal{Decimal: fees, Valid: true}
	return t
}

// Normalize upper-cases codes, maps the type label and fills defaults. The
// source id is derived from (source, date, symbol, amount) when missing.
func (t Transaction) Normalize(source string) Transaction {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	if t.Name == "" {
		t.Name = t.Symbol
	}
	if typ, ok := ParseTransactionType(string(t.TransactionType)); ok {
		t.TransactionType = typ
	}
	if t.SourceID == "" {
		t.SourceID = GenerateSourceID(source, "", t.Date, t.Symbol, &t.Amount)
	}
	return t
}

// GenerateSourceID builds the deduplication key for a transaction.
//
// A native transaction id wins: "<source>_<id>". Otherwise the key is
// "<source>_" plus the first 16 hex chars of sha256 over
// "source|date|symbol|amount", where absent components are left out, the
// date is rendered in UTC and the amount with six decimals.
func GenerateSourceID(source, transactionID string, date time.Time, symbol string, amount *decimal.Decimal) string {
	if transactionID != "" {
		return source + "_" + transactionID
	}

	components := []string{source}
	if !date.IsZero() {
		components = append(components, date.UTC().Format("2006-01-02T15:04:05.999999"))
	}
	if symbol != "" {
		components = append(components, symbol)
	}
	if amount != nil {
		components = append(components, amount.StringFixed(6))
	}

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return source + "_" + hex.EncodeToString(sum[:])[:16]
}
