// Package samplebank is a template bank plugin. It returns generated demo
// data; copy the directory and replace the fetches with real bank API calls
// to build an integration.
//
// The package is linked into the wealthsync binary and registers its
// constructor with plugins.RegisterStatic, so the plugin manager resolves it
// without a shared object.
package samplebank

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/logger"
	"github.com/ajitpratap0/wealthsync/pkg/models"
	"github.com/ajitpratap0/wealthsync/pkg/plugins"
)

// Metadata mirrors manifest.yaml.
var Metadata = plugins.Metadata{
	ID:          "sample_bank",
	Name:        "Sample Bank Integration",
	Version:     "1.0.0",
	Author:      "WealthOS Community",
	Description: "A template bank integration plugin for demonstration",
	Capabilities: []plugins.Capability{
		plugins.CapabilityHoldings,
		plugins.CapabilityTransactions,
		plugins.CapabilityBalances,
	},
	SupportedCountries: []string{"US", "CN"},
	AuthenticationType: plugins.AuthCredentials,
	RequiredFields:     []string{"username", "password"},
	OptionalFields:     []string{"account_number", "branch_code"},
	DocumentationURL:   "https://github.com/ajitpratap0/wealthsync/wiki/sample-bank",
	MinSystemVersion:   "1.0.0",
}

// DefaultWindow bounds transaction history when the query has no since date.
const DefaultWindow = 90 * 24 * time.Hour

func init() {
	plugins.RegisterStatic(Metadata.ID, "NewSampleBank", NewSampleBank)
}

type account struct {
	ID       string
	Name     string
	Type     string
	Currency string
}

type txTemplate struct {
	kind     models.TransactionType
	min, max float64
}

var txTemplates = []txTemplate{
	{models.TransactionDeposit, 1000, 5000},
	{models.TransactionWithdrawal, -2000, -500},
	{models.TransactionInterest, 10, 100},
	{models.TransactionTransfer, -1000, 1000},
	{models.TransactionFee, -50, -5},
}

// SampleBank is the demo connector.
type SampleBank struct {
	*plugins.BankPlugin

	mu       sync.RWMutex
	session  string
	accounts []account
}

// NewSampleBank is the plugin constructor.
func NewSampleBank(config map[string]interface{}) (core.Connector, error) {
	b := &SampleBank{BankPlugin: plugins.NewBankPlugin(Metadata, config)}
	b.Logger().Info("initialized plugin", zap.String("plugin", Metadata.ID), zap.String("version", Metadata.Version))
	return b, nil
}

// Authenticate validates the credentials and loads the account list.
func (b *SampleBank) Authenticate(ctx context.Context) (core.Status, error) {
	if ok, missing := b.ValidatePluginConfig(); !ok {
		return core.StatusFailed(fmt.Sprintf("Missing required fields: %v", missing)), errors.NewMissingConfig(missing)
	}
	if err := ctx.Err(); err != nil {
		return core.StatusFailed(err.Error()), err
	}
	username := b.Settings().String("username", "")
	b.Logger().Info("authenticating", zap.String("username", logger.MaskSecret(username)))

	accounts := []account{
		{ID: "ACC001", Name: "Checking Account", Type: "checking", Currency: "USD"},
		{ID: "ACC002", Name: "Savings Account", Type: "savings", Currency: "USD"},
	}
	if only := b.Settings().String("account_number", ""); only != "" {
		accounts = filterAccounts(accounts, only)
		if len(accounts) == 0 {
			msg := fmt.Sprintf("account %s not found", only)
			return core.StatusFailed(msg), errors.NewAuthentication(Metadata.ID, msg)
		}
	}

	b.mu.Lock()
	b.session = fmt.Sprintf("demo_token_%d", b.rng("session").IntN(9000)+1000)
	b.accounts = accounts
	b.mu.Unlock()
	b.SetAuthenticated(true)

	b.Logger().Info("authenticated", zap.Int("accounts", len(accounts)))
	return core.StatusOK(fmt.Sprintf("Connected to %d account(s)", len(accounts))), nil
}

// Holdings reports one cash position per account.
func (b *SampleBank) Holdings(ctx context.Context, accountID string) (core.Result[models.Holding], error) {
	if err := b.RequireAuthenticated(); err != nil {
		return core.Result[models.Holding]{}, err
	}
	accounts := b.selected(accountID)
	if len(accounts) == 0 {
		return core.Empty[models.Holding](), nil
	}

	out := make([]models.Holding, 0, len(accounts))
	for _, a := range accounts {
		balance := b.balance(a.ID, "holding")
		h := models.NewHolding(strings.ToUpper(a.Type), a.Name, decimal.NewFromInt(1), balance, a.Currency, a.ID).
			WithCostBasis(balance)
		out = append(out, h.Normalize())
	}
	return core.Rows(out), nil
}

// Transactions generates between 5 and 15 transactions per account inside
// the query window, newest first.
func (b *SampleBank) Transactions(ctx context.Context, q core.TransactionQuery) (core.Result[models.Transaction], error) {
	if err := b.RequireAuthenticated(); err != nil {
		return core.Result[models.Transaction]{}, err
	}
	until := q.Until
	if until.IsZero() {
		until = b.Now()
	}
	since := q.Since
	if since.IsZero() {
		since = until.Add(-DefaultWindow)
	}
	if since.After(until) {
		return core.Empty[models.Transaction](), nil
	}
	days := int(until.Sub(since) / (24 * time.Hour))
	b.Logger().Info("fetching transactions",
		zap.String("since", since.Format(time.DateOnly)), zap.String("until", until.Format(time.DateOnly)))

	var out []models.Transaction
	for _, a := range b.selected(q.AccountID) {
		rng := b.rng("tx|" + a.ID + "|" + since.Format(time.DateOnly) + "|" + until.Format(time.DateOnly))
		n := 5 + rng.IntN(11)
		for i := 0; i < n; i++ {
			date := until.AddDate(0, 0, -rng.IntN(days+1))
			tmpl := txTemplates[rng.IntN(len(txTemplates))]
			amount := decimal.NewFromFloat(tmpl.min + rng.Float64()*(tmpl.max-tmpl.min)).Round(2)

			t := models.Transaction{
				Date:            date,
				Symbol:          "CASH",
				Name:            fmt.Sprintf("%s - %s", tmpl.kind, a.Name),
				TransactionType: tmpl.kind,
				Quantity:        decimal.NewFromInt(1),
				Price:           amount.Abs(),
				Amount:          amount,
				Currency:        a.Currency,
				SourceID:        fmt.Sprintf("sample_%s_%d_%s", a.ID, i, date.Format("20060102")),
				AccountID:       a.ID,
			}
			out = append(out, t.WithFees(decimal.Zero).Normalize(Metadata.ID))
		}
	}
	if len(out) == 0 {
		return core.Empty[models.Transaction](), nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return core.Rows(out), nil
}

// Balances reports available and current balances per account.
func (b *SampleBank) Balances(ctx context.Context, accountID string) ([]core.Balance, error) {
	if err := b.RequireAuthenticated(); err != nil {
		return nil, err
	}
	var out []core.Balance
	for _, a := range b.selected(accountID) {
		out = append(out, core.Balance{
			AccountID: a.ID,
			Currency:  a.Currency,
			Available: b.balance(a.ID, "available"),
			Current:   b.balance(a.ID, "holding"),
		})
	}
	return out, nil
}

// HealthCheck reports whether a session is open.
func (b *SampleBank) HealthCheck(ctx context.Context) core.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == "" {
		return core.StatusFailed("Not authenticated")
	}
	return core.StatusOK("Connection healthy")
}

// Disconnect drops the session and account list.
func (b *SampleBank) Disconnect(ctx context.Context) error {
	b.Logger().Info("disconnecting")
	b.mu.Lock()
	b.session = ""
	b.accounts = nil
	b.mu.Unlock()
	return b.BankPlugin.Disconnect(ctx)
}

func (b *SampleBank) selected(accountID string) []account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if accountID == "" {
		return append([]account(nil), b.accounts...)
	}
	return filterAccounts(b.accounts, accountID)
}

// balance is a stable demo balance between 5000 and 50000.
func (b *SampleBank) balance(accountID, kind string) decimal.Decimal {
	v := 5000 + b.rng(kind+"|"+accountID).Float64()*45000
	return decimal.NewFromFloat(v).Round(2)
}

// rng is seeded from the username so repeated syncs see the same data.
func (b *SampleBank) rng(salt string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.Settings().String("username", "") + "|" + salt))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed>>1))
}

func filterAccounts(accounts []account, id string) []account {
	var out []account
	for _, a := range accounts {
		if a.ID == id {
			out = append(out, a)
		}
	}
	return out
}

var _ core.BalanceProvider = (*SampleBank)(nil)
