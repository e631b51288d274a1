// Package csv imports brokerage CSV exports. A source points at a directory
// holding holdings.csv and transactions.csv; either file may be absent.
// Headers are matched case-insensitively against common broker spellings,
// so "Ticker", "Qty" and "Market Value" all resolve.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/connector/base"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/models"
)

const (
	HoldingsFile     = "holdings.csv"
	TransactionsFile = "transactions.csv"
)

// CSVSource reads one export directory.
type CSVSource struct {
	*base.BaseConnector

	holdingsPath     string
	transactionsPath string
	delimiter        rune
	dateFormat       string
	accountID        string
}

// NewCSVSource requires path. holdings_file and transactions_file override
// the file names; delimiter, date_format and account_id are optional.
func NewCSVSource(id string, settings map[string]interface{}, opts ...base.Option) (*CSVSource, error) {
	b := base.NewBaseConnector(id, Metadata, settings, opts...)
	if err := b.ValidateConfig("path"); err != nil {
		return nil, err
	}
	s := b.Settings()
	dir := s.String("path", "")

	delim := s.String("delimiter", ",")
	if delim == `\t` || delim == "tab" {
		delim = "\t"
	}
	if len([]rune(delim)) != 1 {
		return nil, errors.NewConfiguration(fmt.Sprintf("delimiter must be a single character, got %q", delim))
	}

	return &CSVSource{
		BaseConnector:    b,
		holdingsPath:     resolve(dir, s.String("holdings_file", HoldingsFile)),
		transactionsPath: resolve(dir, s.String("transactions_file", TransactionsFile)),
		delimiter:        []rune(delim)[0],
		dateFormat:       s.String("date_format", ""),
		accountID:        s.String("account_id", ""),
	}, nil
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Authenticate succeeds when at least one export file is readable.
func (s *CSVSource) Authenticate(ctx context.Context) (core.Status, error) {
	var found []string
	for _, p := range []string{s.holdingsPath, s.transactionsPath} {
		if err := readable(p); err == nil {
			found = append(found, filepath.Base(p))
		}
	}
	if len(found) == 0 {
		msg := fmt.Sprintf("no readable export in %s", filepath.Dir(s.holdingsPath))
		return core.StatusFailed(msg), errors.NewConfiguration(msg)
	}
	s.SetAuthenticated(true)
	return core.StatusOK("found " + strings.Join(found, ", ")), nil
}

// HealthCheck re-checks that the export files are still readable.
func (s *CSVSource) HealthCheck(ctx context.Context) core.Status {
	if !s.IsAuthenticated() {
		return core.StatusFailed("not authenticated")
	}
	var issues []string
	for _, p := range []string{s.holdingsPath, s.transactionsPath} {
		if err := readable(p); err != nil && !os.IsNotExist(err) {
			issues = append(issues, err.Error())
		}
	}
	if len(issues) > 0 {
		return core.StatusFailed(strings.Join(issues, "; "))
	}
	return core.StatusOK("export files readable")
}

// Holdings parses the holdings export. Rows without a symbol, such as
// totals and disclaimers, are skipped.
func (s *CSVSource) Holdings(ctx context.Context, accountID string) (core.Result[models.Holding], error) {
	if err := s.RequireAuthenticated(); err != nil {
		return core.Result[models.Holding]{}, err
	}
	rows, hdr, err := s.read(s.holdingsPath)
	if err != nil {
		return core.Result[models.Holding]{}, err
	}
	if rows == nil {
		return core.Empty[models.Holding](), nil
	}
	if missing := hdr.missing("symbol", "quantity"); len(missing) > 0 {
		return core.Result[models.Holding]{}, errors.NewDataFetch(
			fmt.Sprintf("holdings export lacks columns %v", missing), s.ID(), HoldingsFile)
	}

	out := make([]models.Holding, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return core.Result[models.Holding]{}, err
		}
		h, ok, err := s.holding(hdr, row)
		if err != nil {
			s.Logger().Warn("skipping holdings row", zap.Int("line", i+2), zap.Error(err))
			continue
		}
		if !ok || (accountID != "" && h.AccountID != accountID) {
			continue
		}
		out = append(out, h)
	}
	return core.Rows(out), nil
}

func (s *CSVSource) holding(hdr header, row []string) (models.Holding, bool, error) {
	symbol := hdr.get(row, "symbol")
	if symbol == "" {
		return models.Holding{}, false, nil
	}
	qty, ok, err := parseNumber(hdr.get(row, "quantity"))
	if err != nil {
		return models.Holding{}, false, fmt.Errorf("quantity: %v", err)
	}
	if !ok {
		return models.Holding{}, false, fmt.Errorf("%s has no quantity", symbol)
	}
	h := models.Holding{
		Symbol:    symbol,
		Name:      hdr.get(row, "name"),
		Quantity:  qty,
		Currency:  hdr.get(row, "currency"),
		AccountID: s.account(hdr.get(row, "account_id")),
	}
	if h.CurrentPrice, _, err = parseNumber(hdr.get(row, "price")); err != nil {
		return models.Holding{}, false, fmt.Errorf("price: %v", err)
	}
	if h.MarketValue, _, err = parseNumber(hdr.get(row, "market_value")); err != nil {
		return models.Holding{}, false, fmt.Errorf("market value: %v", err)
	}
	cost, ok, err := parseNumber(hdr.get(row, "cost_basis"))
	if err != nil {
		return models.Holding{}, false, fmt.Errorf("cost basis: %v", err)
	}
	if ok {
		h = h.WithCostBasis(cost)
	}
	return h.Normalize(), true, nil
}

// Transactions parses the transactions export, keeps rows inside the query
// window and returns them newest first.
func (s *CSVSource) Transactions(ctx context.Context, q core.TransactionQuery) (core.Result[models.Transaction], error) {
	if err := s.RequireAuthenticated(); err != nil {
		return core.Result[models.Transaction]{}, err
	}
	rows, hdr, err := s.read(s.transactionsPath)
	if err != nil {
		return core.Result[models.Transaction]{}, err
	}
	if rows == nil {
		return core.Empty[models.Transaction](), nil
	}
	if missing := hdr.missing("date", "transaction_type", "amount"); len(missing) > 0 {
		return core.Result[models.Transaction]{}, errors.NewDataFetch(
			fmt.Sprintf("transactions export lacks columns %v", missing), s.ID(), TransactionsFile)
	}

	out := make([]models.Transaction, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return core.Result[models.Transaction]{}, err
		}
		t, ok, err := s.transaction(hdr, row)
		if err != nil {
			s.Logger().Warn("skipping transactions row", zap.Int("line", i+2), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if (!q.Since.IsZero() && t.Date.Before(q.Since)) || (!q.Until.IsZero() && t.Date.After(q.Until)) {
			continue
		}
		if q.AccountID != "" && t.AccountID != q.AccountID {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return core.Rows(out), nil
}

func (s *CSVSource) transaction(hdr header, row []string) (models.Transaction, bool, error) {
	rawDate := hdr.get(row, "date")
	if rawDate == "" {
		return models.Transaction{}, false, nil
	}
	date, err := parseDate(rawDate, s.dateFormat)
	if err != nil {
		return models.Transaction{}, false, err
	}
	kind, ok := models.ParseTransactionType(hdr.get(row, "transaction_type"))
	if !ok {
		return models.Transaction{}, false, fmt.Errorf("unknown transaction type %q", kind)
	}

	t := models.Transaction{
		Date:            date,
		Symbol:          hdr.get(row, "symbol"),
		Name:            hdr.get(row, "name"),
		TransactionType: kind,
		Currency:        hdr.get(row, "currency"),
		AccountID:       s.account(hdr.get(row, "account_id")),
	}
	if t.Amount, _, err = parseNumber(hdr.get(row, "amount")); err != nil {
		return models.Transaction{}, false, fmt.Errorf("amount: %v", err)
	}
	if t.Quantity, _, err = parseNumber(hdr.get(row, "quantity")); err != nil {
		return models.Transaction{}, false, fmt.Errorf("quantity: %v", err)
	}
	if t.Price, _, err = parseNumber(hdr.get(row, "price")); err != nil {
		return models.Transaction{}, false, fmt.Errorf("price: %v", err)
	}
	fees, hasFees, err := parseNumber(hdr.get(row, "fees"))
	if err != nil {
		return models.Transaction{}, false, fmt.Errorf("fees: %v", err)
	}
	if hasFees {
		t = t.WithFees(fees.Abs())
	}
	if native := hdr.get(row, "source_id"); native != "" {
		t.SourceID = models.GenerateSourceID(s.ID(), native, date, "", nil)
	}
	return t.Normalize(s.ID()), true, nil
}

func (s *CSVSource) account(fromRow string) string {
	if fromRow != "" {
		return fromRow
	}
	return s.accountID
}

// read returns the data rows and header of path. A missing file yields nil
// rows and no error.
func (s *CSVSource) read(path string) ([][]string, header, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.Logger().Debug("export file not present", zap.String("file", path))
			return nil, nil, nil
		}
		return nil, nil, errors.WrapDataFetch(err, "failed to open export", s.ID(), filepath.Base(path))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = s.delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	first, err := r.Read()
	if err == io.EOF {
		return [][]string{}, header{}, nil
	}
	if err != nil {
		return nil, nil, errors.WrapDataFetch(err, "failed to read header", s.ID(), filepath.Base(path))
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, errors.WrapDataFetch(err, "failed to parse export", s.ID(), filepath.Base(path))
	}
	return rows, newHeader(first), nil
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

var _ core.Connector = (*CSVSource)(nil)
