// Package models defines the normalized rows every connector produces.
//
// Holdings and transactions share one shape regardless of source so that
// downstream collaborators (report generators, database writers) can assume
// exactly the columns listed in HoldingColumns and TransactionColumns.
// Optional columns (cost_basis, fees, account_id) are nullable.
package models

// Schema defines the structure of a normalized table.
type Schema struct {
	// Name identifies the table
	Name string `json:"name"`

	// Version tracks schema changes
	Version string `json:"version"`

	// Fields defines the columns in order
	Fields []Field `json:"fields"`
}

// Field represents a single column in the schema.
type Field struct {
	// Name is the column name
	Name string `json:"name"`

	// Type specifies the value type (string, decimal, datetime)
	Type string `json:"type"`

	// Description provides human-readable column information
	Description string `json:"description,omitempty"`

	// Required is false for nullable columns
	Required bool `json:"required"`
}

// Columns returns the column names in order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Nullable returns the names of the optional columns.
func (s Schema) Nullable() []string {
	var cols []string
	for _, f := range s.Fields {
		if !f.Required {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// HoldingsSchema describes the holdings table.
var HoldingsSchema = Schema{
	Name:    "holdings",
	Version: "1",
	Fields: []Field{
		{Name: "symbol", Type: "string", Description: "Ticker or symbol", Required: true},
		{Name: "name", Type: "string", Description: "Asset name", Required: true},
		{Name: "quantity", Type: "decimal", Description: "Number of shares or units", Required: true},
		{Name: "current_price", Type: "decimal", Description: "Latest price", Required: true},
		{Name: "market_value", Type: "decimal", Description: "quantity * current_price", Required: true},
		{Name: "cost_basis", Type: "decimal", Description: "Total cost"},
		{Name: "currency", Type: "string", Description: "Currency code", Required: true},
		{Name: "account_id", Type: "string", Description: "Source account"},
	},
}

// TransactionsSchema describes the transactions table.
var TransactionsSchema = Schema{
	Name:    "transactions",
	Version: "1",
	Fields: []Field{
		{Name: "date", Type: "datetime", Description: "Transaction date", Required: true},
		{Name: "symbol", Type: "string", Description: "Ticker or symbol", Required: true},
		{Name: "name", Type: "string", Description: "Asset name", Required: true},
		{Name: "transaction_type", Type: "string", Description: "Standard transaction type", Required: true},
		{Name: "quantity", Type: "decimal", Description: "Number of shares or units", Required: true},
		{Name: "price", Type: "decimal", Description: "Price per unit", Required: true},
		{Name: "amount", Type: "decimal", Description: "Total amount", Required: true},
		{Name: "currency", Type: "string", Description: "Currency code", Required: true},
		{Name: "fees", Type: "decimal", Description: "Transaction fees"},
		{Name: "source_id", Type: "string", Description: "Unique id from source for deduplication", Required: true},
		{Name: "account_id", Type: "string", Description: "Source account"},
	},
}

// HoldingColumns lists the holdings columns in order.
var HoldingColumns = HoldingsSchema.Columns()

// TransactionColumns lists the transaction columns in order.
var TransactionColumns = TransactionsSchema.Columns()
