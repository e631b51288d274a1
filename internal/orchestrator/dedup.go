package orchestrator

import (
	"sync"

	"github.com/ajitpratap0/wealthsync/pkg/models"
)

// Counts tallies the outcome of a batch.
type Counts struct {
	Imported int
	Updated  int
	Skipped  int
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Imported += o.Imported
	c.Updated += o.Updated
	c.Skipped += o.Skipped
}

// Deduplicator normalizes rows and remembers what it has seen for the life
// of the orchestrator. Transactions are keyed by (source, source id);
// holdings by (source, account, symbol).
type Deduplicator struct {
	mu           sync.Mutex
	transactions map[string]struct{}
	holdings     map[string]models.Holding
}

// NewDeduplicator returns an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		transactions: make(map[string]struct{}),
		holdings:     make(map[string]models.Holding),
	}
}

// Transactions normalizes rows in place and counts new ids as imported and
// known ids as skipped. Repeats within rows are skipped too.
func (d *Deduplicator) Transactions(source string, rows []models.Transaction) Counts {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c Counts
	for i := range rows {
		rows[i] = rows[i].Normalize(source)
		id := source + "|" + rows[i].SourceID
		if _, seen := d.transactions[id]; seen {
			c.Skipped++
			continue
		}
		d.transactions[id] = struct{}{}
		c.Imported++
	}
	return c
}

// Holdings normalizes rows in place. A position not seen before is
// imported, one whose values changed is updated and an identical snapshot
// is skipped.
func (d *Deduplicator) Holdings(source string, rows []models.Holding) Counts {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c Counts
	for i := range rows {
		rows[i] = rows[i].Normalize()
		key := rows[i].Key(source)
		prev, seen := d.holdings[key]
		switch {
		case !seen:
			c.Imported++
		case prev.SameValue(rows[i]):
			c.Skipped++
			continue
		default:
			c.Updated++
		}
		d.holdings[key] = rows[i]
	}
	return c
}

// Reset forgets everything.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transactions = make(map[string]struct{})
	d.holdings = make(map[string]models.Holding)
}

// Len returns the number of remembered transactions and holdings.
func (d *Deduplicator) Len() (transactions, holdings int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transactions), len(d.holdings)
}
