package csv

import (
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/connector/registry"
)

// Metadata describes the brokerage CSV connector.
var Metadata = core.Metadata{
	Name:            "Brokerage CSV Export",
	Category:        core.CategoryBroker,
	Version:         "1.0.0",
	Description:     "Imports holdings.csv and transactions.csv exported from a brokerage",
	SupportedAssets: []string{"stocks", "etfs", "funds", "bonds", "cash"},
}

func init() {
	registry.Register("csv", Metadata, func(id string, settings map[string]interface{}) (core.Connector, error) {
		return NewCSVSource(id, settings)
	})
}
