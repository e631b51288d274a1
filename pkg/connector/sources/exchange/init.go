package exchange

import (
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/connector/registry"
)

// Metadata describes the exchange aggregator.
var Metadata = core.Metadata{
	Name:               "Crypto Exchanges",
	Category:           core.CategoryCrypto,
	Version:            "1.0.0",
	Description:        "Aggregates balances and trade history from one or more crypto exchange accounts",
	SupportedAssets:    []string{"crypto"},
	RequiresAPIKey:     true,
	RateLimitPerMinute: 60,
}

func init() {
	registry.Register("exchange", Metadata, func(id string, settings map[string]interface{}) (core.Connector, error) {
		return NewExchangeConnector(id, settings)
	})
}
