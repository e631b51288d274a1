package ibkr

import (
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/connector/registry"
)

// Metadata describes the Interactive Brokers connector.
var Metadata = core.Metadata{
	Name:               "Interactive Brokers",
	Category:           core.CategoryBroker,
	Version:            "1.0.0",
	Description:        "Connect to IBKR accounts for stocks, options, futures, and more",
	SupportedAssets:    []string{"stocks", "etfs", "options", "futures", "bonds", "forex"},
	RequiresAPIKey:     true,
	RateLimitPerMinute: 50,
	DocumentationURL:   "https://interactivebrokers.github.io/cpwebapi/",
}

func init() {
	registry.Register("ibkr", Metadata, func(id string, settings map[string]interface{}) (core.Connector, error) {
		return NewIBKRConnector(id, settings)
	})
}
