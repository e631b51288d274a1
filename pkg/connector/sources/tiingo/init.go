package tiingo

import (
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/connector/registry"
)

// Metadata describes the Tiingo market data connector.
var Metadata = core.Metadata{
	Name:               "Tiingo Market Data",
	Category:           core.CategoryMarket,
	Version:            "1.0.0",
	Description:        "Market data for stocks, ETFs, and crypto",
	SupportedAssets:    []string{"stocks", "etfs", "crypto", "forex"},
	RequiresAPIKey:     true,
	RateLimitPerMinute: 500,
	DocumentationURL:   "https://api.tiingo.com/documentation/general/overview",
}

func init() {
	registry.Register("tiingo", Metadata, func(id string, settings map[string]interface{}) (core.Connector, error) {
		return NewTiingoConnector(id, settings)
	})
}
