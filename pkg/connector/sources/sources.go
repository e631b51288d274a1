// Package sources links every built-in connector into the registry.
// Importing it for side effects is enough:
//
//	import _ "github.com/ajitpratap0/wealthsync/pkg/connector/sources"
package sources

import (
	_ "github.com/ajitpratap0/wealthsync/pkg/connector/sources/csv"
	_ "github.com/ajitpratap0/wealthsync/pkg/connector/sources/exchange"
	_ "github.com/ajitpratap0/wealthsync/pkg/connector/sources/ibkr"
	_ "github.com/ajitpratap0/wealthsync/pkg/connector/sources/tiingo"
)
