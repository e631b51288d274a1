package config_test

import (
	"fmt"

	"github.com/ajitpratap0/wealthsync/pkg/config"
)

// ExampleDefault shows the defaults applied before any file is read.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Workers: %d\n", cfg.Sync.Workers)
	fmt.Printf("Source timeout: %s\n", cfg.Sync.SourceTimeout)
	fmt.Printf("Cache TTL: %s\n", cfg.Cache.TTL)

	// Output:
	// Workers: 4
	// Source timeout: 5m0s
	// Cache TTL: 5m0s
}

// ExampleConfig_SourceSettings shows global defaults flowing into a
// source's settings map.
func ExampleConfig_SourceSettings() {
	cfg := config.Default()
	cfg.Sources["coinbase"] = config.SourceConfig{
		Type:     "exchange",
		Settings: map[string]interface{}{"max_retries": 5},
	}

	settings := cfg.SourceSettings("coinbase")
	fmt.Println(settings["max_retries"], settings["cache_ttl"])

	// Output:
	// 5 5m0s
}
